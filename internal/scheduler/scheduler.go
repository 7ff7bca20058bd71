// Package scheduler keeps Temporal schedules in step with backup job
// definitions. Every enabled job owns exactly one schedule named by its
// trigger name.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbbackup/internal/model"
)

// BackupJobWorkflow is the workflow type started by job schedules. It is
// referenced by name so the bridge does not depend on the workflow package.
const BackupJobWorkflow = "BackupJobWorkflow"

// ChangeKind is the kind of edit made to a backup job.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change describes one edit. Before is unset for Added, After is unset for
// Deleted.
type Change struct {
	Kind   ChangeKind
	Before model.BackupJob
	After  model.BackupJob
}

// Scheduler creates, updates and removes job schedules.
type Scheduler struct {
	schedules temporalclient.ScheduleClient
	taskQueue string
	logger    zerolog.Logger
}

func New(schedules temporalclient.ScheduleClient, taskQueue string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		taskQueue: taskQueue,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// ValidateCron reports whether expr is a standard 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Register creates or updates the schedule for job.
func (s *Scheduler) Register(ctx context.Context, job model.BackupJob) error {
	if err := ValidateCron(job.Cron); err != nil {
		return err
	}
	return s.Ensure(ctx, job.TriggerName(), job.Cron, BackupJobWorkflow, job.ID)
}

// Ensure upserts a cron schedule that starts workflow with args.
func (s *Scheduler) Ensure(ctx context.Context, id, expr, workflow string, args ...interface{}) error {
	spec := temporalclient.ScheduleSpec{CronExpressions: []string{expr}}
	action := &temporalclient.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  workflow,
		Args:      args,
		TaskQueue: s.taskQueue,
	}

	_, err := s.schedules.Create(ctx, temporalclient.ScheduleOptions{
		ID:     id,
		Spec:   spec,
		Action: action,
	})
	if err == nil {
		s.logger.Info().Str("schedule", id).Str("cron", expr).Msg("created schedule")
		return nil
	}
	if !errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return fmt.Errorf("create schedule %s: %w", id, err)
	}

	handle := s.schedules.GetHandle(ctx, id)
	err = handle.Update(ctx, temporalclient.ScheduleUpdateOptions{
		DoUpdate: func(in temporalclient.ScheduleUpdateInput) (*temporalclient.ScheduleUpdate, error) {
			sched := in.Description.Schedule
			sched.Spec = &spec
			sched.Action = action
			return &temporalclient.ScheduleUpdate{Schedule: &sched}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", id, err)
	}
	s.logger.Info().Str("schedule", id).Str("cron", expr).Msg("updated schedule")
	return nil
}

// Remove deletes a schedule. A schedule that does not exist is not an error.
func (s *Scheduler) Remove(ctx context.Context, triggerName string) error {
	err := s.schedules.GetHandle(ctx, triggerName).Delete(ctx)
	var notFound *serviceerror.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("delete schedule %s: %w", triggerName, err)
	}
	if err == nil {
		s.logger.Info().Str("schedule", triggerName).Msg("removed schedule")
	}
	return nil
}

// Apply reconciles the schedules touched by one job edit. Name, cron and
// enabled changes are handled independently.
func (s *Scheduler) Apply(ctx context.Context, c Change) error {
	switch c.Kind {
	case Added:
		if !c.After.Enabled {
			return nil
		}
		return s.Register(ctx, c.After)
	case Deleted:
		return s.Remove(ctx, c.Before.TriggerName())
	case Modified:
		return s.applyModified(ctx, c.Before, c.After)
	}
	return fmt.Errorf("unknown change kind %s", c.Kind)
}

func (s *Scheduler) applyModified(ctx context.Context, before, after model.BackupJob) error {
	register := false

	if before.TriggerName() != after.TriggerName() {
		if err := s.Remove(ctx, before.TriggerName()); err != nil {
			return err
		}
		register = true
	}
	if before.Cron != after.Cron {
		register = true
	}
	if before.Enabled != after.Enabled {
		register = true
	}

	if !register {
		return nil
	}
	if !after.Enabled {
		return s.Remove(ctx, after.TriggerName())
	}
	return s.Register(ctx, after)
}

// Sync registers every enabled job and removes the schedules of disabled
// ones. It keeps going past individual failures.
func (s *Scheduler) Sync(ctx context.Context, jobs []model.BackupJob) error {
	var errs []error
	for _, job := range jobs {
		var err error
		if job.Enabled {
			err = s.Register(ctx, job)
		} else {
			err = s.Remove(ctx, job.TriggerName())
		}
		if err != nil {
			s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to sync job schedule")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
