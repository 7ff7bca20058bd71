package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/dbbackup/internal/strategy"
)

// ErrNotImplemented is reported for restore entries. Agents cannot
// restore.
var ErrNotImplemented = errors.New("restore is not implemented on agents")

// Manager is the manager side of the polling protocol.
type Manager interface {
	NotifyPresence(ctx context.Context, databases []string) ([]Job, error)
	SubmitArtifact(ctx context.Context, jobName string, art Artifact) error
	SubmitFailure(ctx context.Context, jobName string, cause error) error
}

// maxPendingUploads caps the artifacts kept for another upload attempt.
// The oldest is dropped first.
const maxPendingUploads = 8

type pendingUpload struct {
	job string
	art Artifact
}

// Heartbeat polls the manager on a fixed interval and runs the work it
// hands out. Artifacts whose upload failed before the manager answered are
// kept on disk and sent again on the next poll.
type Heartbeat struct {
	manager  Manager
	strategy strategy.Strategy
	interval time.Duration
	logger   zerolog.Logger
	pending  []pendingUpload
}

func NewHeartbeat(manager Manager, st strategy.Strategy, interval time.Duration, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		manager:  manager,
		strategy: st,
		interval: interval,
		logger:   logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Serve implements suture.Service.
func (h *Heartbeat) Serve(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := h.Tick(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error().Err(err).Msg("heartbeat failed")
		}
		timer.Reset(h.interval)
	}
}

func (h *Heartbeat) String() string { return "heartbeat" }

// Tick runs one poll: list databases, notify the manager and execute every
// returned job in order.
func (h *Heartbeat) Tick(ctx context.Context) error {
	databases, err := h.strategy.ListDatabases(ctx)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	jobs, err := h.manager.NotifyPresence(ctx, databases)
	if err != nil {
		return err
	}
	h.retryPending(ctx)

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !job.Backup {
			h.logger.Warn().Str("job", job.Name).Msg("restore requested but not supported by agent")
			h.submitFailure(ctx, job.Name, ErrNotImplemented)
			continue
		}
		h.runBackup(ctx, job)
	}
	return nil
}

func (h *Heartbeat) runBackup(ctx context.Context, job Job) {
	databases := job.Databases()
	if len(databases) == 0 {
		h.submitFailure(ctx, job.Name, errors.New("job has no databases"))
		return
	}

	for _, database := range databases {
		log := h.logger.With().Str("job", job.Name).Str("database", database).Logger()

		backup, err := h.strategy.Backup(ctx, database)
		if err != nil {
			log.Error().Err(err).Msg("backup failed")
			h.submitFailure(ctx, job.Name, fmt.Errorf("backup %s: %w", database, err))
			continue
		}

		h.upload(ctx, job.Name, Artifact{Path: backup.Path, LastWriteTime: backup.BackupDate})
	}
}

// upload sends art and removes the local file unless the manager could not
// be reached, in which case it is queued for the next poll.
func (h *Heartbeat) upload(ctx context.Context, jobName string, art Artifact) {
	log := h.logger.With().Str("job", jobName).Str("file", art.Path).Logger()

	err := h.manager.SubmitArtifact(ctx, jobName, art)
	if err != nil && Retryable(err) {
		log.Warn().Err(err).Msg("artifact upload failed, keeping it for the next poll")
		h.keep(pendingUpload{job: jobName, art: art})
		return
	}
	removeArtifact(log, art.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to submit artifact")
		return
	}
	log.Info().Msg("artifact submitted")
}

func (h *Heartbeat) keep(p pendingUpload) {
	h.pending = append(h.pending, p)
	for len(h.pending) > maxPendingUploads {
		dropped := h.pending[0]
		h.pending = h.pending[1:]
		log := h.logger.With().Str("job", dropped.job).Str("file", dropped.art.Path).Logger()
		log.Error().Msg("too many pending uploads, dropping oldest artifact")
		removeArtifact(log, dropped.art.Path)
	}
}

func (h *Heartbeat) retryPending(ctx context.Context) {
	pending := h.pending
	h.pending = nil
	for _, p := range pending {
		if ctx.Err() != nil {
			h.pending = append(h.pending, p)
			continue
		}
		h.upload(ctx, p.job, p.art)
	}
}

func removeArtifact(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to remove local artifact")
	}
}

func (h *Heartbeat) submitFailure(ctx context.Context, jobName string, cause error) {
	if err := h.manager.SubmitFailure(ctx, jobName, cause); err != nil {
		h.logger.Error().Err(err).Str("job", jobName).Msg("failed to report job failure")
	}
}
