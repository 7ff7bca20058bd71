package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbbackup/internal/crypto"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/scheduler"
)

const backupJobColumns = `id, name, cron, enabled, retention_seconds, database_names, backup_format, target_kind, target_id, created_at, updated_at`

// Bridge receives every job edit so schedules follow the catalog.
type Bridge interface {
	Apply(ctx context.Context, c scheduler.Change) error
}

// ArtifactCleaner drops the stored objects behind a job's backups. The
// backup rows themselves go with the job through ON DELETE CASCADE.
type ArtifactCleaner interface {
	ListByJob(ctx context.Context, jobID int64) ([]model.Backup, error)
	DeleteObjects(ctx context.Context, backups []model.Backup)
}

type BackupJobService struct {
	db        DB
	keyring   *crypto.Keyring
	tc        temporalclient.Client
	bridge    Bridge
	artifacts ArtifactCleaner
	taskQueue string
	logger    zerolog.Logger
}

func NewBackupJobService(db DB, keyring *crypto.Keyring, tc temporalclient.Client, bridge Bridge, artifacts ArtifactCleaner, taskQueue string, logger zerolog.Logger) *BackupJobService {
	return &BackupJobService{
		db:        db,
		keyring:   keyring,
		tc:        tc,
		bridge:    bridge,
		artifacts: artifacts,
		taskQueue: taskQueue,
		logger:    logger.With().Str("component", "backup-jobs").Logger(),
	}
}

func scanBackupJob(row pgx.Row) (*model.BackupJob, error) {
	var j model.BackupJob
	var retention int64
	if err := row.Scan(&j.ID, &j.Name, &j.Cron, &j.Enabled, &retention, &j.DatabaseNames,
		&j.BackupFormat, &j.TargetKind, &j.TargetID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Retention = time.Duration(retention) * time.Second
	return &j, nil
}

func validateJob(job *model.BackupJob) error {
	if err := scheduler.ValidateCron(job.Cron); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	if len(job.Databases()) == 0 {
		return fmt.Errorf("%w: at least one database name is required", model.ErrInvalid)
	}
	if job.Retention < 0 {
		return fmt.Errorf("%w: retention must not be negative", model.ErrInvalid)
	}
	switch job.TargetKind {
	case model.TargetServer, model.TargetAgent:
		return nil
	}
	return fmt.Errorf("%w: unknown target kind %q", model.ErrInvalid, job.TargetKind)
}

// Create stores the job and registers its schedule when enabled. The
// target must exist.
func (s *BackupJobService) Create(ctx context.Context, job *model.BackupJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	if err := s.checkTarget(ctx, job.TargetKind, job.TargetID); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO backup_jobs (name, cron, enabled, retention_seconds, database_names, backup_format, target_kind, target_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		job.Name, job.Cron, job.Enabled, int64(job.Retention/time.Second), job.DatabaseNames,
		job.BackupFormat, job.TargetKind, job.TargetID,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert backup job: %w", err)
	}
	if err := s.bridge.Apply(ctx, scheduler.Change{Kind: scheduler.Added, After: *job}); err != nil {
		return fmt.Errorf("schedule backup job %d: %w", job.ID, err)
	}
	return nil
}

func (s *BackupJobService) checkTarget(ctx context.Context, kind model.TargetKind, id int64) error {
	table := "servers"
	if kind == model.TargetAgent {
		table = "agents"
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s target %d: %w", kind, id, err)
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", kind, id, model.ErrNoTarget)
	}
	return nil
}

func (s *BackupJobService) GetByID(ctx context.Context, id int64) (*model.BackupJob, error) {
	job, err := scanBackupJob(s.db.QueryRow(ctx, `SELECT `+backupJobColumns+` FROM backup_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get backup job %d", id)
	}
	return job, nil
}

// GetWithTarget loads the job and resolves its target. Target stays nil
// when the reference is orphaned.
func (s *BackupJobService) GetWithTarget(ctx context.Context, id int64) (*model.BackupJob, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.TargetKind {
	case model.TargetServer:
		srv, err := scanServer(s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, job.TargetID), s.keyring)
		if err == nil {
			job.Target = model.ServerTarget{Server: *srv}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve server of job %d: %w", id, err)
		}
	case model.TargetAgent:
		agent, err := scanAgent(s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, job.TargetID))
		if err == nil {
			job.Target = model.AgentTarget{Agent: *agent}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve agent of job %d: %w", id, err)
		}
	}
	return job, nil
}

func (s *BackupJobService) List(ctx context.Context, limit int, cursor string) ([]model.BackupJob, bool, error) {
	query := `SELECT ` + backupJobColumns + ` FROM backup_jobs`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		after, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid cursor %q", cursor)
		}
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, after)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	jobs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	return jobs, hasMore, nil
}

// ListAll returns every job. The worker feeds it to the scheduler at startup.
func (s *BackupJobService) ListAll(ctx context.Context) ([]model.BackupJob, error) {
	return s.query(ctx, `SELECT `+backupJobColumns+` FROM backup_jobs ORDER BY id`)
}

func (s *BackupJobService) query(ctx context.Context, query string, args ...any) ([]model.BackupJob, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.BackupJob
	for rows.Next() {
		job, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup jobs: %w", err)
	}
	return jobs, nil
}

// Update replaces the job definition and hands the before/after pair to
// the scheduler bridge.
func (s *BackupJobService) Update(ctx context.Context, job *model.BackupJob) error {
	if err := validateJob(job); err != nil {
		return err
	}
	before, err := s.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if before.TargetKind != job.TargetKind || before.TargetID != job.TargetID {
		if err := s.checkTarget(ctx, job.TargetKind, job.TargetID); err != nil {
			return err
		}
	}

	err = s.db.QueryRow(ctx,
		`UPDATE backup_jobs SET name = $1, cron = $2, enabled = $3, retention_seconds = $4,
		 database_names = $5, backup_format = $6, target_kind = $7, target_id = $8
		 WHERE id = $9 RETURNING created_at, updated_at`,
		job.Name, job.Cron, job.Enabled, int64(job.Retention/time.Second), job.DatabaseNames,
		job.BackupFormat, job.TargetKind, job.TargetID, job.ID,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return notFound(err, "update backup job %d", job.ID)
	}

	if err := s.bridge.Apply(ctx, scheduler.Change{Kind: scheduler.Modified, Before: *before, After: *job}); err != nil {
		return fmt.Errorf("reschedule backup job %d: %w", job.ID, err)
	}
	return nil
}

// SetEnabled toggles a job without touching the rest of its definition.
func (s *BackupJobService) SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupJob, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled
	if err := s.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes the job, its backups rows (cascade) and its schedule.
func (s *BackupJobService) Delete(ctx context.Context, id int64) error {
	before, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	backups, err := s.artifacts.ListByJob(ctx, id)
	if err != nil {
		return err
	}
	// Objects before rows, so no object outlives its catalog entry.
	s.artifacts.DeleteObjects(ctx, backups)
	if _, err := s.db.Exec(ctx, `DELETE FROM backup_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete backup job %d: %w", id, err)
	}
	if err := s.bridge.Apply(ctx, scheduler.Change{Kind: scheduler.Deleted, Before: *before}); err != nil {
		return fmt.Errorf("unschedule backup job %d: %w", id, err)
	}
	return nil
}

// DeleteByTarget removes every job pointing at a server or agent.
func (s *BackupJobService) DeleteByTarget(ctx context.Context, kind model.TargetKind, targetID int64) error {
	jobs, err := s.query(ctx,
		`SELECT `+backupJobColumns+` FROM backup_jobs WHERE target_kind = $1 AND target_id = $2 ORDER BY id`,
		kind, targetID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.Delete(ctx, job.ID); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the job's workflow immediately, outside its schedule.
func (s *BackupJobService) Run(ctx context.Context, id int64) (string, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !job.Enabled {
		return "", fmt.Errorf("run backup job %d: %w", id, model.ErrJobDisabled)
	}
	workflowID := fmt.Sprintf("%s-manual-%d", job.TriggerName(), time.Now().UnixNano())
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, scheduler.BackupJobWorkflow, job.ID)
	if err != nil {
		return "", fmt.Errorf("start %s: %w", scheduler.BackupJobWorkflow, err)
	}
	s.logger.Info().Int64("job_id", id).Str("workflow_id", run.GetID()).Msg("started manual backup")
	return run.GetID(), nil
}
