// Package activity holds the Temporal activities of the backup lifecycle.
package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/storage"
	"github.com/edvin/dbbackup/internal/strategy"
)

// JobStore loads jobs with their resolved target.
type JobStore interface {
	GetWithTarget(ctx context.Context, id int64) (*model.BackupJob, error)
}

// AgentQueue hands work to polling agents.
type AgentQueue interface {
	Enqueue(ctx context.Context, agentID int64, entry string) error
}

// Catalog is the backup catalog as seen by the lifecycle activities.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*model.Backup, error)
	CreateMany(ctx context.Context, backups []model.Backup) error
	ListExpired(ctx context.Context, jobID int64, cutoff time.Time) ([]model.Backup, error)
	ListCompressible(ctx context.Context, cutoff time.Time) ([]model.Backup, error)
	Delete(ctx context.Context, b model.Backup) error
	UpdateArtifact(ctx context.Context, id int64, path string, size int64) error
}

// Strategies resolves the engine for a server.
type Strategies interface {
	For(server model.Server) (strategy.Strategy, error)
	Root() string
}

// Backup contains the backup lifecycle activities.
type Backup struct {
	jobs       JobStore
	agents     AgentQueue
	catalog    Catalog
	store      storage.Storage
	strategies Strategies
	tempDir    string
	logger     zerolog.Logger
	now        func() time.Time
}

func NewBackup(jobs JobStore, agents AgentQueue, catalog Catalog, store storage.Storage, strategies Strategies, tempDir string, logger zerolog.Logger) *Backup {
	return &Backup{
		jobs:       jobs,
		agents:     agents,
		catalog:    catalog,
		store:      store,
		strategies: strategies,
		tempDir:    tempDir,
		logger:     logger.With().Str("component", "lifecycle").Logger(),
		now:        time.Now,
	}
}

// DatabaseFailure is one database that could not be backed up.
type DatabaseFailure struct {
	Database string
	Err      error
}

// BatchError reports the databases of a run that failed. Databases that
// succeeded in the same run are already cataloged.
type BatchError struct {
	JobID    int64
	Failures []DatabaseFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Database, f.Err))
	}
	sort.Strings(parts)
	return fmt.Sprintf("backup job %d: %d database(s) failed: %s", e.JobID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// RunResult summarizes one run of a job.
type RunResult struct {
	Queued    bool     `json:"queued"`
	Succeeded []string `json:"succeeded,omitempty"`
}

// loadJob resolves the job for execution. Anything that a retry cannot fix
// becomes a non-retryable error.
func (a *Backup) loadJob(ctx context.Context, jobID int64) (*model.BackupJob, error) {
	job, err := a.jobs.GetWithTarget(ctx, jobID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup job %d not found", jobID), "JobNotFound", err)
	}
	if err != nil {
		return nil, err
	}
	if job.Target == nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("backup job %d: %s target %d does not exist", jobID, job.TargetKind, job.TargetID), "TargetNotFound", model.ErrNoTarget)
	}
	return job, nil
}

// RunBackupJob backs up every database of a job. Agent targets only get the
// job queued; the agent reports artifacts later.
func (a *Backup) RunBackupJob(ctx context.Context, jobID int64) (*RunResult, error) {
	job, err := a.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup job %d is disabled", jobID), "JobDisabled", model.ErrJobDisabled)
	}

	switch target := job.Target.(type) {
	case model.AgentTarget:
		if err := a.agents.Enqueue(ctx, target.Agent.ID, job.TriggerName()); err != nil {
			return nil, err
		}
		a.logger.Info().Int64("job_id", jobID).Str("agent", target.Agent.Name).Msg("queued backup for agent")
		return &RunResult{Queued: true}, nil
	case model.ServerTarget:
		return a.backupServer(ctx, job, target.Server)
	}
	return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup job %d has unknown target", jobID), "TargetNotFound", nil)
}

func (a *Backup) backupServer(ctx context.Context, job *model.BackupJob, server model.Server) (*RunResult, error) {
	strat, err := a.strategies.For(server)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UnsupportedType", err)
	}
	engine := string(server.Type)
	logger := a.logger.With().Int64("job_id", job.ID).Str("server", server.Name).Logger()

	var (
		staged   []model.Backup
		failures []DatabaseFailure
		result   RunResult
	)
	for _, db := range job.Databases() {
		heartbeat(ctx, db)
		start := time.Now()

		b, err := a.backupOne(ctx, strat, db)
		metrics.BackupDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.BackupsTotal.WithLabelValues(engine, "failure").Inc()
			logger.Error().Err(err).Str("database", db).Msg("database backup failed")
			failures = append(failures, DatabaseFailure{Database: db, Err: err})
			continue
		}
		metrics.BackupsTotal.WithLabelValues(engine, "success").Inc()
		metrics.BackupBytes.WithLabelValues(engine).Add(float64(b.Size))

		b.JobID = job.ID
		staged = append(staged, *b)
		result.Succeeded = append(result.Succeeded, db)
		logger.Info().Str("database", db).Str("path", b.Path).Int64("size", b.Size).Msg("database backed up")
	}

	if err := a.catalog.CreateMany(ctx, staged); err != nil {
		return nil, fmt.Errorf("catalog backups of job %d: %w", job.ID, err)
	}
	if len(failures) > 0 {
		return &result, &BatchError{JobID: job.ID, Failures: failures}
	}
	return &result, nil
}

// backupOne dumps one database and moves the artifact into storage. The
// returned Backup carries the storage path.
func (a *Backup) backupOne(ctx context.Context, strat strategy.Strategy, db string) (*model.Backup, error) {
	b, err := strat.Backup(ctx, db)
	if err != nil {
		return nil, err
	}
	local := b.Path

	info, err := os.Stat(local)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	key, err := strategy.StorageKey(a.strategies.Root(), local)
	if err != nil {
		os.Remove(local)
		return nil, err
	}
	if err := a.store.MoveTo(ctx, local, key); err != nil {
		os.Remove(local)
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	b.Path = key
	b.Size = info.Size()
	return b, nil
}

func heartbeat(ctx context.Context, details ...interface{}) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}
