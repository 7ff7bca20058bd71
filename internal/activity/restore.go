package activity

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/strategy"
)

// RestoreBackup loads a cataloged artifact back into its source. Agent
// targets get a restore entry queued instead.
func (a *Backup) RestoreBackup(ctx context.Context, backupID int64) error {
	b, err := a.catalog.GetByID(ctx, backupID)
	if errors.Is(err, model.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup %d not found", backupID), "BackupNotFound", err)
	}
	if err != nil {
		return err
	}
	job, err := a.loadJob(ctx, b.JobID)
	if err != nil {
		return err
	}

	switch target := job.Target.(type) {
	case model.AgentTarget:
		return a.agents.Enqueue(ctx, target.Agent.ID, model.RestoreEntry(b.ID))
	case model.ServerTarget:
		strat, err := a.strategies.For(target.Server)
		if err != nil {
			return temporal.NewNonRetryableApplicationError(err.Error(), "UnsupportedType", err)
		}
		local, release, err := a.store.Fetch(ctx, b.Path)
		if err != nil {
			return fmt.Errorf("fetch backup %d: %w", b.ID, err)
		}
		defer release()

		heartbeat(ctx, b.ID)
		if err := strat.Restore(ctx, local); err != nil {
			if errors.Is(err, strategy.ErrRestoreNotSupported) || errors.Is(err, strategy.ErrNoDatabaseName) {
				return temporal.NewNonRetryableApplicationError(err.Error(), "RestoreNotSupported", err)
			}
			return fmt.Errorf("restore backup %d: %w", b.ID, err)
		}
		a.logger.Info().Int64("backup_id", b.ID).Str("server", target.Server.Name).Msg("backup restored")
		return nil
	}
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("backup %d has unknown target", backupID), "TargetNotFound", nil)
}
