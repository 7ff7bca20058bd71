package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/model"
)

// CleanBackupRep deletes the job's backups older than its retention and
// returns how many were removed. A zero retention keeps everything.
func (a *Backup) CleanBackupRep(ctx context.Context, jobID int64) (int, error) {
	job, err := a.jobs.GetWithTarget(ctx, jobID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if job.Retention <= 0 {
		return 0, nil
	}

	cutoff := a.now().Add(-job.Retention)
	expired, err := a.catalog.ListExpired(ctx, jobID, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, b := range expired {
		if err := a.catalog.Delete(ctx, b); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("backup %d: %w", b.ID, err))
			continue
		}
		deleted++
		metrics.RetentionDeleted.Inc()
	}
	if deleted > 0 {
		a.logger.Info().Int64("job_id", jobID).Int("deleted", deleted).Time("cutoff", cutoff).Msg("retention sweep")
	}
	return deleted, errors.Join(errs...)
}
