package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/storage"
)

const (
	backupColumns = `id, job_id, backup_date, path, size_bytes, created_at, updated_at`

	RestoreBackupWorkflow = "RestoreBackupWorkflow"
)

// BackupService is the backup catalog. Rows and storage objects are kept
// together: deleting a row deletes its object on a best-effort basis.
type BackupService struct {
	db        DB
	store     storage.Storage
	tc        temporalclient.Client
	taskQueue string
	logger    zerolog.Logger
}

func NewBackupService(db DB, store storage.Storage, tc temporalclient.Client, taskQueue string, logger zerolog.Logger) *BackupService {
	return &BackupService{
		db:        db,
		store:     store,
		tc:        tc,
		taskQueue: taskQueue,
		logger:    logger.With().Str("component", "catalog").Logger(),
	}
}

func scanBackup(row pgx.Row) (*model.Backup, error) {
	var b model.Backup
	if err := row.Scan(&b.ID, &b.JobID, &b.BackupDate, &b.Path, &b.Size, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BackupService) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get backup %d", id)
	}
	return b, nil
}

// List pages through backups, newest id first, optionally for one job.
func (s *BackupService) List(ctx context.Context, jobID int64, limit int, cursor string) ([]model.Backup, bool, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE true`
	args := []any{}
	argIdx := 1

	if jobID != 0 {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, jobID)
		argIdx++
	}
	if cursor != "" {
		before, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid cursor %q", cursor)
		}
		query += fmt.Sprintf(` AND id < $%d`, argIdx)
		args = append(args, before)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	backups, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(backups) > limit
	if hasMore {
		backups = backups[:limit]
	}
	return backups, hasMore, nil
}

func (s *BackupService) query(ctx context.Context, query string, args ...any) ([]model.Backup, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return backups, nil
}

// CreateMany inserts all rows in one transaction.
func (s *BackupService) CreateMany(ctx context.Context, backups []model.Backup) error {
	if len(backups) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range backups {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backups (job_id, backup_date, path, size_bytes) VALUES ($1, $2, $3, $4)`,
			b.JobID, b.BackupDate, b.Path, b.Size,
		); err != nil {
			return fmt.Errorf("insert backup %s: %w", b.Path, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit backups: %w", err)
	}
	return nil
}

// ListExpired returns the job's backups taken before cutoff.
func (s *BackupService) ListExpired(ctx context.Context, jobID int64, cutoff time.Time) ([]model.Backup, error) {
	return s.query(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE job_id = $1 AND backup_date < $2 ORDER BY backup_date`,
		jobID, cutoff)
}

// ListByJob returns every backup of the job, oldest first.
func (s *BackupService) ListByJob(ctx context.Context, jobID int64) ([]model.Backup, error) {
	return s.query(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE job_id = $1 ORDER BY id`, jobID)
}

// ListCompressible returns uncompressed backups taken before cutoff.
func (s *BackupService) ListCompressible(ctx context.Context, cutoff time.Time) ([]model.Backup, error) {
	return s.query(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE backup_date < $1 AND path NOT LIKE $2 ORDER BY backup_date`,
		cutoff, "%"+model.CompressedSuffix)
}

// Delete removes the row, then the stored object. A storage failure is
// logged but does not fail the delete.
func (s *BackupService) Delete(ctx context.Context, b model.Backup) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM backups WHERE id = $1`, b.ID)
	if err != nil {
		return fmt.Errorf("delete backup %d: %w", b.ID, err)
	}
	if err := affected(tag, "delete backup %d", b.ID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, b.Path); err != nil {
		s.logger.Warn().Err(err).Int64("backup_id", b.ID).Str("path", b.Path).Msg("failed to delete stored artifact")
	}
	return nil
}

// DeleteObjects removes stored objects without touching their rows.
// Failures are logged and skipped.
func (s *BackupService) DeleteObjects(ctx context.Context, backups []model.Backup) {
	for _, b := range backups {
		if err := s.store.Delete(ctx, b.Path); err != nil && !errors.Is(err, storage.ErrNotExist) {
			s.logger.Warn().Err(err).Int64("backup_id", b.ID).Str("path", b.Path).Msg("failed to delete stored artifact")
		}
	}
}

func (s *BackupService) DeleteByID(ctx context.Context, id int64) error {
	b, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.Delete(ctx, *b)
}

// UpdateArtifact points a row at a new stored object.
func (s *BackupService) UpdateArtifact(ctx context.Context, id int64, path string, size int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE backups SET path = $1, size_bytes = $2 WHERE id = $3`, path, size, id)
	if err != nil {
		return fmt.Errorf("update backup %d: %w", id, err)
	}
	return affected(tag, "update backup %d", id)
}

// RenamePath follows an out-of-band rename. It returns the rows changed.
func (s *BackupService) RenamePath(ctx context.Context, oldPath, newPath string) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE backups SET path = $1 WHERE path = $2`, newPath, oldPath)
	if err != nil {
		return 0, fmt.Errorf("rename backup path %s: %w", oldPath, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteRecordByPath drops rows for an object that vanished from storage.
// The storage itself is not touched.
func (s *BackupService) DeleteRecordByPath(ctx context.Context, path string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM backups WHERE path = $1`, path)
	if err != nil {
		return 0, fmt.Errorf("delete backup record %s: %w", path, err)
	}
	return tag.RowsAffected(), nil
}

// DownloadLink returns a presigned URL. storage.ErrLinkNotSupported means
// the caller should stream with Open instead.
func (s *BackupService) DownloadLink(ctx context.Context, b model.Backup, expiry time.Duration) (string, error) {
	return s.store.PresignedLink(ctx, b.Path, expiry)
}

func (s *BackupService) Open(ctx context.Context, b model.Backup) (io.ReadCloser, error) {
	rc, err := s.store.Open(ctx, b.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("open backup %d: %w", b.ID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("open backup %d: %w", b.ID, err)
	}
	return rc, nil
}

// Restore starts the restore workflow for a backup.
func (s *BackupService) Restore(ctx context.Context, id int64) (string, error) {
	b, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-%d", model.RestoreEntry(b.ID), time.Now().UnixNano()),
		TaskQueue: s.taskQueue,
	}, RestoreBackupWorkflow, b.ID)
	if err != nil {
		return "", fmt.Errorf("start %s: %w", RestoreBackupWorkflow, err)
	}
	return run.GetID(), nil
}
