package activity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/dbbackup/internal/archive"
	"github.com/edvin/dbbackup/internal/metrics"
	"github.com/edvin/dbbackup/internal/model"
)

const compressConcurrency = 4

// CompressResult counts the outcome of one compression pass.
type CompressResult struct {
	Compressed int `json:"compressed"`
	Failed     int `json:"failed"`
}

// CompressFileIfNeeded zips every uncompressed backup older than threshold.
// For each one the archive is uploaded and cataloged before the original is
// deleted, so a crash never leaves a row without an object.
func (a *Backup) CompressFileIfNeeded(ctx context.Context, threshold time.Duration) (*CompressResult, error) {
	candidates, err := a.catalog.ListCompressible(ctx, a.now().Add(-threshold))
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result CompressResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compressConcurrency)
	for _, b := range candidates {
		g.Go(func() error {
			err := a.compressOne(gctx, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				metrics.Compressed.WithLabelValues("failure").Inc()
				a.logger.Error().Err(err).Int64("backup_id", b.ID).Str("path", b.Path).Msg("compression failed")
				return nil
			}
			result.Compressed++
			metrics.Compressed.WithLabelValues("success").Inc()
			heartbeat(ctx, result.Compressed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return &result, err
	}
	return &result, nil
}

func (a *Backup) compressOne(ctx context.Context, b model.Backup) error {
	local, release, err := a.store.Fetch(ctx, b.Path)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer release()

	if err := os.MkdirAll(a.tempDir, 0o750); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.MkdirTemp(a.tempDir, "compress-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	zipped := filepath.Join(tmp, b.FileName()+model.CompressedSuffix)
	if err := archive.CompressAs(local, zipped, b.FileName()); err != nil {
		return err
	}
	info, err := os.Stat(zipped)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	dest := b.Path + model.CompressedSuffix
	if err := a.store.MoveTo(ctx, zipped, dest); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	if err := a.catalog.UpdateArtifact(ctx, b.ID, dest, info.Size()); err != nil {
		_ = a.store.Delete(context.WithoutCancel(ctx), dest)
		return fmt.Errorf("catalog archive: %w", err)
	}
	if err := a.store.Delete(ctx, b.Path); err != nil {
		a.logger.Warn().Err(err).Str("path", b.Path).Msg("failed to delete original after compression")
	}
	return nil
}
