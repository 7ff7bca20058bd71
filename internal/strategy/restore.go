package strategy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edvin/dbbackup/internal/archive"
)

// restoreInput is a raw dump ready for a restore tool.
type restoreInput struct {
	Path     string
	Database string
	cleanup  func()
}

func (r restoreInput) Close() { r.cleanup() }

// prepareRestore unpacks a zipped artifact into workDir when needed and
// recovers the database name. The artifact's own directory is never
// written to, as it may be the storage root. Close removes anything it
// extracted.
func prepareRestore(localPath, workDir string) (restoreInput, error) {
	database, err := DatabaseNameFromFile(localPath)
	if err != nil {
		return restoreInput{}, err
	}
	if !archive.IsCompressed(localPath) {
		return restoreInput{Path: localPath, Database: database, cleanup: func() {}}, nil
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return restoreInput{}, fmt.Errorf("create restore directory: %w", err)
	}
	raw, err := archive.ExtractFirst(localPath, workDir)
	if err != nil {
		return restoreInput{}, fmt.Errorf("decompress %s: %w", filepath.Base(localPath), err)
	}
	return restoreInput{
		Path:     raw,
		Database: database,
		cleanup:  func() { os.Remove(raw) },
	}, nil
}
