package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// CompressedSuffix marks an artifact packed into a single-entry archive.
const CompressedSuffix = ".zip"

// Backup is one completed artifact. Path is relative to the storage root.
type Backup struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"job_id"`
	BackupDate time.Time `json:"backup_date"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (b Backup) Compressed() bool {
	return strings.HasSuffix(b.Path, CompressedSuffix)
}

func (b Backup) FileName() string {
	return path.Base(strings.ReplaceAll(b.Path, "\\", "/"))
}

func (b Backup) SizeString() string {
	return FormatSize(b.Size)
}

var sizeSuffixes = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count for display using powers of 1024.
func FormatSize(bytes int64) string {
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(sizeSuffixes)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, sizeSuffixes[i])
}
