// Package storage moves finished artifacts into the configured storage tier
// and serves them back. Callers never branch on the backend after New.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/edvin/dbbackup/internal/config"
)

type Type string

const (
	TypeLocal    Type = "local"
	TypeS3       Type = "s3"
	TypeAmazonS3 Type = "amazons3"
	TypeAzure    Type = "azure"
)

var (
	ErrNotExist         = errors.New("storage object does not exist")
	ErrLinkNotSupported = errors.New("presigned links are not supported by this backend")
)

// Storage is implemented by every backend. Paths are storage-relative and
// use forward slashes.
type Storage interface {
	// MoveTo uploads localPath to dest and removes the local file.
	MoveTo(ctx context.Context, localPath, dest string) error
	Delete(ctx context.Context, p string) error
	ListFiles(ctx context.Context, prefix string) ([]string, error)
	// Fetch makes the object available as a local file. release removes
	// any temporary copy and must always be called.
	Fetch(ctx context.Context, p string) (localPath string, release func(), err error)
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	Exists(ctx context.Context, p string) (bool, error)
	Size(ctx context.Context, p string) (int64, error)
	PresignedLink(ctx context.Context, p string, expiry time.Duration) (string, error)
}

// New builds the backend selected by cfg.Type. tempDir receives downloaded
// copies for remote backends.
func New(ctx context.Context, cfg config.StorageConfig, tempDir string) (Storage, error) {
	switch Type(strings.ToLower(cfg.Type)) {
	case TypeLocal:
		return NewLocal(cfg.LocalPath)
	case TypeS3:
		return NewS3(S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: true,
			TempDir:   tempDir,
		})
	case TypeAmazonS3:
		return NewS3(S3Options{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			TempDir:   tempDir,
		})
	case TypeAzure:
		return NewAzure(AzureOptions{
			AccountName: cfg.AzureAccountName,
			AccountKey:  cfg.AzureAccountKey,
			Container:   cfg.AzureContainer,
			ServiceURL:  cfg.AzureServiceURL,
			TempDir:     tempDir,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// Key normalizes a storage-relative path.
func Key(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// downloadTemp copies r into a private directory under dir, keeping the
// object's base name, and returns a release func that removes it.
func downloadTemp(dir, name string, r io.Reader) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.MkdirTemp(dir, "fetch-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	release := func() { os.RemoveAll(tmp) }

	local := filepath.Join(tmp, path.Base(name))
	f, err := os.Create(local)
	if err != nil {
		release()
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("download %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return local, release, nil
}
