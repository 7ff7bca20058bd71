// Package strategy dumps and restores databases by driving each engine's
// vendor tooling.
package strategy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/dbbackup/internal/model"
)

// TimestampFormat is the artifact timestamp layout. It sorts
// lexicographically in chronological order.
const TimestampFormat = "20060102150405"

var (
	ErrUnsupportedType     = errors.New("unsupported database type")
	ErrRestoreNotSupported = errors.New("restore is not supported for this database type")
	ErrNoDatabaseName      = errors.New("cannot recover database name from file name")
)

// Strategy backs up and restores the databases of one server.
type Strategy interface {
	// Backup dumps database into a new file under the registry root. The
	// returned Backup has the absolute local Path and BackupDate set.
	Backup(ctx context.Context, database string) (*model.Backup, error)
	// Restore loads a local artifact (plain or zipped) into the database
	// named by its file name.
	Restore(ctx context.Context, localPath string) error
	ListDatabases(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Deps are the side-effecting collaborators shared by all strategies.
type Deps struct {
	Runner Runner
	OpenDB func(driver, dsn string) (*sql.DB, error)
	Now    func() time.Time
	Logger zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.OpenDB == nil {
		d.OpenDB = sql.Open
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type Factory func(server model.Server, root string, deps Deps) Strategy

// Registry resolves a Strategy for a server by its database type.
type Registry struct {
	root      string
	deps      Deps
	factories map[model.DatabaseType]Factory
}

// NewRegistry returns an empty registry writing artifacts below root.
func NewRegistry(root string, deps Deps) (*Registry, error) {
	if root == "" {
		return nil, errors.New("strategy: backup root path is required")
	}
	return &Registry{
		root:      root,
		deps:      deps.withDefaults(),
		factories: make(map[model.DatabaseType]Factory),
	}, nil
}

// DefaultRegistry registers every supported engine.
func DefaultRegistry(root string, deps Deps) (*Registry, error) {
	r, err := NewRegistry(root, deps)
	if err != nil {
		return nil, err
	}
	r.Register(model.DatabasePostgres, NewPostgres)
	r.Register(model.DatabaseMySQL, NewMySQL)
	r.Register(model.DatabaseSQLServer, NewSQLServer)
	r.Register(model.DatabaseSQLite, NewSQLite)
	return r, nil
}

func (r *Registry) Register(t model.DatabaseType, f Factory) {
	r.factories[t] = f
}

func (r *Registry) Root() string { return r.root }

func (r *Registry) For(server model.Server) (Strategy, error) {
	f, ok := r.factories[server.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, server.Type)
	}
	return f(server, r.root, r.deps), nil
}

// ArtifactPath builds {root}/{type}/{server}/{database}_{timestamp}.{ext}
// and makes sure its directory exists.
func ArtifactPath(root string, server model.Server, database string, at time.Time, ext string) (string, error) {
	dir := filepath.Join(root, string(server.Type), SanitizeServerName(server.Name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.%s", SanitizeDatabaseName(database), at.Format(TimestampFormat), ext)
	return filepath.Join(dir, name), nil
}

// StorageKey is the storage-relative location of a local artifact.
func StorageKey(root, localPath string) (string, error) {
	rel, err := filepath.Rel(root, localPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("artifact %s is outside %s", localPath, root)
	}
	return filepath.ToSlash(rel), nil
}

func SanitizeServerName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

func SanitizeDatabaseName(name string) string {
	return strings.NewReplacer(" ", "-", "/", "-", "\\", "-").Replace(strings.TrimSpace(name))
}

// DatabaseNameFromFile recovers the database name from name_timestamp.ext,
// ignoring a trailing .zip.
func DatabaseNameFromFile(p string) (string, error) {
	base := filepath.Base(p)
	base = strings.TrimSuffix(base, model.CompressedSuffix)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return "", fmt.Errorf("%w: %s", ErrNoDatabaseName, filepath.Base(p))
	}
	return base[:idx], nil
}

func newBackup(path string, at time.Time) *model.Backup {
	return &model.Backup{Path: path, BackupDate: at}
}
