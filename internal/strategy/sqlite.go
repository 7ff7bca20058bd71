package strategy

import (
	"context"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/edvin/dbbackup/internal/model"
)

const (
	sqliteExt = "sqlitebak"
	// SQLiteAllTables is the single "database" a SQLite file exposes.
	SQLiteAllTables = "all tables"
)

// SQLite drives the sqlite3 shell. Host is the database file.
type SQLite struct {
	server model.Server
	root   string
	deps   Deps
}

func NewSQLite(server model.Server, root string, deps Deps) Strategy {
	return &SQLite{server: server, root: root, deps: deps}
}

func (s *SQLite) Backup(ctx context.Context, database string) (*model.Backup, error) {
	at := s.deps.Now()
	path, err := ArtifactPath(s.root, s.server, database, at, sqliteExt)
	if err != nil {
		return nil, err
	}
	cmd := Command{Name: "sqlite3", Args: []string{s.server.Host, dotCommand(".backup", path)}}
	if err := s.deps.Runner.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("backup %s: %w", s.server.Host, err)
	}
	return newBackup(path, at), nil
}

func (s *SQLite) Restore(ctx context.Context, localPath string) error {
	in, err := prepareRestore(localPath, s.root)
	if err != nil {
		return err
	}
	defer in.Close()

	cmd := Command{Name: "sqlite3", Args: []string{s.server.Host, dotCommand(".restore", in.Path)}}
	if err := s.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("restore %s: %w", s.server.Host, err)
	}
	return nil
}

func (s *SQLite) ListDatabases(context.Context) ([]string, error) {
	return []string{SQLiteAllTables}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return ping(ctx, s.deps, "sqlite", "file:"+s.server.Host+"?mode=ro")
}

func dotCommand(cmd, path string) string {
	return fmt.Sprintf("%s '%s'", cmd, strings.ReplaceAll(path, "'", "''"))
}
