package strategy

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/edvin/dbbackup/internal/model"
)

const (
	sqlServerExt = "bak"
	// sqlServerStagingDir is on the database host, not on this machine.
	sqlServerStagingDir = "/var/opt/mssql/backup"
)

// blobFetcher copies the staged server-side backup file into dest.
type blobFetcher func(ctx context.Context, database, stagedPath, dest string) error

// SQLServer asks the engine to write a backup on its own filesystem, then
// pulls the bytes back through a temp table because the manager has no
// access to that filesystem. Restore is not supported.
type SQLServer struct {
	server model.Server
	root   string
	deps   Deps
	fetch  blobFetcher
}

func NewSQLServer(server model.Server, root string, deps Deps) Strategy {
	s := &SQLServer{server: server, root: root, deps: deps}
	s.fetch = s.fetchViaTempTable
	return s
}

func (s *SQLServer) Backup(ctx context.Context, database string) (*model.Backup, error) {
	at := s.deps.Now()
	path, err := ArtifactPath(s.root, s.server, database, at, sqlServerExt)
	if err != nil {
		return nil, err
	}

	staged := fmt.Sprintf("%s/dbbackup_%s.bak", sqlServerStagingDir, SanitizeDatabaseName(database))
	query := fmt.Sprintf(
		"BACKUP DATABASE %s TO DISK = N'%s' WITH NOFORMAT, INIT, NAME = N'%s-full', SKIP, NOREWIND, NOUNLOAD, STATS = 10",
		quoteIdent(database), quoteLiteral(staged), quoteLiteral(database))
	cmd := Command{Name: "sqlcmd", Args: []string{
		"-S", s.server.Host + "," + strconv.Itoa(s.server.Port),
		"-U", s.server.User,
		"-P", s.server.Password,
		"-b",
		"-Q", query,
	}}
	if err := s.deps.Runner.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("backup %s: %w", database, err)
	}

	s.deps.Logger.Debug().Str("database", database).Str("staged", staged).Msg("pulling staged backup file")
	if err := s.fetch(ctx, database, staged, path); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("pull backup of %s: %w", database, err)
	}
	return newBackup(path, at), nil
}

func (s *SQLServer) Restore(context.Context, string) error {
	return fmt.Errorf("sqlserver: %w", ErrRestoreNotSupported)
}

// fetchViaTempTable runs on a single connection since #temp tables are
// connection scoped.
func (s *SQLServer) fetchViaTempTable(ctx context.Context, database, stagedPath, dest string) (err error) {
	db, err := s.deps.OpenDB("sqlserver", s.dsn("master"))
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	table := "#dbbackup_" + strings.NewReplacer("-", "_", ".", "_", "]", "_").Replace(SanitizeDatabaseName(database))
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (BackupFile VARBINARY(MAX))", quoteIdent(table))); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	defer func() {
		// ctx may be cancelled already; the table still has to go.
		if _, dropErr := conn.ExecContext(context.WithoutCancel(ctx), fmt.Sprintf("DROP TABLE %s", quoteIdent(table))); dropErr != nil && err == nil {
			err = fmt.Errorf("drop temp table: %w", dropErr)
		}
	}()

	insert := fmt.Sprintf("INSERT INTO %s (BackupFile) SELECT BulkColumn FROM OPENROWSET(BULK N'%s', SINGLE_BLOB) AS BackupFile",
		quoteIdent(table), quoteLiteral(stagedPath))
	if _, err := conn.ExecContext(ctx, insert); err != nil {
		return fmt.Errorf("load staged file: %w", err)
	}

	var blob []byte
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT BackupFile FROM %s", quoteIdent(table))).Scan(&blob); err != nil {
		return fmt.Errorf("read staged file: %w", err)
	}
	if err := os.WriteFile(dest, blob, 0o640); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func (s *SQLServer) dsn(database string) string {
	q := url.Values{}
	q.Set("database", database)
	q.Set("dial timeout", "10")
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(s.server.User, s.server.Password),
		Host:     s.server.Host + ":" + strconv.Itoa(s.server.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (s *SQLServer) ListDatabases(ctx context.Context) ([]string, error) {
	return queryNames(ctx, s.deps, "sqlserver", s.dsn("master"), `SELECT name FROM master.dbo.sysdatabases ORDER BY name`)
}

func (s *SQLServer) Ping(ctx context.Context) error {
	return ping(ctx, s.deps, "sqlserver", s.dsn("master"))
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
