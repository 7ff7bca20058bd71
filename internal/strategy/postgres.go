package strategy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/edvin/dbbackup/internal/model"
)

const postgresExt = "pgbbak"

// Postgres dumps with pg_dump in custom format so pg_restore can load it.
// The password travels in PGPASSWORD because the tools only prompt for it.
type Postgres struct {
	server model.Server
	root   string
	deps   Deps
}

func NewPostgres(server model.Server, root string, deps Deps) Strategy {
	return &Postgres{server: server, root: root, deps: deps}
}

func (p *Postgres) connArgs() []string {
	return []string{
		"-h", p.server.Host,
		"-p", strconv.Itoa(p.server.Port),
		"-U", p.server.User,
	}
}

func (p *Postgres) env() []string {
	return []string{"PGPASSWORD=" + p.server.Password}
}

func (p *Postgres) Backup(ctx context.Context, database string) (*model.Backup, error) {
	at := p.deps.Now()
	path, err := ArtifactPath(p.root, p.server, database, at, postgresExt)
	if err != nil {
		return nil, err
	}
	args := append(p.connArgs(), "-d", database, "-F", "c", "-f", path)
	if err := p.deps.Runner.Run(ctx, Command{Name: "pg_dump", Args: args, Env: p.env()}); err != nil {
		return nil, fmt.Errorf("dump %s: %w", database, err)
	}
	return newBackup(path, at), nil
}

func (p *Postgres) Restore(ctx context.Context, localPath string) error {
	in, err := prepareRestore(localPath, p.root)
	if err != nil {
		return err
	}
	defer in.Close()

	args := append(p.connArgs(), "-d", in.Database, "-c", "--if-exists", in.Path)
	if err := p.deps.Runner.Run(ctx, Command{Name: "pg_restore", Args: args, Env: p.env()}); err != nil {
		return fmt.Errorf("restore %s: %w", in.Database, err)
	}
	return nil
}

func (p *Postgres) dsn() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.server.User, p.server.Password),
		Host:     net.JoinHostPort(p.server.Host, strconv.Itoa(p.server.Port)),
		Path:     "/postgres",
		RawQuery: "sslmode=prefer&connect_timeout=10",
	}
	return u.String()
}

func (p *Postgres) ListDatabases(ctx context.Context) ([]string, error) {
	return queryNames(ctx, p.deps, "pgx", p.dsn(),
		`SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return ping(ctx, p.deps, "pgx", p.dsn())
}
