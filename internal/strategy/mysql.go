package strategy

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/edvin/dbbackup/internal/model"
)

const mysqlExt = "sql"

// MySQL dumps with mysqldump; both tools accept the password inline.
type MySQL struct {
	server model.Server
	root   string
	deps   Deps
}

func NewMySQL(server model.Server, root string, deps Deps) Strategy {
	return &MySQL{server: server, root: root, deps: deps}
}

func (m *MySQL) connArgs() []string {
	return []string{
		"-h", m.server.Host,
		"-P", strconv.Itoa(m.server.Port),
		"-u", m.server.User,
		"-p" + m.server.Password,
	}
}

func (m *MySQL) Backup(ctx context.Context, database string) (*model.Backup, error) {
	at := m.deps.Now()
	path, err := ArtifactPath(m.root, m.server, database, at, mysqlExt)
	if err != nil {
		return nil, err
	}
	args := append(m.connArgs(), "--add-locks", "--lock-tables", "--result-file="+path, database)
	if err := m.deps.Runner.Run(ctx, Command{Name: "mysqldump", Args: args}); err != nil {
		return nil, fmt.Errorf("dump %s: %w", database, err)
	}
	return newBackup(path, at), nil
}

func (m *MySQL) Restore(ctx context.Context, localPath string) error {
	in, err := prepareRestore(localPath, m.root)
	if err != nil {
		return err
	}
	defer in.Close()

	dump, err := os.Open(in.Path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer dump.Close()

	args := append(m.connArgs(), in.Database)
	if err := m.deps.Runner.Run(ctx, Command{Name: "mysql", Args: args, Stdin: dump}); err != nil {
		return fmt.Errorf("restore %s: %w", in.Database, err)
	}
	return nil
}

func (m *MySQL) dsn() string {
	cfg := mysql.NewConfig()
	cfg.User = m.server.User
	cfg.Passwd = m.server.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.server.Host, strconv.Itoa(m.server.Port))
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

func (m *MySQL) ListDatabases(ctx context.Context) ([]string, error) {
	return queryNames(ctx, m.deps, "mysql", m.dsn(), `SHOW DATABASES`)
}

func (m *MySQL) Ping(ctx context.Context) error {
	return ping(ctx, m.deps, "mysql", m.dsn())
}
