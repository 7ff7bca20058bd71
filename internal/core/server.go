package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/dbbackup/internal/crypto"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/strategy"
)

const serverColumns = `id, name, type, host, port, db_user, password, created_at, updated_at`

// Resolver returns the strategy for a server.
type Resolver interface {
	For(server model.Server) (strategy.Strategy, error)
}

type ServerService struct {
	db         DB
	keyring    *crypto.Keyring
	strategies Resolver
	jobs       *BackupJobService
}

func NewServerService(db DB, keyring *crypto.Keyring, strategies Resolver, jobs *BackupJobService) *ServerService {
	return &ServerService{db: db, keyring: keyring, strategies: strategies, jobs: jobs}
}

// normalizeServer applies the SQLite sentinels and validates the rest.
func normalizeServer(s *model.Server) error {
	if _, err := model.ParseDatabaseType(string(s.Type)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	if s.Type == model.DatabaseSQLite {
		s.User = model.SQLiteSentinelUser
		s.Port = model.SQLiteSentinelPort
		s.Password = ""
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", model.ErrInvalid, s.Port)
	}
	return nil
}

func (s *ServerService) Create(ctx context.Context, server *model.Server) error {
	if err := normalizeServer(server); err != nil {
		return err
	}
	sealed, err := s.keyring.Seal(server.Password)
	if err != nil {
		return fmt.Errorf("encrypt server password: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO servers (name, type, host, port, db_user, password)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		server.Name, server.Type, server.Host, server.Port, server.User, sealed,
	).Scan(&server.ID, &server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

func scanServer(row pgx.Row, keyring *crypto.Keyring) (*model.Server, error) {
	var srv model.Server
	var sealed string
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Type, &srv.Host, &srv.Port, &srv.User, &sealed, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
		return nil, err
	}
	password, err := keyring.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt password of server %d: %w", srv.ID, err)
	}
	srv.Password = password
	return &srv, nil
}

func (s *ServerService) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	srv, err := scanServer(s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id), s.keyring)
	if err != nil {
		return nil, notFound(err, "get server %d", id)
	}
	return srv, nil
}

func (s *ServerService) List(ctx context.Context, limit int, cursor string) ([]model.Server, bool, error) {
	query := `SELECT ` + serverColumns + ` FROM servers`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		after, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid cursor %q", cursor)
		}
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, after)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []model.Server
	for rows.Next() {
		srv, err := scanServer(rows, s.keyring)
		if err != nil {
			return nil, false, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate servers: %w", err)
	}

	hasMore := len(servers) > limit
	if hasMore {
		servers = servers[:limit]
	}
	return servers, hasMore, nil
}

func (s *ServerService) Update(ctx context.Context, server *model.Server) error {
	if err := normalizeServer(server); err != nil {
		return err
	}
	sealed, err := s.keyring.Seal(server.Password)
	if err != nil {
		return fmt.Errorf("encrypt server password: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`UPDATE servers SET name = $1, type = $2, host = $3, port = $4, db_user = $5, password = $6
		 WHERE id = $7 RETURNING created_at, updated_at`,
		server.Name, server.Type, server.Host, server.Port, server.User, sealed, server.ID,
	).Scan(&server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		return notFound(err, "update server %d", server.ID)
	}
	return nil
}

// Delete removes the server together with the jobs that target it and
// their schedules.
func (s *ServerService) Delete(ctx context.Context, id int64) error {
	if err := s.jobs.DeleteByTarget(ctx, model.TargetServer, id); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server %d: %w", id, err)
	}
	return affected(tag, "delete server %d", id)
}

// ListDatabases asks the live server for its databases.
func (s *ServerService) ListDatabases(ctx context.Context, id int64) ([]string, error) {
	srv, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	strat, err := s.strategies.For(*srv)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	names, err := strat.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases on %s: %w", srv.Name, err)
	}
	return names, nil
}
