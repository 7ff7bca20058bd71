// Package core holds the catalog services behind the admin API, the agent
// protocol and the backup activities.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/dbbackup/internal/model"
)

// DB is the subset of *pgxpool.Pool the services use.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// notFound turns pgx.ErrNoRows into model.ErrNotFound.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		err = model.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// affected reports model.ErrNotFound when a write touched no row.
func affected(tag pgconn.CommandTag, format string, args ...any) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf(format+": %w", append(args, model.ErrNotFound)...)
	}
	return nil
}
