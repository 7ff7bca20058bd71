package strategy

import (
	"context"
	"fmt"
)

func ping(ctx context.Context, deps Deps, driver, dsn string) error {
	db, err := deps.OpenDB(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s connection: %w", driver, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", driver, err)
	}
	return nil
}

func queryNames(ctx context.Context, deps Deps, driver, dsn, query string) ([]string, error) {
	db, err := deps.OpenDB(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s databases: %w", driver, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
