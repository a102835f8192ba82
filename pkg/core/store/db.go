// Package store holds the database connection pool constructor. Unlike the
// original singleton, NewPool is called once per process by cmd/ and the
// resulting *pgxpool.Pool is passed explicitly to persistence.New and
// anything else that needs it, per §9's "each capability is a
// constructor-injected dependency" redesign guidance.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses databaseURL and opens a connection pool, setting the
// session timezone to UTC on every new connection per §6's "Relational
// store: ... UTC timezone set per connection."
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("store: DATABASE_URL not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parsing database config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIME ZONE 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: opening pool: %w", err)
	}
	return pool, nil
}
