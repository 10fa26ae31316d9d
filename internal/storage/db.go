package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned for lookups that match no row, including rows the
// caller is not allowed to see.
var ErrNotFound = errors.New("not found")

const (
	// The store only serves check bookkeeping; target-database traffic goes
	// through the executor's own per-run handles, so the pool stays small.
	poolMaxConns    = 8
	poolMaxIdleTime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
)

type Store struct {
	Pool *pgxpool.Pool
}

// NewStore connects to the application database and verifies the connection
// before handing the pool out.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := poolConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// poolConfig parses the DSN and applies this service's pool sizing.
func poolConfig(dsn string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = poolMaxConns
	cfg.MaxConnIdleTime = poolMaxIdleTime
	return cfg, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
