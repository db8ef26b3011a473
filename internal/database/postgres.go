// Package database is the operational store. All access goes through
// sqlx over the pgx stdlib driver; advisory locks coordinate singleton
// loops across replicas.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// Store wraps the connection pool and exposes entity-scoped methods.
type Store struct {
	db *sqlx.DB
}

// Advisory lock ids for singleton loops. Keys are arbitrary but must be
// stable across releases so replicas agree on them.
const (
	LockEventFlush      int64 = 7001
	LockSIEMExport      int64 = 7002
	LockEventHarvest    int64 = 7003
	LockStuckJobReclaim int64 = 7004
	LockJobCleanup      int64 = 7005
	LockMonitoringSync  int64 = 7006
	LockLabelSync       int64 = 7007
	LockM365Harvest     int64 = 7008
	LockScheduler       int64 = 7009
	LockCompaction      int64 = 7010
	LockPartitionMaint  int64 = 7011
)

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, url string, poolSize, maxOverflow int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(poolSize + maxOverflow)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(30 * time.Minute)

	slog.Info("Postgres connected", "pool_size", poolSize, "max_overflow", maxOverflow)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool. Production code goes through
// Connect; this is for callers that manage the pool themselves.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the underlying pool for packages that run their own SQL
// (queue, catalog cursors).
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithAdvisoryLock runs fn while holding a session advisory lock, or
// returns (false, nil) without running fn when another replica holds it.
// The lock is taken on a dedicated connection and released on every exit
// path, including panics.
func (s *Store) WithAdvisoryLock(ctx context.Context, lockID int64, fn func(ctx context.Context) error) (bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, lockID); err != nil {
		return false, fmt.Errorf("try advisory lock %d: %w", lockID, err)
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		// Unlock on the same session. Best effort: closing the conn
		// releases the lock anyway.
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	return true, fn(ctx)
}

// InTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
