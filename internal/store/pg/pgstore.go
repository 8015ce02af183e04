// Package pg opens the PostgreSQL backend of the auth and audit stores.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/abhayyyy25/breast-cancer-detection/internal/store/sqlstore"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool returns pool defaults suited to a single API instance.
func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    25,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Dialect is the PostgreSQL flavour of the shared SQL store. Lockout updates
// run at READ COMMITTED; the row lock already serializes them.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		DollarParams:      true,
		RowLocks:          true,
		Isolation:         sql.LevelReadCommitted,
		IsUniqueViolation: isUniqueViolation,
		IsRetryable:       isRetryable,
	}
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return sqlstore.New(db, Dialect()), nil
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgerrcode.UniqueViolation
}

func isRetryable(err error) bool {
	pgErr, ok := maybePgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return false
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
