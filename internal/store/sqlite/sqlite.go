// Package sqlite opens the SQLite backend used for development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/abhayyyy25/breast-cancer-detection/internal/store/sqlstore"
)

const (
	dirPermissions = 0o750
	busyTimeoutMS  = 5000
)

// Dialect is the SQLite flavour of the shared SQL store. Writers are
// serialized by BEGIN IMMEDIATE transactions instead of row locks.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		Isolation:         sql.LevelDefault,
		IsUniqueViolation: isUniqueViolation,
	}
}

// DSN builds the connection string for path. ":memory:" opens a private
// in-memory database.
func DSN(path string) string {
	params := fmt.Sprintf("_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", busyTimeoutMS)
	if path == ":memory:" || path == "" {
		return "file::memory:?" + params
	}
	return fmt.Sprintf("file:%s?%s&_journal_mode=WAL", path, params)
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	memory := path == "" || path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, dirPermissions); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqlstore.New(db, Dialect()), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
