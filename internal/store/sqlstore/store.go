// Package sqlstore implements the auth and audit stores on database/sql. The
// PostgreSQL and SQLite backends configure it with a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

// Dialect captures the differences between supported databases.
type Dialect struct {
	Name string
	// DollarParams rewrites ? placeholders to $1, $2, ...
	DollarParams bool
	// RowLocks appends "for update" to lockout reads.
	RowLocks bool
	// Isolation is used for read-modify-write transactions.
	Isolation sql.IsolationLevel
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(error) bool
	// IsRetryable reports whether a transaction failed on a serialization
	// conflict or deadlock and may be run again. Nil means never.
	IsRetryable func(error) bool
}

// maxTxAttempts bounds reruns of a transaction that hit a retryable error.
const maxTxAttempts = 3

func (d Dialect) retryable(err error) bool {
	return err != nil && d.IsRetryable != nil && d.IsRetryable(err)
}

// Store persists principals, tenants and audit entries.
type Store struct {
	db *sql.DB
	d  Dialect
}

var (
	_ auth.Store  = (*Store)(nil)
	_ audit.Store = (*Store)(nil)
)

// New wraps an open database handle.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the configured dialect.
func (s *Store) Dialect() Dialect { return s.d }

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Principals(context.Context) auth.PrincipalStore { return principalStore{s} }

func (s *Store) Tenants(context.Context) auth.TenantStore { return tenantStore{s} }

// q adapts a query written with ? placeholders to the dialect.
func (s *Store) q(query string) string {
	if !s.d.DollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) forUpdate() string {
	if s.d.RowLocks {
		return " for update"
	}
	return ""
}

func (s *Store) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case s.d.IsUniqueViolation != nil && s.d.IsUniqueViolation(err):
		return auth.ErrConflict
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
