// Package store is the SQLite persistence layer. Decimal columns are stored as
// TEXT and written at their documented precision.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Simplici0/micaa/internal/apperrors"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against the pool or a transaction.
type queries struct {
	q   querier
	now func() time.Time
}

// Store is the pool-backed entry point.
type Store struct {
	queries
	db *sql.DB
}

// Tx exposes the same queries inside one transaction.
type Tx struct {
	queries
}

func New(db *sql.DB) *Store {
	return &Store{queries: queries{q: db, now: utcNow}, db: db}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn in a transaction. Any error from fn rolls back everything fn wrote.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Persistence("begin transaction", err)
	}

	if err := fn(&Tx{queries{q: sqlTx, now: s.now}}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperrors.Persistence("commit transaction", err)
	}
	return nil
}

func utcNow() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	// Rows written by column defaults use SQLite's CURRENT_TIMESTAMP format.
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Persistence(op, err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
