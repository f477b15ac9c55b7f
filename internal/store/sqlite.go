// Package store persists failure records, fix suggestions, feedback and
// predictions in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the historical-record store.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

// Option configures the store.
type Option func(*SQLite)

// WithClock overrides the time source used for created_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) {
		s.now = now
	}
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{
		db:     db,
		now:    time.Now,
		logger: logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.WrapError("store.ping", err, true)
	}
	return nil
}

func (s *SQLite) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// wrap classifies a database error. Missing rows become ErrNotFound.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(op, domain.ErrNotFound, false)
	}
	return domain.WrapError(op, err, true)
}
