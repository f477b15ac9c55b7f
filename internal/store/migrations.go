package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS failure_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner TEXT NOT NULL,
				repo TEXT NOT NULL,
				run_id INTEGER,
				workflow_name TEXT,
				logs TEXT NOT NULL,
				language TEXT,
				framework TEXT,
				build_system TEXT,
				fix_status TEXT NOT NULL DEFAULT 'pending',
				confidence_score REAL,
				fix_id TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_failure_records_created ON failure_records(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_failure_records_repo ON failure_records(owner, repo)`,
			`CREATE INDEX IF NOT EXISTS idx_failure_records_fix ON failure_records(fix_id)`,
			`CREATE TABLE IF NOT EXISTS fix_suggestions (
				id TEXT PRIMARY KEY,
				failure_id INTEGER NOT NULL REFERENCES failure_records(id),
				category TEXT NOT NULL,
				severity TEXT NOT NULL,
				confidence REAL NOT NULL,
				risk_level TEXT NOT NULL,
				source TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				payload TEXT NOT NULL,
				pr_url TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS feedback_records (
				id TEXT PRIMARY KEY,
				fix_id TEXT NOT NULL,
				outcome TEXT NOT NULL,
				comment TEXT,
				effectiveness REAL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_feedback_records_created ON feedback_records(created_at)`,
			`CREATE TABLE IF NOT EXISTS predictions (
				error_log_hash TEXT PRIMARY KEY,
				label TEXT NOT NULL,
				confidence REAL NOT NULL,
				factors TEXT NOT NULL,
				model_version TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
		},
	},
}

// runMigrations executes database schema migrations.
func (s *SQLite) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		s.logger.Info("running migration", zap.Int("version", m.version), zap.String("name", m.name))
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLite) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, s.timestamp(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
