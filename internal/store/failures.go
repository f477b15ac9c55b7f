package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cicd-fixer/internal/domain"
)

const failureColumns = `id, owner, repo, run_id, workflow_name, logs, language, framework,
	build_system, fix_status, confidence_score, fix_id, created_at`

// CreateFailure inserts a new failure record and returns its id. A zero
// CreatedAt is set to the store clock.
func (s *SQLite) CreateFailure(ctx context.Context, rec domain.FailureRecord) (int64, error) {
	created := s.timestamp()
	if !rec.CreatedAt.IsZero() {
		created = formatTime(rec.CreatedAt)
	}
	status := rec.FixStatus
	if status == "" {
		status = domain.FixStatusPending
	}

	var runID sql.NullInt64
	if rec.RunID != 0 {
		runID = sql.NullInt64{Int64: rec.RunID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_records
			(owner, repo, run_id, workflow_name, logs, language, framework, build_system, fix_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Owner, rec.Repo, runID, nullString(rec.WorkflowName), rec.Logs,
		nullString(rec.Context.Language), nullString(rec.Context.Framework), nullString(rec.Context.BuildSystem),
		string(status), created,
	)
	if err != nil {
		return 0, wrap("store.create_failure", err)
	}
	return res.LastInsertId()
}

// GetFailure returns one failure record.
func (s *SQLite) GetFailure(ctx context.Context, id int64) (*domain.FailureRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+failureColumns+" FROM failure_records WHERE id = ?", id)
	rec, err := scanFailure(row)
	if err != nil {
		return nil, wrap("store.get_failure", err)
	}
	return rec, nil
}

// ListFailures returns failures created at or after since, oldest first.
func (s *SQLite) ListFailures(ctx context.Context, since time.Time) ([]domain.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+failureColumns+" FROM failure_records WHERE created_at >= ? ORDER BY created_at, id",
		formatTime(since),
	)
	if err != nil {
		return nil, wrap("store.list_failures", err)
	}
	return collectFailures(rows, "store.list_failures")
}

// ListFailuresByRepo returns a repository's most recent failures.
func (s *SQLite) ListFailuresByRepo(ctx context.Context, owner, repo string, limit int) ([]domain.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+failureColumns+" FROM failure_records WHERE owner = ? AND repo = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		owner, repo, limit,
	)
	if err != nil {
		return nil, wrap("store.list_failures_by_repo", err)
	}
	return collectFailures(rows, "store.list_failures_by_repo")
}

// ListPending returns failures with a suggestion still awaiting a decision.
func (s *SQLite) ListPending(ctx context.Context, limit int) ([]domain.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+failureColumns+" FROM failure_records WHERE fix_status = ? AND fix_id IS NOT NULL ORDER BY created_at DESC, id DESC LIMIT ?",
		string(domain.FixStatusPending), limit,
	)
	if err != nil {
		return nil, wrap("store.list_pending", err)
	}
	return collectFailures(rows, "store.list_pending")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFailure(row scanner) (*domain.FailureRecord, error) {
	var (
		rec                                     domain.FailureRecord
		runID                                   sql.NullInt64
		workflow, language, framework, buildSys sql.NullString
		status, created                         string
		confidence                              sql.NullFloat64
		fixID                                   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Owner, &rec.Repo, &runID, &workflow, &rec.Logs,
		&language, &framework, &buildSys, &status, &confidence, &fixID, &created); err != nil {
		return nil, err
	}

	rec.RunID = runID.Int64
	rec.WorkflowName = workflow.String
	rec.Context = domain.RepoContext{
		Language:    language.String,
		Framework:   framework.String,
		BuildSystem: buildSys.String,
	}
	rec.FixStatus = domain.FixStatus(status)
	rec.FixID = fixID.String
	if confidence.Valid {
		c := confidence.Float64
		rec.ConfidenceScore = &c
	}
	rec.CreatedAt = parseTime(created)
	return &rec, nil
}

func collectFailures(rows *sql.Rows, op string) ([]domain.FailureRecord, error) {
	defer rows.Close()

	var out []domain.FailureRecord
	for rows.Next() {
		rec, err := scanFailure(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}
