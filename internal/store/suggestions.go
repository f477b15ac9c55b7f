package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cicd-fixer/internal/domain"
)

// StoredSuggestion is a persisted FixSuggestion with its bookkeeping.
type StoredSuggestion struct {
	Suggestion domain.FixSuggestion `json:"suggestion"`
	FailureID  int64                `json:"failure_id"`
	Status     domain.FixStatus     `json:"status"`
	PRURL      string               `json:"pr_url,omitempty"`
}

// ApprovedFix pairs an approved suggestion with the failure it fixed.
type ApprovedFix struct {
	Suggestion domain.FixSuggestion
	Owner      string
	Repo       string
	Logs       string
}

// AttachSuggestion records fix against a failure. The suggestion row is
// written once per fix id; a cached suggestion reused for a later failure
// only annotates that failure.
func (s *SQLite) AttachSuggestion(ctx context.Context, failureID int64, fix *domain.FixSuggestion) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return domain.WrapError("store.attach_suggestion", fmt.Errorf("encode suggestion: %w", err), false)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("store.attach_suggestion", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO fix_suggestions
			(id, failure_id, category, severity, confidence, risk_level, source, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fix.ID, failureID, string(fix.Category), string(fix.Severity), fix.Confidence,
		string(fix.RiskLevel), string(fix.Source), string(payload), formatTime(fix.CreatedAt),
	); err != nil {
		return wrap("store.attach_suggestion", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE failure_records SET fix_id = ?, confidence_score = ? WHERE id = ? AND fix_id IS NULL",
		fix.ID, fix.Confidence, failureID,
	)
	if err != nil {
		return wrap("store.attach_suggestion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.WrapError("store.attach_suggestion",
			fmt.Errorf("%w: failure %d missing or already annotated", domain.ErrNotFound, failureID), false)
	}

	if err := tx.Commit(); err != nil {
		return wrap("store.attach_suggestion", err)
	}
	return nil
}

// GetSuggestion returns a persisted suggestion by fix id.
func (s *SQLite) GetSuggestion(ctx context.Context, fixID string) (*StoredSuggestion, error) {
	var (
		stored  StoredSuggestion
		payload string
		status  string
		prURL   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT failure_id, status, payload, pr_url FROM fix_suggestions WHERE id = ?", fixID,
	).Scan(&stored.FailureID, &status, &payload, &prURL)
	if err != nil {
		return nil, wrap("store.get_suggestion", err)
	}
	if err := json.Unmarshal([]byte(payload), &stored.Suggestion); err != nil {
		return nil, domain.WrapError("store.get_suggestion", fmt.Errorf("decode suggestion: %w", err), false)
	}
	stored.Status = domain.FixStatus(status)
	stored.PRURL = prURL.String
	return &stored, nil
}

// SetFixStatus records a decision on the suggestion and every failure it
// was attached to.
func (s *SQLite) SetFixStatus(ctx context.Context, fixID string, status domain.FixStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("store.set_fix_status", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE fix_suggestions SET status = ? WHERE id = ?", string(status), fixID)
	if err != nil {
		return wrap("store.set_fix_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.WrapError("store.set_fix_status", domain.ErrNotFound, false)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE failure_records SET fix_status = ? WHERE fix_id = ?", string(status), fixID); err != nil {
		return wrap("store.set_fix_status", err)
	}

	if err := tx.Commit(); err != nil {
		return wrap("store.set_fix_status", err)
	}
	return nil
}

// SetPRURL stores the pull request opened for a suggestion.
func (s *SQLite) SetPRURL(ctx context.Context, fixID, url string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE fix_suggestions SET pr_url = ? WHERE id = ?", url, fixID)
	if err != nil {
		return wrap("store.set_pr_url", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.WrapError("store.set_pr_url", domain.ErrNotFound, false)
	}
	return nil
}

// ListApprovedFixes returns every approved suggestion with its originating
// failure.
func (s *SQLite) ListApprovedFixes(ctx context.Context) ([]ApprovedFix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.payload, r.owner, r.repo, r.logs
		FROM fix_suggestions s
		JOIN failure_records r ON r.id = s.failure_id
		WHERE s.status = ?
		ORDER BY s.created_at`,
		string(domain.FixStatusApproved),
	)
	if err != nil {
		return nil, wrap("store.list_approved", err)
	}
	defer rows.Close()

	var out []ApprovedFix
	for rows.Next() {
		var (
			fix     ApprovedFix
			payload string
		)
		if err := rows.Scan(&payload, &fix.Owner, &fix.Repo, &fix.Logs); err != nil {
			return nil, wrap("store.list_approved", err)
		}
		if err := json.Unmarshal([]byte(payload), &fix.Suggestion); err != nil {
			s.logger.Warn("skipping undecodable suggestion payload")
			continue
		}
		out = append(out, fix)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("store.list_approved", err)
	}
	return out, nil
}
