package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cicd-fixer/internal/domain"
)

// AppendFeedback stores an immutable feedback record.
func (s *SQLite) AppendFeedback(ctx context.Context, fb domain.FeedbackRecord) error {
	var effectiveness sql.NullFloat64
	if fb.Effectiveness != nil {
		effectiveness = sql.NullFloat64{Float64: *fb.Effectiveness, Valid: true}
	}
	created := s.timestamp()
	if !fb.CreatedAt.IsZero() {
		created = formatTime(fb.CreatedAt)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_records (id, fix_id, outcome, comment, effectiveness, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.FixID, string(fb.Outcome), nullString(fb.Comment), effectiveness, created,
	); err != nil {
		return wrap("store.append_feedback", err)
	}
	return nil
}

// CountFeedbackSince returns the number of feedback records created strictly
// after since.
func (s *SQLite) CountFeedbackSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM feedback_records WHERE created_at > ?", formatTime(since),
	).Scan(&n); err != nil {
		return 0, wrap("store.count_feedback", err)
	}
	return n, nil
}

// ListFeedback returns the feedback recorded for one fix, oldest first.
func (s *SQLite) ListFeedback(ctx context.Context, fixID string) ([]domain.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fix_id, outcome, comment, effectiveness, created_at
		FROM feedback_records WHERE fix_id = ? ORDER BY created_at, id`, fixID)
	if err != nil {
		return nil, wrap("store.list_feedback", err)
	}
	defer rows.Close()

	var out []domain.FeedbackRecord
	for rows.Next() {
		var (
			fb            domain.FeedbackRecord
			outcome       string
			comment       sql.NullString
			effectiveness sql.NullFloat64
			created       string
		)
		if err := rows.Scan(&fb.ID, &fb.FixID, &outcome, &comment, &effectiveness, &created); err != nil {
			return nil, wrap("store.list_feedback", err)
		}
		fb.Outcome = domain.FeedbackOutcome(outcome)
		fb.Comment = comment.String
		if effectiveness.Valid {
			e := effectiveness.Float64
			fb.Effectiveness = &e
		}
		fb.CreatedAt = parseTime(created)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("store.list_feedback", err)
	}
	return out, nil
}

// TrainingExamples maps every feedback record to a labelled example using
// the log and context of the failure its suggestion was generated for.
func (s *SQLite) TrainingExamples(ctx context.Context) ([]domain.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.logs, r.language, r.framework, r.build_system, f.outcome
		FROM feedback_records f
		JOIN fix_suggestions s ON s.id = f.fix_id
		JOIN failure_records r ON r.id = s.failure_id
		ORDER BY f.created_at, f.id`)
	if err != nil {
		return nil, wrap("store.training_examples", err)
	}
	defer rows.Close()

	var out []domain.TrainingExample
	for rows.Next() {
		var (
			ex                            domain.TrainingExample
			language, framework, buildSys sql.NullString
			outcome                       string
		)
		if err := rows.Scan(&ex.ErrorLog, &language, &framework, &buildSys, &outcome); err != nil {
			return nil, wrap("store.training_examples", err)
		}
		ex.Context = domain.RepoContext{
			Language:    language.String,
			Framework:   framework.String,
			BuildSystem: buildSys.String,
		}
		ex.Outcome = domain.FeedbackOutcome(outcome).TrainingOutcome()
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("store.training_examples", err)
	}
	return out, nil
}

// HashLog returns the key predictions are stored under.
func HashLog(errorLog string) string {
	sum := sha256.Sum256([]byte(errorLog))
	return hex.EncodeToString(sum[:])
}

// GetPrediction returns a stored prediction by log hash.
func (s *SQLite) GetPrediction(ctx context.Context, hash string) (*domain.PredictionResult, error) {
	var (
		result         domain.PredictionResult
		label, factors string
		created        string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT label, confidence, factors, model_version, created_at FROM predictions WHERE error_log_hash = ?", hash,
	).Scan(&label, &result.Confidence, &factors, &result.ModelVersion, &created)
	if err != nil {
		return nil, wrap("store.get_prediction", err)
	}
	if err := json.Unmarshal([]byte(factors), &result.Factors); err != nil {
		return nil, domain.WrapError("store.get_prediction", fmt.Errorf("decode factors: %w", err), false)
	}
	result.Label = domain.PredictionLabel(label)
	result.Timestamp = parseTime(created)
	return &result, nil
}

// SavePrediction stores or replaces the prediction for a log hash.
func (s *SQLite) SavePrediction(ctx context.Context, hash string, result domain.PredictionResult) error {
	factors, err := json.Marshal(result.Factors)
	if err != nil {
		return domain.WrapError("store.save_prediction", err, false)
	}
	created := s.timestamp()
	if !result.Timestamp.IsZero() {
		created = formatTime(result.Timestamp)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO predictions (error_log_hash, label, confidence, factors, model_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		hash, string(result.Label), result.Confidence, string(factors), result.ModelVersion, created,
	); err != nil {
		return wrap("store.save_prediction", err)
	}
	return nil
}
