package service

import (
	"context"
	"errors"
	"strings"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/scm"
	"github.com/cicd-fixer/internal/similar"
	"github.com/cicd-fixer/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultListLimit    = 50
	DefaultSimilarLimit = 5
	maxListLimit        = 500
)

// FeedbackRequest is the inbound feedback operation.
type FeedbackRequest struct {
	FixID         string                 `json:"fix_id"`
	Outcome       domain.FeedbackOutcome `json:"outcome"`
	Comment       string                 `json:"comment,omitempty"`
	Effectiveness *float64               `json:"effectiveness,omitempty"`
}

// Feedback records a human decision on a suggestion. Approved fixes become
// searchable as similar fixes.
func (p *Pipeline) Feedback(ctx context.Context, req FeedbackRequest) (*domain.FeedbackRecord, error) {
	req.Outcome = domain.FeedbackOutcome(strings.ToLower(strings.TrimSpace(string(req.Outcome))))
	fb, err := p.feedback.Record(ctx, req.FixID, req.Outcome, req.Comment, req.Effectiveness)
	if err != nil {
		return nil, err
	}
	if req.Outcome == domain.FeedbackApprove {
		p.indexApproved(ctx, fb.FixID)
	}
	return fb, nil
}

func (p *Pipeline) indexApproved(ctx context.Context, fixID string) {
	if p.similar == nil {
		return
	}
	stored, err := p.store.GetSuggestion(ctx, fixID)
	if err != nil {
		p.logger.Warn("approved fix not indexed", zap.String("fix_id", fixID), zap.Error(err))
		return
	}
	failure, err := p.store.GetFailure(ctx, stored.FailureID)
	if err != nil {
		p.logger.Warn("approved fix not indexed", zap.String("fix_id", fixID), zap.Error(err))
		return
	}
	doc := toDocument(store.ApprovedFix{
		Suggestion: stored.Suggestion,
		Owner:      failure.Owner,
		Repo:       failure.Repo,
		Logs:       failure.Logs,
	})
	if err := p.similar.Add(doc); err != nil {
		p.logger.Warn("approved fix not indexed", zap.String("fix_id", fixID), zap.Error(err))
	}
}

func toDocument(fix store.ApprovedFix) similar.Document {
	return similar.Document{
		FixID:       fix.Suggestion.ID,
		ErrorLog:    fix.Logs,
		Description: fix.Suggestion.Description,
		Category:    string(fix.Suggestion.Category),
		Repository:  fix.Owner + "/" + fix.Repo,
	}
}

// RebuildSimilarIndex reloads every approved fix from the store.
func (p *Pipeline) RebuildSimilarIndex(ctx context.Context) (int, error) {
	if p.similar == nil {
		return 0, nil
	}
	fixes, err := p.store.ListApprovedFixes(ctx)
	if err != nil {
		return 0, err
	}
	docs := make([]similar.Document, 0, len(fixes))
	for _, f := range fixes {
		docs = append(docs, toDocument(f))
	}
	if err := p.similar.Rebuild(docs); err != nil {
		return 0, err
	}
	p.logger.Info("similar fix index rebuilt", zap.Int("documents", len(docs)))
	return len(docs), nil
}

// ApproveResult reports an approval and the optional pull request. A PR
// failure does not undo the approval.
type ApproveResult struct {
	Feedback    *domain.FeedbackRecord `json:"feedback"`
	PullRequest *scm.PullRequest       `json:"pull_request,omitempty"`
	PRError     string                 `json:"pr_error,omitempty"`
}

// Approve records an approval and, when createPR is set, opens a pull
// request carrying the fix.
func (p *Pipeline) Approve(ctx context.Context, fixID, comment string, createPR bool) (*ApproveResult, error) {
	fb, err := p.Feedback(ctx, FeedbackRequest{FixID: fixID, Outcome: domain.FeedbackApprove, Comment: comment})
	if err != nil {
		return nil, err
	}
	result := &ApproveResult{Feedback: fb}
	if !createPR {
		return result, nil
	}

	pr, err := p.openPullRequest(ctx, fb.FixID)
	if err != nil {
		p.logger.Warn("pull request not created", zap.String("fix_id", fb.FixID), zap.Error(err))
		result.PRError = err.Error()
		return result, nil
	}
	result.PullRequest = pr
	return result, nil
}

func (p *Pipeline) openPullRequest(ctx context.Context, fixID string) (*scm.PullRequest, error) {
	if p.scm == nil {
		return nil, domain.ErrSCMUnavailable
	}
	stored, err := p.store.GetSuggestion(ctx, fixID)
	if err != nil {
		return nil, err
	}
	failure, err := p.store.GetFailure(ctx, stored.FailureID)
	if err != nil {
		return nil, err
	}

	pr, err := p.scm.CreateFixPR(ctx, scm.FixRequest{
		Owner:      failure.Owner,
		Repo:       failure.Repo,
		Logs:       failure.Logs,
		Context:    failure.Context,
		Suggestion: &stored.Suggestion,
	})
	if err != nil {
		return nil, err
	}
	if err := p.store.SetPRURL(ctx, fixID, pr.HTMLURL); err != nil {
		p.logger.Warn("pull request url not stored", zap.String("fix_id", fixID), zap.Error(err))
	}
	return pr, nil
}

// Reject records a rejection.
func (p *Pipeline) Reject(ctx context.Context, fixID, comment string) (*domain.FeedbackRecord, error) {
	return p.Feedback(ctx, FeedbackRequest{FixID: fixID, Outcome: domain.FeedbackReject, Comment: comment})
}

// FixDetail is a stored suggestion with its failure and decisions.
type FixDetail struct {
	*store.StoredSuggestion
	Failure  *domain.FailureRecord   `json:"failure"`
	Feedback []domain.FeedbackRecord `json:"feedback"`
}

// Fix returns one stored suggestion.
func (p *Pipeline) Fix(ctx context.Context, fixID string) (*FixDetail, error) {
	stored, err := p.store.GetSuggestion(ctx, fixID)
	if err != nil {
		return nil, err
	}
	detail := &FixDetail{StoredSuggestion: stored}

	if detail.Failure, err = p.store.GetFailure(ctx, stored.FailureID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if detail.Feedback, err = p.store.ListFeedback(ctx, fixID); err != nil {
		return nil, err
	}
	return detail, nil
}

// PendingFixes lists failures whose suggestion awaits a decision.
func (p *Pipeline) PendingFixes(ctx context.Context, limit int) ([]domain.FailureRecord, error) {
	return p.store.ListPending(ctx, clampLimit(limit, DefaultListLimit))
}

// History lists a repository's recent failures and their fix status.
func (p *Pipeline) History(ctx context.Context, owner, repo string, limit int) ([]domain.FailureRecord, error) {
	if owner == "" || repo == "" {
		return nil, domain.NewValidationError("history", errors.New("owner and repo are required"))
	}
	return p.store.ListFailuresByRepo(ctx, owner, repo, clampLimit(limit, DefaultListLimit))
}

// SimilarRequest looks up approved fixes resembling a log.
type SimilarRequest struct {
	ErrorLog string `json:"error_log"`
	Category string `json:"error_type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SimilarFixes returns approved fixes ranked by relevance.
func (p *Pipeline) SimilarFixes(ctx context.Context, req SimilarRequest) ([]similar.Match, error) {
	if p.sanitizer.IsEmpty(req.ErrorLog) {
		return nil, domain.NewValidationError("similar_fixes", domain.ErrEmptyLog)
	}
	if p.similar == nil {
		return []similar.Match{}, nil
	}
	matches, err := p.similar.Search(req.ErrorLog, req.Category, clampLimit(req.Limit, DefaultSimilarLimit))
	if err != nil {
		return nil, domain.WrapError("similar_fixes", err, false)
	}
	if matches == nil {
		matches = []similar.Match{}
	}
	return matches, nil
}

func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
