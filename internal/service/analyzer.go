// Package service wires the fix-generation pipeline into the operations the
// HTTP and CLI layers expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cicd-fixer/internal/ai"
	"github.com/cicd-fixer/internal/classifier"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/feedback"
	"github.com/cicd-fixer/internal/generator"
	"github.com/cicd-fixer/internal/patterns"
	"github.com/cicd-fixer/internal/predictor"
	"github.com/cicd-fixer/internal/scm"
	"github.com/cicd-fixer/internal/similar"
	"github.com/cicd-fixer/internal/store"
	"github.com/cicd-fixer/pkg/sanitizer"
	"go.uber.org/zap"
)

// ErrAnalysisFailed means no suggestion could be produced at all, as opposed
// to a degraded, low-confidence suggestion.
var ErrAnalysisFailed = errors.New("could not analyze failure")

// Store is the historical-record store the pipeline reads and writes.
type Store interface {
	CreateFailure(ctx context.Context, rec domain.FailureRecord) (int64, error)
	GetFailure(ctx context.Context, id int64) (*domain.FailureRecord, error)
	ListFailuresByRepo(ctx context.Context, owner, repo string, limit int) ([]domain.FailureRecord, error)
	ListPending(ctx context.Context, limit int) ([]domain.FailureRecord, error)
	AttachSuggestion(ctx context.Context, failureID int64, fix *domain.FixSuggestion) error
	GetSuggestion(ctx context.Context, fixID string) (*store.StoredSuggestion, error)
	SetPRURL(ctx context.Context, fixID, url string) error
	ListApprovedFixes(ctx context.Context) ([]store.ApprovedFix, error)
	ListFeedback(ctx context.Context, fixID string) ([]domain.FeedbackRecord, error)
	GetPrediction(ctx context.Context, hash string) (*domain.PredictionResult, error)
	SavePrediction(ctx context.Context, hash string, result domain.PredictionResult) error
	Ping(ctx context.Context) error
}

// SCM is the source-control integration.
type SCM interface {
	Run(ctx context.Context, owner, repo string, runID int64) (*scm.WorkflowRun, error)
	RunLogs(ctx context.Context, owner, repo string, runID int64) (string, error)
	CreateFixPR(ctx context.Context, req scm.FixRequest) (*scm.PullRequest, error)
}

// PredictionRecorder observes served predictions.
type PredictionRecorder interface {
	PredictionObserved(label domain.PredictionLabel)
}

type nopRecorder struct{}

func (nopRecorder) PredictionObserved(domain.PredictionLabel) {
}

// Deps are the collaborators of a Pipeline. Backend, SCM, Similar and
// Recorder are optional.
type Deps struct {
	Store     Store
	Generator *generator.Generator
	Feedback  *feedback.Loop
	Patterns  *patterns.Analyzer
	Predictor *predictor.Predictor
	Sanitizer *sanitizer.Sanitizer
	Backend   ai.Client
	SCM       SCM
	Similar   *similar.Index
	Recorder  PredictionRecorder

	WebhookSecret string
}

// Pipeline implements the analyze and feedback operations and the routes
// built around them.
type Pipeline struct {
	store     Store
	generator *generator.Generator
	feedback  *feedback.Loop
	patterns  *patterns.Analyzer
	predictor *predictor.Predictor
	sanitizer *sanitizer.Sanitizer
	backend   ai.Client
	scm       SCM
	similar   *similar.Index
	recorder  PredictionRecorder
	secret    string
	logger    *zap.Logger

	background sync.WaitGroup
}

// New creates a Pipeline.
func New(deps Deps, logger *zap.Logger) *Pipeline {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{
		store:     deps.Store,
		generator: deps.Generator,
		feedback:  deps.Feedback,
		patterns:  deps.Patterns,
		predictor: deps.Predictor,
		sanitizer: deps.Sanitizer,
		backend:   deps.Backend,
		scm:       deps.SCM,
		similar:   deps.Similar,
		recorder:  recorder,
		secret:    deps.WebhookSecret,
		logger:    logger.Named("pipeline"),
	}
}

// AnalyzeRequest is the inbound analyze operation.
type AnalyzeRequest struct {
	Owner        string             `json:"owner"`
	Repo         string             `json:"repo"`
	RunID        int64              `json:"run_id,omitempty"`
	WorkflowName string             `json:"workflow_name,omitempty"`
	Logs         string             `json:"logs,omitempty"`
	Context      domain.RepoContext `json:"repository_context"`
	SkipML       bool               `json:"skip_ml,omitempty"`
	SkipPatterns bool               `json:"skip_patterns,omitempty"`
}

// AnalyzeResult is the analyze response. Degraded is set when the
// suggestion came from the fallback path.
type AnalyzeResult struct {
	FailureID      int64                      `json:"failure_id,omitempty"`
	Suggestion     *domain.FixSuggestion      `json:"fix_suggestion"`
	Classification domain.ErrorClassification `json:"classification"`
	Context        domain.RepoContext         `json:"repository_context"`
	Degraded       bool                       `json:"degraded"`
	Persisted      bool                       `json:"persisted"`
}

// Analyze turns a failure into a stored fix suggestion. Validation errors
// are returned as domain validation errors; ErrAnalysisFailed means the
// logs could not be obtained. Every other collaborator failure degrades the
// result instead of failing it.
func (p *Pipeline) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	startTime := time.Now()
	req.Owner = strings.TrimSpace(req.Owner)
	req.Repo = strings.TrimSpace(req.Repo)
	if req.Owner == "" || req.Repo == "" {
		return nil, domain.NewValidationError("analyze", errors.New("owner and repo are required"))
	}

	logs := req.Logs
	if p.sanitizer.IsEmpty(logs) {
		if req.RunID == 0 {
			return nil, domain.NewValidationError("analyze", domain.ErrNoLogs)
		}
		fetched, err := p.fetchRunLogs(ctx, &req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
		}
		logs = fetched
	}

	clean, stats, err := p.sanitizer.SanitizeWithStats(logs)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("log sanitized",
		zap.Int("original_size", stats.OriginalSize),
		zap.Int("sanitized_size", stats.SanitizedSize),
		zap.Int("secrets_found", stats.SecretsFound),
		zap.Bool("truncated", stats.Truncated),
	)

	repoCtx := classifier.DetectContext(clean, req.Context)
	result := &AnalyzeResult{
		Classification: classifier.ClassifyLog(clean),
		Context:        repoCtx,
	}

	rec := domain.FailureRecord{
		Owner:        req.Owner,
		Repo:         req.Repo,
		RunID:        req.RunID,
		WorkflowName: req.WorkflowName,
		Logs:         clean,
		Context:      repoCtx,
		FixStatus:    domain.FixStatusPending,
	}
	failureID, err := p.store.CreateFailure(ctx, rec)
	if err != nil {
		p.logger.Warn("failure not persisted, continuing", zap.Error(err))
	}

	suggestion := p.generator.Generate(ctx, generator.Request{
		ErrorLog:     clean,
		Context:      repoCtx,
		SkipML:       req.SkipML,
		SkipPatterns: req.SkipPatterns,
	})
	result.Suggestion = suggestion
	result.Degraded = suggestion.IsFallback()

	if failureID != 0 {
		result.FailureID = failureID
		if err := p.store.AttachSuggestion(ctx, failureID, suggestion); err != nil {
			p.logger.Warn("suggestion not persisted", zap.Int64("failure_id", failureID), zap.Error(err))
		} else {
			result.Persisted = true
		}
	}

	p.logger.Info("analysis completed",
		zap.String("repo", req.Owner+"/"+req.Repo),
		zap.String("fix_id", suggestion.ID),
		zap.String("error_type", string(suggestion.Category)),
		zap.Float64("confidence", suggestion.Confidence),
		zap.String("source", string(suggestion.Source)),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("duration", time.Since(startTime)),
	)
	return result, nil
}

func (p *Pipeline) fetchRunLogs(ctx context.Context, req *AnalyzeRequest) (string, error) {
	if p.scm == nil {
		return "", domain.ErrSCMUnavailable
	}

	if req.WorkflowName == "" {
		if run, err := p.scm.Run(ctx, req.Owner, req.Repo, req.RunID); err != nil {
			p.logger.Debug("workflow run metadata unavailable", zap.Error(err))
		} else {
			req.WorkflowName = run.Name
		}
	}

	logs, err := p.scm.RunLogs(ctx, req.Owner, req.Repo, req.RunID)
	if err != nil {
		p.logger.Warn("run logs unavailable",
			zap.String("repo", req.Owner+"/"+req.Repo),
			zap.Int64("run_id", req.RunID),
			zap.Error(err),
		)
		return "", err
	}
	return logs, nil
}

// Wait blocks until background analyses finish.
func (p *Pipeline) Wait() {
	p.background.Wait()
}
