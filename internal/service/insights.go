package service

import (
	"context"
	"errors"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/feedback"
	"github.com/cicd-fixer/internal/generator"
	"github.com/cicd-fixer/internal/patterns"
	"github.com/cicd-fixer/internal/predictor"
	"github.com/cicd-fixer/internal/store"
	"go.uber.org/zap"
)

// Patterns returns the pattern snapshot for the window. A snapshot with
// Error set means analysis was unavailable.
func (p *Pipeline) Patterns(ctx context.Context, daysBack int) *domain.PatternSnapshot {
	return p.patterns.Analyze(ctx, daysBack)
}

// Summary returns the 7-day pattern digest.
func (p *Pipeline) Summary(ctx context.Context) patterns.Summary {
	return p.patterns.Summary(ctx)
}

// FixStats summarizes the generator cache.
func (p *Pipeline) FixStats() generator.Stats {
	return p.generator.Statistics()
}

// ClearFixCache empties the generator cache.
func (p *Pipeline) ClearFixCache() {
	p.generator.ClearCache()
}

// PredictRequest asks whether a fix will resolve a failure.
type PredictRequest struct {
	ErrorLog     string             `json:"error_log"`
	SuggestedFix string             `json:"suggested_fix"`
	Context      domain.RepoContext `json:"repository_context"`
}

// PredictResult is a prediction and whether it came from the store.
type PredictResult struct {
	domain.PredictionResult
	Cached bool `json:"cached"`
}

// Predict returns the stored prediction for the log if there is one,
// otherwise predicts and stores the result.
func (p *Pipeline) Predict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	if p.sanitizer.IsEmpty(req.ErrorLog) {
		return nil, domain.NewValidationError("predict", domain.ErrEmptyLog)
	}

	hash := store.HashLog(req.ErrorLog)
	stored, err := p.store.GetPrediction(ctx, hash)
	switch {
	case err == nil:
		return &PredictResult{PredictionResult: *stored, Cached: true}, nil
	case !errors.Is(err, domain.ErrNotFound):
		p.logger.Warn("stored prediction unavailable", zap.Error(err))
	}

	result := p.predictor.Predict(req.ErrorLog, req.SuggestedFix, req.Context)
	p.recorder.PredictionObserved(result.Label)

	if err := p.store.SavePrediction(ctx, hash, result); err != nil {
		p.logger.Warn("prediction not persisted", zap.Error(err))
	}
	return &PredictResult{PredictionResult: result}, nil
}

// ModelInfo describes the predictor and its last retrain.
type ModelInfo struct {
	predictor.Info
	LastReport *domain.TrainingReport `json:"last_report,omitempty"`
}

// Model returns the current model description.
func (p *Pipeline) Model() ModelInfo {
	return ModelInfo{
		Info:       p.predictor.Info(),
		LastReport: p.feedback.LastReport(),
	}
}

// EnqueueRetrain asks the background worker to retrain. It reports false
// when a retrain is already queued.
func (p *Pipeline) EnqueueRetrain() bool {
	return p.feedback.Trigger()
}

// Retrain runs a retrain synchronously. Without force it is skipped when
// no feedback arrived since the last training.
func (p *Pipeline) Retrain(ctx context.Context, force bool) (*domain.TrainingReport, error) {
	report, err := p.feedback.Retrain(ctx, force)
	if errors.Is(err, feedback.ErrNothingNew) || errors.Is(err, domain.ErrNoTrainingData) {
		return nil, domain.NewValidationError("retrain", err)
	}
	return report, err
}
