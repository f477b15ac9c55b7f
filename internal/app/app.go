// Package app builds every collaborator of the pipeline from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/cicd-fixer/internal/ai"
	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/feedback"
	"github.com/cicd-fixer/internal/generator"
	"github.com/cicd-fixer/internal/metrics"
	"github.com/cicd-fixer/internal/patterns"
	"github.com/cicd-fixer/internal/predictor"
	"github.com/cicd-fixer/internal/rules"
	"github.com/cicd-fixer/internal/scm"
	"github.com/cicd-fixer/internal/service"
	"github.com/cicd-fixer/internal/similar"
	"github.com/cicd-fixer/internal/store"
	"github.com/cicd-fixer/pkg/sanitizer"
	"go.uber.org/zap"
)

// App is the application context shared by the server and the CLI.
type App struct {
	Config    *config.Config
	Store     *store.SQLite
	Metrics   *metrics.Metrics
	Predictor *predictor.Predictor
	Patterns  *patterns.Analyzer
	Generator *generator.Generator
	Feedback  *feedback.Loop
	Similar   *similar.Index
	Pipeline  *service.Pipeline

	logger *zap.Logger
}

// New opens the store and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	index, err := similar.New(similar.DefaultMinScore, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	m := metrics.New()
	engine := rules.NewEngine(rules.DefaultRules(), cfg.Processing.RuleConfidenceThreshold, logger)

	backend, source, err := newBackend(cfg, engine, logger)
	if err != nil {
		index.Close()
		st.Close()
		return nil, err
	}

	pred := predictor.New(logger, predictor.WithModelPath(cfg.Predictor.ModelPath))
	pat := patterns.New(st, logger,
		patterns.WithCacheTTL(cfg.Patterns.CacheTTL),
		patterns.WithTimeout(cfg.Store.Timeout),
	)

	gen := generator.New(backend, logger,
		generator.WithSource(source),
		generator.WithPatterns(pat),
		generator.WithPredictor(pred),
		generator.WithRules(engine),
		generator.WithRecorder(m),
		generator.WithCacheTTL(cfg.Generator.CacheTTL),
		generator.WithFingerprintPrefix(cfg.Generator.FingerprintPrefix),
		generator.WithPatternWindow(cfg.Generator.PatternWindowDays),
		generator.WithBackendTimeout(cfg.Generator.BackendTimeout),
	)

	loop := feedback.New(st, pred, logger,
		feedback.WithInvalidator(pat),
		feedback.WithRecorder(m),
		feedback.WithInterval(cfg.Learning.RetrainInterval),
		feedback.WithRetrainOnFeedback(cfg.Learning.RetrainOnFeedback),
	)

	deps := service.Deps{
		Store:         st,
		Generator:     gen,
		Feedback:      loop,
		Patterns:      pat,
		Predictor:     pred,
		Sanitizer:     sanitizer.New(cfg.Processing.MaxLogSize),
		Backend:       backend,
		Similar:       index,
		Recorder:      m,
		WebhookSecret: cfg.GitHub.WebhookSecret,
	}
	if cfg.GitHub.Enabled() {
		deps.SCM = scm.NewClient(&cfg.GitHub, logger)
	} else {
		logger.Info("GitHub integration disabled, run logs and pull requests unavailable")
	}

	a := &App{
		Config:    cfg,
		Store:     st,
		Metrics:   m,
		Predictor: pred,
		Patterns:  pat,
		Generator: gen,
		Feedback:  loop,
		Similar:   index,
		Pipeline:  service.New(deps, logger),
		logger:    logger,
	}

	if _, err := a.Pipeline.RebuildSimilarIndex(ctx); err != nil {
		logger.Warn("similar fix index not loaded", zap.Error(err))
	}
	return a, nil
}

// newBackend picks the reasoning backend. Without a remote backend the
// local rule reasoner answers; with rules disabled too every suggestion is
// a fallback.
func newBackend(cfg *config.Config, engine *rules.Engine, logger *zap.Logger) (ai.Client, domain.SuggestionSource, error) {
	if cfg.AI.MockMode {
		logger.Warn("running in mock mode - backend responses are simulated")
		return ai.NewMockClient(logger), domain.SourceReasoningBackend, nil
	}

	if !cfg.AI.Enabled() {
		if !cfg.Processing.EnableRules {
			logger.Warn("no reasoning backend and rules disabled, all suggestions will be fallbacks")
			return nil, domain.SourceFallback, nil
		}
		logger.Info("no reasoning backend configured, using local rule reasoner")
		return ai.NewRuleClient(engine, logger), domain.SourceRuleBased, nil
	}

	prompter, err := ai.NewDefaultPromptBuilder()
	if err != nil {
		return nil, "", fmt.Errorf("create prompt builder: %w", err)
	}
	validator := ai.NewDefaultValidator()

	switch cfg.AI.Provider {
	case config.AIProviderGemini:
		return ai.NewGeminiClient(&cfg.AI, prompter, validator, logger), domain.SourceReasoningBackend, nil
	default:
		return ai.NewOpenAIClient(&cfg.AI, prompter, validator, logger), domain.SourceReasoningBackend, nil
	}
}

// Close waits for background analyses and releases the store and index.
func (a *App) Close() error {
	a.Pipeline.Wait()
	if err := a.Similar.Close(); err != nil {
		a.logger.Warn("closing similar index", zap.Error(err))
	}
	return a.Store.Close()
}
