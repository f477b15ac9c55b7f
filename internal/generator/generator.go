// Package generator turns a failure log into a scored, cached fix suggestion.
//
// A suggestion starts from the reasoning backend's base recommendation and
// is then reweighted by historical frequency (pattern analyzer) and by the
// success predictor. Any failure in the base step yields a fallback
// suggestion; failures in the enhancement steps only skip that step.
package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cicd-fixer/internal/ai"
	"github.com/cicd-fixer/internal/cache"
	"github.com/cicd-fixer/internal/classifier"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/rules"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL          = 2 * time.Hour
	DefaultFingerprintPrefix = 200
	DefaultPatternWindow     = 30
	DefaultBackendTimeout    = 15 * time.Second

	patternBoost         = 1.2
	patternFrequencyMin  = 10
	maxPatternRecs       = 3
	mlSuccessBoost       = 1.1
	mlFailurePenalty     = 0.8
	mlFailureFloor       = 0.1
	maxAlternatives      = 5
	maxCannedAlternative = 3
	fallbackConfidence   = 0.1

	lowRiskConfidence  = 0.8
	highRiskConfidence = 0.5

	mlWarning = "ML model predicts low success likelihood"
)

// PatternSource supplies the historical snapshot used for reweighting.
type PatternSource interface {
	Analyze(ctx context.Context, daysBack int) *domain.PatternSnapshot
}

// Predictor estimates whether a fix will succeed.
type Predictor interface {
	Predict(errorLog, suggestedFix string, ctx domain.RepoContext) domain.PredictionResult
}

// Recorder observes generator activity.
type Recorder interface {
	GenerationObserved(source domain.SuggestionSource, d time.Duration)
	CacheHit()
}

type nopRecorder struct{}

func (nopRecorder) GenerationObserved(domain.SuggestionSource, time.Duration) {
}

func (nopRecorder) CacheHit() {
}

// Request is one generation request. Enhancements are on unless skipped.
type Request struct {
	ErrorLog     string
	Context      domain.RepoContext
	SkipML       bool
	SkipPatterns bool
}

// Stats summarizes the suggestions currently cached.
type Stats struct {
	TotalCached       int        `json:"total_fixes_generated"`
	HighConfidence    int        `json:"high_confidence_fixes"`
	AverageConfidence float64    `json:"average_confidence"`
	LastGenerated     *time.Time `json:"last_generated,omitempty"`
}

// Generator produces fix suggestions. It is safe for concurrent use.
type Generator struct {
	backend   ai.Client
	source    domain.SuggestionSource
	patterns  PatternSource
	predictor Predictor
	rules     *rules.Engine
	recorder  Recorder
	cache     *cache.TTL[string, *domain.FixSuggestion]
	group     singleflight.Group
	prefix    int
	window    int
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger

	mu            sync.Mutex
	lastGenerated time.Time
}

type options struct {
	source    domain.SuggestionSource
	patterns  PatternSource
	predictor Predictor
	rules     *rules.Engine
	recorder  Recorder
	ttl       time.Duration
	prefix    int
	window    int
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

// Option configures a Generator.
type Option func(*options)

// WithSource labels suggestions built from the backend's answer.
func WithSource(source domain.SuggestionSource) Option {
	return func(o *options) { o.source = source }
}

// WithPatterns enables pattern reweighting.
func WithPatterns(p PatternSource) Option {
	return func(o *options) { o.patterns = p }
}

// WithPredictor enables success-prediction reweighting.
func WithPredictor(p Predictor) Option {
	return func(o *options) { o.predictor = p }
}

// WithRules lets fallback suggestions name a known remedy.
func WithRules(e *rules.Engine) Option {
	return func(o *options) { o.rules = e }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithCacheTTL sets how long suggestions stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithFingerprintPrefix sets how many leading characters of the log are fingerprinted.
func WithFingerprintPrefix(n int) Option {
	return func(o *options) { o.prefix = n }
}

// WithPatternWindow sets the pattern window in days.
func WithPatternWindow(days int) Option {
	return func(o *options) { o.window = days }
}

// WithBackendTimeout bounds each reasoning backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDFunc overrides suggestion id generation.
func WithIDFunc(f func() string) Option {
	return func(o *options) { o.newID = f }
}

// New creates a generator. backend may be nil, in which case every
// uncached request yields a fallback suggestion.
func New(backend ai.Client, logger *zap.Logger, opts ...Option) *Generator {
	o := options{
		source:   domain.SourceReasoningBackend,
		recorder: nopRecorder{},
		ttl:      DefaultCacheTTL,
		prefix:   DefaultFingerprintPrefix,
		window:   DefaultPatternWindow,
		timeout:  DefaultBackendTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Generator{
		backend:   backend,
		source:    o.source,
		patterns:  o.patterns,
		predictor: o.predictor,
		rules:     o.rules,
		recorder:  o.recorder,
		cache:     cache.New[string, *domain.FixSuggestion](o.ttl, cache.WithClock(o.now)),
		prefix:    o.prefix,
		window:    o.window,
		timeout:   o.timeout,
		now:       o.now,
		newID:     o.newID,
		logger:    logger.Named("fix_generator"),
	}
}

// Fingerprint derives the cache key from the first prefix characters of
// the log and the repository language and framework.
func Fingerprint(errorLog string, repo domain.RepoContext, prefix int) string {
	head := []rune(errorLog)
	if prefix > 0 && len(head) > prefix {
		head = head[:prefix]
	}
	sum := sha256.Sum256([]byte(string(head) + "\x00" + repo.Language + "\x00" + repo.Framework))
	return hex.EncodeToString(sum[:])
}

// Generate returns a suggestion for the request. It always returns a
// valid suggestion; when the base recommendation cannot be obtained the
// result is an uncached fallback. Concurrent requests with the same
// fingerprint share one computation, which keeps running for the others
// when a caller's context is cancelled.
func (g *Generator) Generate(ctx context.Context, req Request) *domain.FixSuggestion {
	fp := Fingerprint(req.ErrorLog, req.Context, g.prefix)

	if s, ok := g.cache.Get(fp); ok {
		g.recorder.CacheHit()
		g.logger.Debug("fix cache hit", zap.String("fingerprint", fp[:12]), zap.String("fix_id", s.ID))
		return s
	}

	// The shared computation outlives any single caller; the backend
	// timeout bounds it.
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(fp, func() (any, error) {
		if s, ok := g.cache.Get(fp); ok {
			return s, nil
		}

		start := g.now()
		s, err := g.compute(detached, fp, req)
		if err != nil {
			g.logger.Warn("fix generation degraded to fallback",
				zap.String("fingerprint", fp[:12]),
				zap.Error(err),
			)
			s = g.fallback(req, fp, err)
		} else {
			g.cache.Put(fp, s)
		}

		g.mu.Lock()
		g.lastGenerated = s.CreatedAt
		g.mu.Unlock()

		g.recorder.GenerationObserved(s.Source, g.now().Sub(start))
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.logger.Debug("collapsed concurrent generation", zap.String("fingerprint", fp[:12]))
		}
		return res.Val.(*domain.FixSuggestion)
	case <-ctx.Done():
		return g.fallback(req, fp, domain.WrapError("generate", ctx.Err(), false))
	}
}

func (g *Generator) compute(ctx context.Context, fp string, req Request) (s *domain.FixSuggestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("generation panic: %v", r)
		}
	}()

	class := classifier.ClassifyLog(req.ErrorLog)

	base, err := g.analyze(ctx, req.ErrorLog, req.Context)
	if err != nil {
		return nil, err
	}

	if advisory := base.ErrorAnalysis.ErrorType; advisory != "" && advisory != string(class.Category) {
		g.logger.Debug("backend classification differs",
			zap.String("category", string(class.Category)),
			zap.String("backend_error_type", advisory),
		)
	}

	fix := base.FixSuggestion
	s = &domain.FixSuggestion{
		ID:                g.newID(),
		Description:       fix.Description,
		Steps:             append([]string(nil), fix.Steps...),
		Commands:          append([]string(nil), fix.Commands...),
		Confidence:        clamp(fix.Confidence),
		Reasoning:         base.ErrorAnalysis.RootCause,
		EstimatedTime:     fix.EstimatedTime,
		Category:          class.Category,
		Severity:          class.Severity,
		AdvisoryErrorType: base.ErrorAnalysis.ErrorType,
		Source:            g.source,
		Fingerprint:       fp,
		CreatedAt:         g.now().UTC(),
	}
	if len(s.Steps) == 0 {
		s.Steps = append([]string(nil), investigationSteps...)
	}
	if s.Commands == nil {
		s.Commands = []string{}
	}

	if !req.SkipPatterns && g.patterns != nil {
		g.enhanceWithPatterns(ctx, s)
	}
	if !req.SkipML && g.predictor != nil {
		g.enhanceWithPrediction(req, s)
	}

	s.Alternatives = g.alternatives(ctx, req, s)
	s.RiskLevel = riskTier(s.Confidence, s.Severity)

	g.logger.Info("fix generated",
		zap.String("fix_id", s.ID),
		zap.String("category", string(s.Category)),
		zap.Float64("confidence", s.Confidence),
		zap.String("risk", string(s.RiskLevel)),
	)
	return s, nil
}

// analyze calls the backend with a bounded timeout.
func (g *Generator) analyze(ctx context.Context, errorLog string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	if g.backend == nil {
		return nil, domain.WrapError("generate", domain.ErrAIUnavailable, false)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.backend.Analyze(callCtx, errorLog, repo)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, domain.WrapError("generate", domain.ErrInvalidAIResponse, false)
	}
	if result.RawResponse != "" {
		g.logger.Warn("backend response unparsed, keeping low-confidence analysis",
			zap.Int("raw_length", len(result.RawResponse)))
	}
	return result, nil
}

func (g *Generator) enhanceWithPatterns(ctx context.Context, s *domain.FixSuggestion) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("pattern enhancement skipped", zap.Any("panic", r))
		}
	}()

	snap := g.patterns.Analyze(ctx, g.window)
	if !snap.Available() {
		if snap != nil {
			g.logger.Warn("pattern enhancement skipped", zap.String("error", snap.Error))
		}
		return
	}

	if freq := snap.ErrorTypeCount(s.Category); freq > patternFrequencyMin {
		s.Confidence = clamp(s.Confidence * patternBoost)
		s.Steps = append(s.Steps, fmt.Sprintf(
			"Note: this error type occurred %d times in the last %d days; the fix is based on recurring patterns",
			freq, snap.DaysBack))
	}

	recs := snap.Recommendations
	if len(recs) > maxPatternRecs {
		recs = recs[:maxPatternRecs]
	}
	s.PatternRecommendations = append([]string(nil), recs...)
}

func (g *Generator) enhanceWithPrediction(req Request, s *domain.FixSuggestion) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("ML enhancement skipped", zap.Any("panic", r))
		}
	}()

	p := g.predictor.Predict(req.ErrorLog, s.Description, req.Context)
	insights := &domain.MLInsights{
		Prediction: p.Label,
		Confidence: p.Confidence,
	}

	switch p.Label {
	case domain.PredictionLikelySuccess:
		s.Confidence = clamp(s.Confidence * mlSuccessBoost)
		insights.Factors = append([]string(nil), p.Factors...)
	case domain.PredictionLikelyFailure:
		s.Confidence = clamp(math.Max(s.Confidence*mlFailurePenalty, mlFailureFloor))
		insights.Warning = mlWarning
	}
	s.MLInsights = insights
}

func (g *Generator) alternatives(ctx context.Context, req Request, s *domain.FixSuggestion) []string {
	seen := map[string]bool{s.Description: true}
	var out []string
	add := func(desc string) {
		if desc == "" || seen[desc] || len(out) >= maxAlternatives {
			return
		}
		seen[desc] = true
		out = append(out, desc)
	}

	if alt, err := g.analyze(ctx, req.ErrorLog, req.Context.WithApproach(ai.ApproachAlternative)); err != nil {
		g.logger.Debug("alternative analysis unavailable", zap.Error(err))
	} else if alt.RawResponse == "" {
		add(alt.FixSuggestion.Description)
	}

	canned := cannedAlternatives[s.Category]
	if len(canned) > maxCannedAlternative {
		canned = canned[:maxCannedAlternative]
	}
	for _, desc := range canned {
		add(desc)
	}

	if out == nil {
		out = []string{}
	}
	return out
}

func (g *Generator) fallback(req Request, fp string, cause error) *domain.FixSuggestion {
	class := classifier.ClassifyLog(req.ErrorLog)

	description := fallbackDescriptions[class.Category]
	reasoning := fmt.Sprintf("Automated analysis failed: %v", cause)
	if g.rules != nil {
		if rule, ok := g.rules.Best(req.ErrorLog); ok {
			description = rule.Remedy.Description
			reasoning = rule.Remedy.RootCause + " Automated analysis failed; this remedy comes from the known failure catalogue."
		}
	}

	return &domain.FixSuggestion{
		ID:            g.newID(),
		Description:   description,
		Steps:         append([]string(nil), investigationSteps...),
		Commands:      []string{},
		Confidence:    fallbackConfidence,
		Reasoning:     reasoning,
		EstimatedTime: "30-60 minutes",
		RiskLevel:     domain.RiskHigh,
		Alternatives:  append([]string(nil), fallbackAlternatives...),
		Category:      class.Category,
		Severity:      class.Severity,
		Source:        domain.SourceFallback,
		Fingerprint:   fp,
		CreatedAt:     g.now().UTC(),
	}
}

// Statistics summarizes the live cache.
func (g *Generator) Statistics() Stats {
	values := g.cache.Values()

	var st Stats
	st.TotalCached = len(values)
	var sum float64
	for _, s := range values {
		sum += s.Confidence
		if s.Confidence > lowRiskConfidence {
			st.HighConfidence++
		}
	}
	if len(values) > 0 {
		st.AverageConfidence = sum / float64(len(values))
	}

	g.mu.Lock()
	if !g.lastGenerated.IsZero() {
		last := g.lastGenerated
		st.LastGenerated = &last
	}
	g.mu.Unlock()

	return st
}

// ClearCache drops every cached suggestion.
func (g *Generator) ClearCache() {
	g.cache.Clear()
	g.logger.Info("fix cache cleared")
}

func riskTier(confidence float64, severity domain.Severity) domain.RiskLevel {
	switch {
	case confidence > lowRiskConfidence && severity == domain.SeverityLow:
		return domain.RiskLow
	case confidence < highRiskConfidence && severity.AtLeastHigh():
		return domain.RiskHigh
	default:
		return domain.RiskMedium
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
