package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cicd-fixer/internal/ai"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const npmLog = "npm ERR! enoent ENOENT: no such file or directory, open 'package.json'"

type fakeBackend struct {
	base      atomic.Int32
	alternate atomic.Int32
	analyze   func(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error)
}

func (f *fakeBackend) Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	if repo.Approach == ai.ApproachAlternative {
		f.alternate.Add(1)
	} else {
		f.base.Add(1)
	}
	return f.analyze(ctx, log, repo)
}

func (f *fakeBackend) HealthCheck(context.Context) error { return nil }

func answering(confidence float64) *fakeBackend {
	return &fakeBackend{analyze: func(_ context.Context, _ string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
		desc := "Restore package.json from the last good commit"
		if repo.Approach == ai.ApproachAlternative {
			desc = "Regenerate package.json with npm init and reinstall"
		}
		return &domain.BackendAnalysis{
			ErrorAnalysis: domain.ErrorAnalysis{ErrorType: "missing_manifest", RootCause: "package.json missing"},
			FixSuggestion: domain.FixProposal{
				Description: desc,
				Steps:       []string{"git checkout HEAD~1 -- package.json"},
				Commands:    []string{"npm ci"},
				Confidence:  confidence,
			},
		}, nil
	}}
}

func failing() *fakeBackend {
	return &fakeBackend{analyze: func(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
		return nil, domain.WrapError("http_request", domain.ErrAIUnavailable, true)
	}}
}

type fakePatterns struct {
	snap *domain.PatternSnapshot
}

func (f *fakePatterns) Analyze(context.Context, int) *domain.PatternSnapshot { return f.snap }

func snapshotWith(category domain.ErrorCategory, count int, recs ...string) *fakePatterns {
	return &fakePatterns{snap: &domain.PatternSnapshot{
		DaysBack:        30,
		ErrorTypes:      []domain.KeyCount{{Key: string(category), Count: count}},
		Recommendations: recs,
	}}
}

type fakePredictor struct {
	result domain.PredictionResult
	calls  atomic.Int32
}

func (f *fakePredictor) Predict(string, string, domain.RepoContext) domain.PredictionResult {
	f.calls.Add(1)
	return f.result
}

type panicPredictor struct{}

func (panicPredictor) Predict(string, string, domain.RepoContext) domain.PredictionResult {
	panic("model exploded")
}

var base = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func request() Request {
	return Request{ErrorLog: npmLog, Context: domain.RepoContext{Language: "javascript"}}
}

func TestFingerprint(t *testing.T) {
	js := domain.RepoContext{Language: "javascript"}

	assert.Equal(t, Fingerprint("abcdef", js, 3), Fingerprint("abcxyz", js, 3), "only the prefix counts")
	assert.NotEqual(t, Fingerprint("abc", js, 3), Fingerprint("abc", domain.RepoContext{Language: "python"}, 3))
	assert.NotEqual(t, Fingerprint("abc", js, 3), Fingerprint("abc", domain.RepoContext{Language: "javascript", Framework: "react"}, 3))
	assert.Equal(t, Fingerprint("abc", js, 3), Fingerprint("abc", js.WithApproach("alternative"), 3), "approach is not part of the key")
	assert.Len(t, Fingerprint("", domain.RepoContext{}, 200), 64)
}

func TestGenerate_CachedWithinTTL(t *testing.T) {
	current := base
	backend := answering(0.7)
	g := New(backend, zap.NewNop(), WithClock(func() time.Time { return current }))
	ctx := context.Background()

	first := g.Generate(ctx, request())
	second := g.Generate(ctx, request())
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), backend.base.Load())

	current = current.Add(DefaultCacheTTL - time.Second)
	assert.Equal(t, first.ID, g.Generate(ctx, request()).ID)

	current = current.Add(time.Second)
	third := g.Generate(ctx, request())
	assert.NotEqual(t, first.ID, third.ID, "new id after TTL expiry")
	assert.Equal(t, int32(2), backend.base.Load())
}

func TestGenerate_FallbackWhenBackendFails(t *testing.T) {
	backend := failing()
	engine := rules.NewEngine(rules.DefaultRules(), 0.8, zap.NewNop())
	g := New(backend, zap.NewNop(), WithRules(engine), WithClock(func() time.Time { return base }))

	s := g.Generate(context.Background(), request())

	require.NotNil(t, s)
	assert.Equal(t, domain.RiskHigh, s.RiskLevel)
	assert.Equal(t, 0.1, s.Confidence)
	assert.Equal(t, domain.SourceFallback, s.Source)
	assert.Equal(t, domain.CategoryDependency, s.Category)
	assert.Contains(t, s.Description, "package.json")
	assert.Len(t, s.Alternatives, 3)
	assert.NotEmpty(t, s.Steps)
	assert.NotEmpty(t, s.ID)

	g.Generate(context.Background(), request())
	assert.Equal(t, int32(2), backend.base.Load(), "fallbacks are not cached")
}

func TestGenerate_FallbackWithoutBackend(t *testing.T) {
	g := New(nil, zap.NewNop())
	s := g.Generate(context.Background(), Request{ErrorLog: "exit code 1"})

	assert.True(t, s.IsFallback())
	assert.Equal(t, "Manual investigation required", s.Description)
	assert.Equal(t, domain.CategoryUnknown, s.Category)
}

func TestGenerate_FallbackOnPanic(t *testing.T) {
	backend := &fakeBackend{analyze: func(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
		panic("boom")
	}}
	g := New(backend, zap.NewNop())

	s := g.Generate(context.Background(), request())
	assert.True(t, s.IsFallback())
	assert.Equal(t, 0.1, s.Confidence)
}

func TestGenerate_BackendTimeout(t *testing.T) {
	backend := &fakeBackend{analyze: func(ctx context.Context, _ string, _ domain.RepoContext) (*domain.BackendAnalysis, error) {
		<-ctx.Done()
		return nil, domain.WrapError("ai_timeout", domain.ErrAITimeout, true)
	}}
	g := New(backend, zap.NewNop(), WithBackendTimeout(10*time.Millisecond))

	s := g.Generate(context.Background(), request())
	assert.True(t, s.IsFallback())
}

func TestGenerate_PatternBoost(t *testing.T) {
	tests := []struct {
		name      string
		frequency int
		want      float64
		noted     bool
	}{
		{name: "frequency above ten boosts", frequency: 11, want: 0.84, noted: true},
		{name: "frequency of ten does not", frequency: 10, want: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns := snapshotWith(domain.CategoryDependency, tt.frequency, "r1", "r2", "r3", "r4")
			g := New(answering(0.7), zap.NewNop(), WithPatterns(patterns))

			s := g.Generate(context.Background(), Request{
				ErrorLog: npmLog,
				Context:  domain.RepoContext{Language: "javascript"},
				SkipML:   true,
			})

			assert.InDelta(t, tt.want, s.Confidence, 1e-9)
			assert.LessOrEqual(t, s.Confidence, 0.84+1e-9)
			assert.Equal(t, []string{"r1", "r2", "r3"}, s.PatternRecommendations)
			last := s.Steps[len(s.Steps)-1]
			if tt.noted {
				assert.Contains(t, last, fmt.Sprintf("occurred %d times", tt.frequency))
			} else {
				assert.Equal(t, "git checkout HEAD~1 -- package.json", last)
			}
		})
	}
}

func TestGenerate_PatternOutageStillRunsML(t *testing.T) {
	patterns := &fakePatterns{snap: &domain.PatternSnapshot{Error: "database is locked"}}
	predictor := &fakePredictor{result: domain.PredictionResult{Label: domain.PredictionLikelySuccess, Confidence: 0.9}}
	g := New(answering(0.7), zap.NewNop(), WithPatterns(patterns), WithPredictor(predictor))

	s := g.Generate(context.Background(), request())

	assert.False(t, s.IsFallback())
	assert.Empty(t, s.PatternRecommendations)
	assert.InDelta(t, 0.77, s.Confidence, 1e-9)
	assert.Equal(t, int32(1), predictor.calls.Load())
}

func TestGenerate_MLReweighting(t *testing.T) {
	tests := []struct {
		name        string
		base        float64
		label       domain.PredictionLabel
		want        float64
		wantWarning bool
	}{
		{name: "likely success boosts", base: 0.7, label: domain.PredictionLikelySuccess, want: 0.77},
		{name: "likely failure penalizes", base: 0.7, label: domain.PredictionLikelyFailure, want: 0.56, wantWarning: true},
		{name: "penalty is floored", base: 0.1, label: domain.PredictionLikelyFailure, want: 0.1, wantWarning: true},
		{name: "uncertain leaves confidence", base: 0.7, label: domain.PredictionUncertain, want: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predictor := &fakePredictor{result: domain.PredictionResult{
				Label:      tt.label,
				Confidence: 0.6,
				Factors:    []string{"Language: javascript"},
			}}
			g := New(answering(tt.base), zap.NewNop(), WithPredictor(predictor))

			s := g.Generate(context.Background(), request())

			assert.InDelta(t, tt.want, s.Confidence, 1e-9)
			require.NotNil(t, s.MLInsights)
			assert.Equal(t, tt.label, s.MLInsights.Prediction)
			if tt.wantWarning {
				assert.Equal(t, "ML model predicts low success likelihood", s.MLInsights.Warning)
			} else {
				assert.Empty(t, s.MLInsights.Warning)
			}
		})
	}
}

func TestGenerate_PredictorPanicSkipsStep(t *testing.T) {
	g := New(answering(0.7), zap.NewNop(), WithPredictor(panicPredictor{}))

	s := g.Generate(context.Background(), request())
	assert.False(t, s.IsFallback())
	assert.InDelta(t, 0.7, s.Confidence, 1e-9)
	assert.Nil(t, s.MLInsights)
}

func TestGenerate_ConfidenceBounds(t *testing.T) {
	for _, conf := range []float64{-0.5, 0, 0.5, 0.95, 1, 3} {
		patterns := snapshotWith(domain.CategoryDependency, 50)
		predictor := &fakePredictor{result: domain.PredictionResult{Label: domain.PredictionLikelySuccess}}
		g := New(answering(conf), zap.NewNop(), WithPatterns(patterns), WithPredictor(predictor))

		s := g.Generate(context.Background(), request())
		assert.GreaterOrEqual(t, s.Confidence, 0.0, "base %v", conf)
		assert.LessOrEqual(t, s.Confidence, 1.0, "base %v", conf)
	}
}

func TestGenerate_Alternatives(t *testing.T) {
	g := New(answering(0.7), zap.NewNop())
	s := g.Generate(context.Background(), request())

	assert.Equal(t, []string{
		"Regenerate package.json with npm init and reinstall",
		"Clear the package manager cache and reinstall dependencies",
		"Pin dependency versions in the lock file",
		"Check for version conflicts between direct dependencies",
	}, s.Alternatives)
	assert.NotContains(t, s.Alternatives, s.Description)
}

func TestGenerate_AlternativeSameAsBaseDropped(t *testing.T) {
	backend := &fakeBackend{analyze: func(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
		return &domain.BackendAnalysis{FixSuggestion: domain.FixProposal{
			Description: "Fix the assertion",
			Steps:       []string{"edit test"},
			Confidence:  0.6,
		}}, nil
	}}
	g := New(backend, zap.NewNop())

	s := g.Generate(context.Background(), Request{ErrorLog: "jest: 2 tests failed"})
	assert.Equal(t, domain.CategoryTest, s.Category)
	assert.Len(t, s.Alternatives, 3)
	assert.NotContains(t, s.Alternatives, "Fix the assertion")
	assert.Equal(t, int32(1), backend.alternate.Load())
}

func TestGenerate_UnparsedBackendAnswer(t *testing.T) {
	backend := &fakeBackend{analyze: func(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
		return ai.UnparsedAnalysis("not json"), nil
	}}
	g := New(backend, zap.NewNop())

	s := g.Generate(context.Background(), request())
	assert.False(t, s.IsFallback(), "analyzed with low confidence is not a failure")
	assert.Equal(t, 0.0, s.Confidence)
	assert.Equal(t, "Unable to parse AI response", s.Reasoning)
	assert.NotEmpty(t, s.Steps)
	assert.Equal(t, "unknown", s.AdvisoryErrorType)
}

func TestGenerate_ClassifierIsAuthoritative(t *testing.T) {
	g := New(answering(0.7), zap.NewNop())
	s := g.Generate(context.Background(), request())

	assert.Equal(t, domain.CategoryDependency, s.Category)
	assert.Equal(t, domain.SeverityMedium, s.Severity)
	assert.Equal(t, "missing_manifest", s.AdvisoryErrorType)
	assert.Equal(t, domain.RiskMedium, s.RiskLevel)
}

func TestGenerate_CollapsesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	inner := answering(0.7)
	backend := &fakeBackend{analyze: func(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
		<-release
		return inner.analyze(ctx, log, repo)
	}}
	g := New(backend, zap.NewNop())

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = g.Generate(context.Background(), request()).ID
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), backend.base.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestGenerate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	inner := answering(0.7)
	backend := &fakeBackend{analyze: func(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, domain.WrapError("ai_timeout", domain.ErrAITimeout, true)
		}
		return inner.analyze(ctx, log, repo)
	}}
	g := New(backend, zap.NewNop())

	leaderCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	leaderDone := make(chan *domain.FixSuggestion, 1)
	go func() { leaderDone <- g.Generate(leaderCtx, request()) }()

	require.Eventually(t, func() bool { return backend.base.Load() == 1 }, time.Second, time.Millisecond)

	followerDone := make(chan *domain.FixSuggestion, 1)
	go func() { followerDone <- g.Generate(context.Background(), request()) }()

	leader := <-leaderDone
	assert.True(t, leader.IsFallback(), "the cancelled caller gets its own fallback")

	time.Sleep(10 * time.Millisecond)
	close(release)

	var follower *domain.FixSuggestion
	select {
	case follower = <-followerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not return")
	}
	assert.False(t, follower.IsFallback())
	assert.Equal(t, 0.7, follower.Confidence)
	assert.Equal(t, int32(1), backend.base.Load())
	assert.Same(t, follower, g.Generate(context.Background(), request()), "the shared result is cached")
}

func TestRiskTier(t *testing.T) {
	tests := []struct {
		confidence float64
		severity   domain.Severity
		want       domain.RiskLevel
	}{
		{0.9, domain.SeverityLow, domain.RiskLow},
		{0.8, domain.SeverityLow, domain.RiskMedium},
		{0.4, domain.SeverityHigh, domain.RiskHigh},
		{0.4, domain.SeverityCritical, domain.RiskHigh},
		{0.5, domain.SeverityHigh, domain.RiskMedium},
		{0.9, domain.SeverityMedium, domain.RiskMedium},
		{0.1, domain.SeverityMedium, domain.RiskMedium},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v_%s", tt.confidence, tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.want, riskTier(tt.confidence, tt.severity))
		})
	}
}

func TestStatisticsAndClear(t *testing.T) {
	backend := &fakeBackend{analyze: func(_ context.Context, log string, _ domain.RepoContext) (*domain.BackendAnalysis, error) {
		conf := 0.5
		if log == "first" {
			conf = 0.9
		}
		return &domain.BackendAnalysis{FixSuggestion: domain.FixProposal{
			Description: "fix " + log, Steps: []string{"s"}, Confidence: conf,
		}}, nil
	}}
	g := New(backend, zap.NewNop(), WithClock(func() time.Time { return base }))
	ctx := context.Background()

	assert.Nil(t, g.Statistics().LastGenerated)

	g.Generate(ctx, Request{ErrorLog: "first"})
	g.Generate(ctx, Request{ErrorLog: "second"})

	st := g.Statistics()
	assert.Equal(t, 2, st.TotalCached)
	assert.Equal(t, 1, st.HighConfidence)
	assert.InDelta(t, 0.7, st.AverageConfidence, 1e-9)
	require.NotNil(t, st.LastGenerated)
	assert.True(t, st.LastGenerated.Equal(base))

	g.ClearCache()
	assert.Equal(t, 0, g.Statistics().TotalCached)
}

func TestGenerate_ErrorKindFromBackend(t *testing.T) {
	err := domain.WrapError("http_request", errors.New("connection refused"), true)
	assert.True(t, domain.IsRetryable(err))

	backend := &fakeBackend{analyze: func(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
		return nil, err
	}}
	s := New(backend, zap.NewNop()).Generate(context.Background(), request())
	assert.Contains(t, s.Reasoning, "connection refused")
}
