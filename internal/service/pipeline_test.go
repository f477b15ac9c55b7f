package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cicd-fixer/internal/ai"
	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/feedback"
	"github.com/cicd-fixer/internal/generator"
	"github.com/cicd-fixer/internal/patterns"
	"github.com/cicd-fixer/internal/predictor"
	"github.com/cicd-fixer/internal/rules"
	"github.com/cicd-fixer/internal/scm"
	"github.com/cicd-fixer/internal/similar"
	"github.com/cicd-fixer/internal/store"
	"github.com/cicd-fixer/pkg/sanitizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const missingManifestLog = "npm ERR! code ENOENT\nnpm ERR! enoent ENOENT: no such file or directory, open '/home/runner/work/web/package.json'"

type fakeSCM struct {
	mu      sync.Mutex
	logs    string
	logsErr error
	prErr   error
	prs     []scm.FixRequest
}

func (f *fakeSCM) Run(_ context.Context, _, _ string, runID int64) (*scm.WorkflowRun, error) {
	return &scm.WorkflowRun{ID: runID, Name: "CI"}, nil
}

func (f *fakeSCM) RunLogs(context.Context, string, string, int64) (string, error) {
	return f.logs, f.logsErr
}

func (f *fakeSCM) CreateFixPR(_ context.Context, req scm.FixRequest) (*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prErr != nil {
		return nil, f.prErr
	}
	f.prs = append(f.prs, req)
	return &scm.PullRequest{Number: 3, HTMLURL: "https://github.com/acme/web/pull/3", Branch: "cicd-fix"}, nil
}

type failingBackend struct{}

func (failingBackend) Analyze(context.Context, string, domain.RepoContext) (*domain.BackendAnalysis, error) {
	return nil, domain.WrapError("analyze", domain.ErrAIUnavailable, true)
}

func (failingBackend) HealthCheck(context.Context) error {
	return errors.New("connection refused")
}

type fixture struct {
	pipeline *Pipeline
	store    *store.SQLite
	index    *similar.Index
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "pipeline.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := similar.New(0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	engine := rules.NewEngine(rules.DefaultRules(), 0.8, logger)
	pred := predictor.New(logger)
	pat := patterns.New(st, logger)

	if deps.Backend == nil {
		deps.Backend = ai.NewRuleClient(engine, logger)
	}
	deps.Store = st
	deps.Predictor = pred
	deps.Patterns = pat
	deps.Similar = idx
	deps.Sanitizer = sanitizer.New(200000)
	deps.Feedback = feedback.New(st, pred, logger, feedback.WithInvalidator(pat))
	deps.Generator = generator.New(deps.Backend, logger,
		generator.WithSource(domain.SourceRuleBased),
		generator.WithRules(engine),
		generator.WithPatterns(pat),
		generator.WithPredictor(pred),
	)

	return &fixture{pipeline: New(deps, logger), store: st, index: idx}
}

func (f *fixture) analyze(t *testing.T) *AnalyzeResult {
	t.Helper()
	res, err := f.pipeline.Analyze(context.Background(), AnalyzeRequest{
		Owner: "acme",
		Repo:  "web",
		Logs:  missingManifestLog,
	})
	require.NoError(t, err)
	return res
}

func TestAnalyze_PersistsSuggestion(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	res := f.analyze(t)
	require.NotNil(t, res.Suggestion)
	assert.True(t, res.Persisted)
	assert.False(t, res.Degraded)
	assert.Equal(t, domain.CategoryDependency, res.Classification.Category)
	assert.Equal(t, domain.CategoryDependency, res.Suggestion.Category)
	assert.Equal(t, "javascript", res.Context.Language)
	assert.Equal(t, "npm", res.Context.BuildSystem)

	rec, err := f.store.GetFailure(ctx, res.FailureID)
	require.NoError(t, err)
	assert.Equal(t, res.Suggestion.ID, rec.FixID)
	assert.Equal(t, domain.FixStatusPending, rec.FixStatus)

	pending, err := f.pipeline.PendingFixes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.FailureID, pending[0].ID)
}

func TestAnalyze_Validation(t *testing.T) {
	f := newFixture(t, Deps{})

	tests := []struct {
		name string
		req  AnalyzeRequest
		want error
	}{
		{name: "missing repo", req: AnalyzeRequest{Owner: "acme", Logs: "x"}},
		{name: "no logs and no run", req: AnalyzeRequest{Owner: "acme", Repo: "web"}, want: domain.ErrNoLogs},
		{name: "only noise", req: AnalyzeRequest{Owner: "acme", Repo: "web", Logs: "\x1b[0m"}, want: domain.ErrEmptyLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Analyze(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err), "got %v", err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestAnalyze_FetchesRunLogs(t *testing.T) {
	source := &fakeSCM{logs: "=== 1_build.txt ===\n" + missingManifestLog}
	f := newFixture(t, Deps{SCM: source})

	res, err := f.pipeline.Analyze(context.Background(), AnalyzeRequest{Owner: "acme", Repo: "web", RunID: 42})
	require.NoError(t, err)

	rec, err := f.store.GetFailure(context.Background(), res.FailureID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.RunID)
	assert.Equal(t, "CI", rec.WorkflowName)
	assert.Contains(t, rec.Logs, "package.json")
}

func TestAnalyze_CouldNotAnalyze(t *testing.T) {
	tests := []struct {
		name string
		scm  SCM
	}{
		{name: "no integration"},
		{name: "download failed", scm: &fakeSCM{logsErr: domain.WrapError("get_run_logs", errors.New("boom"), true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Deps{SCM: tt.scm})
			_, err := f.pipeline.Analyze(context.Background(), AnalyzeRequest{Owner: "acme", Repo: "web", RunID: 7})
			assert.ErrorIs(t, err, ErrAnalysisFailed)
			assert.False(t, domain.IsValidation(err))
		})
	}
}

func TestFeedback_ApproveIndexesSimilarFix(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	res := f.analyze(t)

	fb, err := f.pipeline.Feedback(ctx, FeedbackRequest{FixID: res.Suggestion.ID, Outcome: "Approve"})
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackApprove, fb.Outcome)

	count, err := f.index.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	matches, err := f.pipeline.SimilarFixes(ctx, SimilarRequest{ErrorLog: "ENOENT package.json"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Suggestion.ID, matches[0].FixID)
	assert.Equal(t, "acme/web", matches[0].Repository)

	detail, err := f.pipeline.Fix(ctx, res.Suggestion.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FixStatusApproved, detail.Status)
	require.Len(t, detail.Feedback, 1)
	assert.Equal(t, "acme", detail.Failure.Owner)

	n, err := f.pipeline.RebuildSimilarIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFeedback_Errors(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	_, err := f.pipeline.Reject(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.pipeline.Feedback(ctx, FeedbackRequest{FixID: "x", Outcome: "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	assert.True(t, domain.IsValidation(err))
}

func TestApprove_CreatesPullRequest(t *testing.T) {
	source := &fakeSCM{}
	f := newFixture(t, Deps{SCM: source})
	ctx := context.Background()
	res := f.analyze(t)

	out, err := f.pipeline.Approve(ctx, res.Suggestion.ID, "looks right", true)
	require.NoError(t, err)
	require.NotNil(t, out.PullRequest)
	assert.Empty(t, out.PRError)

	require.Len(t, source.prs, 1)
	assert.Equal(t, "web", source.prs[0].Repo)
	assert.Equal(t, "javascript", source.prs[0].Context.Language)
	assert.Equal(t, res.Suggestion.ID, source.prs[0].Suggestion.ID)

	detail, err := f.pipeline.Fix(ctx, res.Suggestion.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/web/pull/3", detail.PRURL)
}

func TestApprove_PullRequestFailureKeepsApproval(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	res := f.analyze(t)

	out, err := f.pipeline.Approve(ctx, res.Suggestion.ID, "", true)
	require.NoError(t, err)
	assert.Nil(t, out.PullRequest)
	assert.Equal(t, domain.ErrSCMUnavailable.Error(), out.PRError)

	detail, err := f.pipeline.Fix(ctx, res.Suggestion.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FixStatusApproved, detail.Status)
}

func TestPredict_Persists(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	req := PredictRequest{ErrorLog: missingManifestLog, SuggestedFix: "npm install"}

	first, err := f.pipeline.Predict(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.pipeline.Predict(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Label, second.Label)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)

	_, err = f.pipeline.Predict(ctx, PredictRequest{ErrorLog: " "})
	assert.True(t, domain.IsValidation(err))
}

func TestRetrain_NothingToLearn(t *testing.T) {
	f := newFixture(t, Deps{})

	_, err := f.pipeline.Retrain(context.Background(), false)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, feedback.ErrNothingNew)

	assert.True(t, f.pipeline.EnqueueRetrain())
	assert.False(t, f.pipeline.EnqueueRetrain(), "already queued")
	assert.False(t, f.pipeline.Model().IsTrained)
}

func TestHandleWebhook(t *testing.T) {
	source := &fakeSCM{logs: missingManifestLog}
	f := newFixture(t, Deps{SCM: source, WebhookSecret: "s3cret"})
	ctx := context.Background()

	body := []byte(`{"action":"completed","workflow_run":{"id":99,"name":"CI","conclusion":"failure"},"repository":{"name":"web","owner":{"login":"acme"}}}`)

	_, err := f.pipeline.HandleWebhook("workflow_run", "sha256=00", body)
	assert.ErrorIs(t, err, scm.ErrBadSignature)

	res, err := f.pipeline.HandleWebhook("push", scm.Sign("s3cret", body), body)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = f.pipeline.HandleWebhook("workflow_run", scm.Sign("s3cret", body), body)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	f.pipeline.Wait()
	history, err := f.pipeline.History(ctx, "acme", "web", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(99), history[0].RunID)
	assert.NotEmpty(t, history[0].FixID)
}

func TestReady(t *testing.T) {
	f := newFixture(t, Deps{})
	r := f.pipeline.Ready(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "ok", r.Checks["store"])
	assert.Equal(t, "heuristic", r.Checks["predictor"])

	f = newFixture(t, Deps{Backend: failingBackend{}})
	r = f.pipeline.Ready(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "connection refused", r.Checks["reasoning_backend"])
}

func TestFixStatsAndPatterns(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	f.analyze(t)

	stats := f.pipeline.FixStats()
	assert.Equal(t, 1, stats.TotalCached)
	require.NotNil(t, stats.LastGenerated)
	assert.WithinDuration(t, time.Now(), *stats.LastGenerated, time.Minute)

	snap := f.pipeline.Patterns(ctx, 7)
	assert.True(t, snap.Available())
	assert.Equal(t, 1, snap.TotalAnalyzed)

	assert.Equal(t, 1, f.pipeline.Summary(ctx).TotalFailures)

	f.pipeline.ClearFixCache()
	assert.Equal(t, 0, f.pipeline.FixStats().TotalCached)
}
