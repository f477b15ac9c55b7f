package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationObserved(t *testing.T) {
	m := New()

	m.GenerationObserved(domain.SourceReasoningBackend, 300*time.Millisecond)
	m.GenerationObserved(domain.SourceFallback, 10*time.Millisecond)
	m.GenerationObserved(domain.SourceFallback, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("reasoning_backend")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1, testutil.CollectAndCount(m.generationLatency))
}

func TestCounters(t *testing.T) {
	m := New()

	m.CacheHit()
	m.PredictionObserved(domain.PredictionLikelySuccess)
	m.FeedbackRecorded(domain.FeedbackApprove)
	m.FeedbackRecorded(domain.FeedbackReject)
	m.RetrainObserved(RetrainSkipped)
	m.RequestServed(http.MethodPost, "/api/v1/analyze", http.StatusOK)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictions.WithLabelValues("likely_success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.feedback))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrains.WithLabelValues(RetrainSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/analyze", "200")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheHit()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "cicd_fixer_fix_cache_hits_total 1"))
}
