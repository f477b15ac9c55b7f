// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cicd_fixer"

// Retrain results.
const (
	RetrainSucceeded = "succeeded"
	RetrainSkipped   = "skipped"
	RetrainFailed    = "failed"
)

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	cacheHits         prometheus.Counter
	fallbacks         prometheus.Counter
	predictions       *prometheus.CounterVec
	feedback          *prometheus.CounterVec
	retrains          *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New creates and registers the pipeline collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_generations_total",
			Help:      "Fix suggestions generated, by source.",
		}, []string{"source"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fix_generation_duration_seconds",
			Help:      "Time spent generating an uncached fix suggestion.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_cache_hits_total",
			Help:      "Fix suggestions served from the fingerprint cache.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_fallbacks_total",
			Help:      "Fallback suggestions returned after the base recommendation failed.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Success predictions, by label.",
		}, []string{"label"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Human decisions recorded, by outcome.",
		}, []string{"outcome"}),
		retrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrains_total",
			Help:      "Predictor retraining attempts, by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generations,
		m.generationLatency,
		m.cacheHits,
		m.fallbacks,
		m.predictions,
		m.feedback,
		m.retrains,
		m.httpRequests,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GenerationObserved records one uncached generation.
func (m *Metrics) GenerationObserved(source domain.SuggestionSource, d time.Duration) {
	m.generations.WithLabelValues(string(source)).Inc()
	m.generationLatency.Observe(d.Seconds())
	if source == domain.SourceFallback {
		m.fallbacks.Inc()
	}
}

// CacheHit records a suggestion served from cache.
func (m *Metrics) CacheHit() {
	m.cacheHits.Inc()
}

// PredictionObserved records a success prediction.
func (m *Metrics) PredictionObserved(label domain.PredictionLabel) {
	m.predictions.WithLabelValues(string(label)).Inc()
}

// FeedbackRecorded records a human decision.
func (m *Metrics) FeedbackRecorded(outcome domain.FeedbackOutcome) {
	m.feedback.WithLabelValues(string(outcome)).Inc()
}

// RetrainObserved records a retraining attempt.
func (m *Metrics) RetrainObserved(result string) {
	m.retrains.WithLabelValues(result).Inc()
}

// RequestServed records an HTTP request.
func (m *Metrics) RequestServed(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
