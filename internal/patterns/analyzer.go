// Package patterns aggregates failure history into frequency tables and
// derives operational recommendations from them.
package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/cicd-fixer/internal/cache"
	"github.com/cicd-fixer/internal/classifier"
	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultDaysBack is the window used when the caller passes zero.
	DefaultDaysBack = 30

	topN = 10

	dependencyThreshold = 5
	testThreshold       = 10
	approvalThreshold   = 0.7
)

// FailureSource reads failure history.
type FailureSource interface {
	ListFailures(ctx context.Context, since time.Time) ([]domain.FailureRecord, error)
}

// Analyzer builds PatternSnapshots and caches them per window length.
type Analyzer struct {
	source  FailureSource
	cache   *cache.TTL[int, *domain.PatternSnapshot]
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures an Analyzer.
type Option func(*config)

type config struct {
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// WithCacheTTL sets how long snapshots are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithTimeout bounds each history read.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates an Analyzer reading from source.
func New(source FailureSource, logger *zap.Logger, opts ...Option) *Analyzer {
	cfg := config{ttl: time.Hour, timeout: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Analyzer{
		source:  source,
		cache:   cache.New[int, *domain.PatternSnapshot](cfg.ttl, cache.WithClock(cfg.now)),
		timeout: cfg.timeout,
		now:     cfg.now,
		logger:  logger.Named("patterns"),
	}
}

// Analyze returns the snapshot for the last daysBack days. It never fails:
// when history cannot be read the snapshot carries Error and is not cached.
func (a *Analyzer) Analyze(ctx context.Context, daysBack int) *domain.PatternSnapshot {
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}
	if snap, ok := a.cache.Get(daysBack); ok {
		return snap
	}

	now := a.now().UTC()
	readCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	records, err := a.source.ListFailures(readCtx, now.AddDate(0, 0, -daysBack))
	if err != nil {
		a.logger.Warn("pattern analysis unavailable",
			zap.Int("days_back", daysBack),
			zap.Error(err),
		)
		return &domain.PatternSnapshot{
			DaysBack:       daysBack,
			AnalysisPeriod: period(daysBack),
			HourlyFailures: map[int]int{},
			AnalyzedAt:     now,
			Error:          err.Error(),
		}
	}

	snap := aggregate(records, daysBack, now)
	a.cache.Put(daysBack, snap)

	a.logger.Debug("pattern analysis completed",
		zap.Int("days_back", daysBack),
		zap.Int("records", len(records)),
		zap.Int("recommendations", len(snap.Recommendations)),
	)
	return snap
}

// Clear drops every cached snapshot.
func (a *Analyzer) Clear() {
	a.cache.Clear()
}

func aggregate(records []domain.FailureRecord, daysBack int, now time.Time) *domain.PatternSnapshot {
	repos := make(map[string]int)
	categories := make(map[string]int)
	hours := make(map[int]int)
	var outcomes domain.FixOutcomes

	for _, rec := range records {
		repos[rec.RepoKey()]++
		categories[string(classifier.Classify(rec.Logs))]++
		hours[rec.CreatedAt.UTC().Hour()]++

		if rec.FixID != "" {
			outcomes.Total++
		}
		switch rec.FixStatus {
		case domain.FixStatusApproved:
			outcomes.Approved++
		case domain.FixStatusRejected:
			outcomes.Rejected++
		}
	}

	snap := &domain.PatternSnapshot{
		DaysBack:           daysBack,
		AnalysisPeriod:     period(daysBack),
		TotalAnalyzed:      len(records),
		RepositoryFailures: domain.RankCounts(repos, topN),
		ErrorTypes:         domain.RankCounts(categories, topN),
		HourlyFailures:     hours,
		FixOutcomes:        outcomes,
		AnalyzedAt:         now,
	}
	snap.Recommendations = recommend(snap)
	return snap
}

func recommend(snap *domain.PatternSnapshot) []string {
	recs := []string{}

	if len(snap.RepositoryFailures) > 0 {
		top := snap.RepositoryFailures[0]
		recs = append(recs, fmt.Sprintf(
			"Repository %s has %d failures. Consider implementing automated testing and dependency management.",
			top.Key, top.Count))
	}

	if snap.ErrorTypeCount(domain.CategoryDependency) > dependencyThreshold {
		recs = append(recs, "High number of dependency errors detected. Consider implementing dependency scanning and automated updates.")
	}

	if snap.ErrorTypeCount(domain.CategoryTest) > testThreshold {
		recs = append(recs, "Frequent test failures detected. Review test stability and implement flaky test detection.")
	}

	if hour, ok := peakHour(snap.HourlyFailures); ok {
		recs = append(recs, fmt.Sprintf(
			"Peak failure time detected at %d:00. Consider scheduling maintenance during off-peak hours.", hour))
	}

	decided := snap.FixOutcomes.Approved + snap.FixOutcomes.Rejected
	if decided > 0 {
		rate := float64(snap.FixOutcomes.Approved) / float64(decided)
		if rate < approvalThreshold {
			recs = append(recs, fmt.Sprintf(
				"Low fix approval rate (%.1f%%). Review fix generation quality and user feedback.", rate*100))
		}
	}

	return recs
}

// peakHour returns the hour with the most failures; ties go to the earliest.
func peakHour(hours map[int]int) (int, bool) {
	best, bestCount := 0, 0
	for h := 0; h < 24; h++ {
		if hours[h] > bestCount {
			best, bestCount = h, hours[h]
		}
	}
	return best, bestCount > 0
}

func period(daysBack int) string {
	return fmt.Sprintf("%d days", daysBack)
}
