package patterns

import "context"

const summaryDays = 7

// Summary condenses the last week of failures.
type Summary struct {
	PeriodDays          int      `json:"period_days"`
	TotalFailures       int      `json:"total_failures"`
	TopErrorType        string   `json:"top_error_type,omitempty"`
	TopRepository       string   `json:"top_repository,omitempty"`
	RecommendationCount int      `json:"recommendation_count"`
	Recommendations     []string `json:"recommendations"`
	Error               string   `json:"error,omitempty"`
}

// Summary returns a 7-day digest built from the cached snapshot.
func (a *Analyzer) Summary(ctx context.Context) Summary {
	snap := a.Analyze(ctx, summaryDays)

	s := Summary{
		PeriodDays:          summaryDays,
		TotalFailures:       snap.TotalAnalyzed,
		RecommendationCount: len(snap.Recommendations),
		Recommendations:     snap.Recommendations,
		Error:               snap.Error,
	}
	if len(snap.ErrorTypes) > 0 {
		s.TopErrorType = snap.ErrorTypes[0].Key
	}
	if len(snap.RepositoryFailures) > 0 {
		s.TopRepository = snap.RepositoryFailures[0].Key
	}
	return s
}
