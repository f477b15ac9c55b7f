// Package domain contains the core domain models and types.
// These models represent the pipeline's value contracts and are independent
// of any infrastructure concerns. Values are constructed once and never
// mutated after they leave the component that built them.
package domain

import (
	"sort"
	"time"
)

// ErrorCategory is the coarse failure class assigned by the classifier.
type ErrorCategory string

const (
	CategoryDependency ErrorCategory = "dependency_error"
	CategoryTest       ErrorCategory = "test_failure"
	CategoryBuild      ErrorCategory = "build_error"
	CategoryPermission ErrorCategory = "permission_error"
	CategoryTimeout    ErrorCategory = "timeout_error"
	CategoryResource   ErrorCategory = "resource_error"
	CategoryUnknown    ErrorCategory = "unknown_error"
)

// Categories lists every category in classification priority order.
var Categories = []ErrorCategory{
	CategoryDependency,
	CategoryTest,
	CategoryBuild,
	CategoryPermission,
	CategoryTimeout,
	CategoryResource,
	CategoryUnknown,
}

// Severity represents the impact level of a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is one of the allowed values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// AtLeastHigh reports whether the severity is high or critical.
func (s Severity) AtLeastHigh() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// RiskLevel estimates how safe it is to apply a fix unattended.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ErrorClassification is derived from a log on demand and never stored.
type ErrorClassification struct {
	Category ErrorCategory `json:"category"`
	Severity Severity      `json:"severity"`
}

// RepoContext describes the repository a failure came from.
type RepoContext struct {
	Language    string `json:"language,omitempty" yaml:"language"`
	Framework   string `json:"framework,omitempty" yaml:"framework"`
	BuildSystem string `json:"build_system,omitempty" yaml:"build_system"`

	// Approach is a hint passed to the reasoning backend, e.g. "alternative".
	Approach string `json:"approach,omitempty" yaml:"-"`
}

// WithApproach returns a copy of the context carrying the given approach hint.
func (r RepoContext) WithApproach(approach string) RepoContext {
	r.Approach = approach
	return r
}

// FixStatus tracks the human decision on a failure's suggested fix.
type FixStatus string

const (
	FixStatusPending  FixStatus = "pending"
	FixStatusApproved FixStatus = "approved"
	FixStatusRejected FixStatus = "rejected"
)

// FailureRecord is one CI run's failure context.
type FailureRecord struct {
	ID           int64       `json:"id"`
	Owner        string      `json:"owner"`
	Repo         string      `json:"repo"`
	RunID        int64       `json:"run_id,omitempty"`
	WorkflowName string      `json:"workflow_name,omitempty"`
	Logs         string      `json:"failure_logs"`
	Context      RepoContext `json:"repository_context"`
	FixStatus    FixStatus   `json:"fix_status"`

	// Written once, after analysis completes.
	FixID           string   `json:"fix_id,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RepoKey returns the "owner/repo" identity of the record.
func (r FailureRecord) RepoKey() string {
	owner, repo := r.Owner, r.Repo
	if owner == "" {
		owner = "unknown"
	}
	if repo == "" {
		repo = "unknown"
	}
	return owner + "/" + repo
}

// SuggestionSource records which path produced a FixSuggestion.
type SuggestionSource string

const (
	SourceReasoningBackend SuggestionSource = "reasoning_backend"
	SourceRuleBased        SuggestionSource = "rule_based"
	SourceFallback         SuggestionSource = "fallback"
)

// MLInsights carries the success predictor's view of a suggestion.
type MLInsights struct {
	Prediction PredictionLabel `json:"prediction"`
	Confidence float64         `json:"confidence"`
	Factors    []string        `json:"factors,omitempty"`
	Warning    string          `json:"warning,omitempty"`
}

// FixSuggestion is the pipeline's primary output.
type FixSuggestion struct {
	ID            string    `json:"fix_id"`
	Description   string    `json:"description"`
	Steps         []string  `json:"steps"`
	Commands      []string  `json:"commands"`
	Confidence    float64   `json:"confidence"`
	Reasoning     string    `json:"reasoning"`
	EstimatedTime string    `json:"estimated_time"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Alternatives  []string  `json:"alternatives"`

	Category               ErrorCategory    `json:"error_type"`
	Severity               Severity         `json:"severity"`
	AdvisoryErrorType      string           `json:"advisory_error_type,omitempty"`
	PatternRecommendations []string         `json:"pattern_recommendations,omitempty"`
	MLInsights             *MLInsights      `json:"ml_insights,omitempty"`
	Source                 SuggestionSource `json:"source"`
	Fingerprint            string           `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsFallback reports whether the suggestion came from the degraded path.
func (s *FixSuggestion) IsFallback() bool {
	return s != nil && s.Source == SourceFallback
}

// PredictionLabel is the success predictor's ternary output.
type PredictionLabel string

const (
	PredictionLikelySuccess PredictionLabel = "likely_success"
	PredictionLikelyFailure PredictionLabel = "likely_failure"
	PredictionUncertain     PredictionLabel = "uncertain"
)

// PredictionResult is the output of the success predictor.
type PredictionResult struct {
	Label        PredictionLabel `json:"prediction"`
	Confidence   float64         `json:"confidence"`
	Factors      []string        `json:"factors"`
	ModelVersion string          `json:"model_version"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TrainingOutcome labels a training example.
type TrainingOutcome string

const (
	OutcomeSuccess   TrainingOutcome = "success"
	OutcomeFailure   TrainingOutcome = "failure"
	OutcomeUncertain TrainingOutcome = "uncertain"
)

// TrainingExample is one labelled example for the success predictor.
type TrainingExample struct {
	ErrorLog string          `json:"error_log"`
	Context  RepoContext     `json:"repo_context"`
	Outcome  TrainingOutcome `json:"outcome"`
}

// TrainingReport summarizes a training run.
type TrainingReport struct {
	Accuracy        float64   `json:"accuracy"`
	ModelVersion    string    `json:"model_version"`
	TrainingSamples int       `json:"training_samples"`
	TestSamples     int       `json:"test_samples"`
	TrainedAt       time.Time `json:"last_training"`
}

// KeyCount is one row of a ranked frequency table.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// RankCounts converts a frequency map into rows sorted by count descending,
// then key ascending, truncated to limit (0 keeps everything).
func RankCounts(counts map[string]int, limit int) []KeyCount {
	rows := make([]KeyCount, 0, len(counts))
	for k, v := range counts {
		rows = append(rows, KeyCount{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// FixOutcomes counts human decisions within a pattern window.
type FixOutcomes struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// PatternSnapshot aggregates failure history over a rolling window.
type PatternSnapshot struct {
	DaysBack           int         `json:"days_back"`
	AnalysisPeriod     string      `json:"analysis_period"`
	TotalAnalyzed      int         `json:"total_analyzed"`
	RepositoryFailures []KeyCount  `json:"repository_failures"`
	ErrorTypes         []KeyCount  `json:"error_types"`
	HourlyFailures     map[int]int `json:"time_patterns"`
	FixOutcomes        FixOutcomes `json:"fix_success_rates"`
	Recommendations    []string    `json:"recommendations"`
	AnalyzedAt         time.Time   `json:"analyzed_at"`
	Error              string      `json:"error,omitempty"`
}

// Available reports whether the snapshot holds real analysis.
func (p *PatternSnapshot) Available() bool {
	return p != nil && p.Error == ""
}

// ErrorTypeCount returns the frequency of a category within the snapshot.
func (p *PatternSnapshot) ErrorTypeCount(category ErrorCategory) int {
	if p == nil {
		return 0
	}
	for _, row := range p.ErrorTypes {
		if row.Key == string(category) {
			return row.Count
		}
	}
	return 0
}

// FeedbackOutcome is a human decision on a suggestion.
type FeedbackOutcome string

const (
	FeedbackApprove FeedbackOutcome = "approve"
	FeedbackReject  FeedbackOutcome = "reject"
)

// IsValid checks if the outcome is approve or reject.
func (o FeedbackOutcome) IsValid() bool {
	return o == FeedbackApprove || o == FeedbackReject
}

// FixStatus maps the decision onto the failure record status.
func (o FeedbackOutcome) FixStatus() FixStatus {
	if o == FeedbackApprove {
		return FixStatusApproved
	}
	return FixStatusRejected
}

// TrainingOutcome maps the decision onto a training label.
func (o FeedbackOutcome) TrainingOutcome() TrainingOutcome {
	switch o {
	case FeedbackApprove:
		return OutcomeSuccess
	case FeedbackReject:
		return OutcomeFailure
	default:
		return OutcomeUncertain
	}
}

// FeedbackRecord is an immutable human decision tied to a suggestion.
type FeedbackRecord struct {
	ID            string          `json:"id"`
	FixID         string          `json:"fix_id"`
	Outcome       FeedbackOutcome `json:"outcome"`
	Comment       string          `json:"comment,omitempty"`
	Effectiveness *float64        `json:"effectiveness,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BackendAnalysis is the reasoning backend's response shape.
type BackendAnalysis struct {
	ErrorAnalysis ErrorAnalysis `json:"error_analysis"`
	FixSuggestion FixProposal   `json:"fix_suggestion"`
	Prevention    Prevention    `json:"prevention"`

	// RawResponse keeps unparseable backend text for audit.
	RawResponse string `json:"raw_response,omitempty"`
}

// ErrorAnalysis is the backend's diagnosis.
type ErrorAnalysis struct {
	ErrorType          string   `json:"error_type"`
	ErrorSeverity      string   `json:"error_severity"`
	RootCause          string   `json:"root_cause"`
	AffectedComponents []string `json:"affected_components"`
}

// FixProposal is the backend's proposed remediation.
type FixProposal struct {
	Description   string   `json:"description"`
	Steps         []string `json:"steps"`
	Commands      []string `json:"commands"`
	Confidence    float64  `json:"confidence"`
	EstimatedTime string   `json:"estimated_time"`
}

// Prevention lists follow-up advice from the backend.
type Prevention struct {
	Recommendations []string `json:"recommendations"`
	BestPractices   []string `json:"best_practices"`
}
