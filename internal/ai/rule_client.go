package ai

import (
	"context"
	"math"
	"strings"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/rules"
	"go.uber.org/zap"
)

const (
	// ruleConfidenceCap keeps local answers below what a real backend can claim.
	ruleConfidenceCap = 0.6

	genericConfidence = 0.3
)

// RuleClient is a local reasoner answering from the rule knowledge base.
// It is used when no remote backend is configured.
type RuleClient struct {
	engine *rules.Engine
	logger *zap.Logger
}

// NewRuleClient creates a reasoner over the given rule engine.
func NewRuleClient(engine *rules.Engine, logger *zap.Logger) *RuleClient {
	return &RuleClient{
		engine: engine,
		logger: logger.Named("rule_client"),
	}
}

// Analyze answers with the best matching rule. With the alternative
// approach it answers with the next best rule instead.
func (c *RuleClient) Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError("rule_analyze", domain.ErrAITimeout, true)
	}

	matches := c.engine.Matches(log)
	idx := 0
	if repo.Approach == ApproachAlternative {
		idx = 1
	}

	if idx >= len(matches) {
		c.logger.Debug("no rule available", zap.Int("matches", len(matches)))
		return genericAnalysis(), nil
	}

	rule := matches[idx]
	c.logger.Debug("answering from rule",
		zap.String("rule_id", rule.ID),
		zap.String("approach", repo.Approach),
	)
	return analysisFromRule(rule), nil
}

// HealthCheck always succeeds; the reasoner is in-process.
func (c *RuleClient) HealthCheck(ctx context.Context) error {
	return nil
}

func analysisFromRule(rule *rules.Rule) *domain.BackendAnalysis {
	r := rule.Remedy
	return &domain.BackendAnalysis{
		ErrorAnalysis: domain.ErrorAnalysis{
			ErrorType:     strings.ToLower(rule.ID),
			ErrorSeverity: string(domain.SeverityMedium),
			RootCause:     r.RootCause,
		},
		FixSuggestion: domain.FixProposal{
			Description:   r.Description,
			Steps:         append([]string(nil), r.Steps...),
			Commands:      append([]string(nil), r.Commands...),
			Confidence:    math.Min(rule.Confidence, ruleConfidenceCap),
			EstimatedTime: r.EstimatedTime,
		},
		Prevention: domain.Prevention{
			Recommendations: append([]string(nil), r.Prevention...),
		},
	}
}

func genericAnalysis() *domain.BackendAnalysis {
	return &domain.BackendAnalysis{
		ErrorAnalysis: domain.ErrorAnalysis{
			ErrorType:     "unknown",
			ErrorSeverity: string(domain.SeverityMedium),
			RootCause:     "No known failure signature matched the log",
		},
		FixSuggestion: domain.FixProposal{
			Description: "Manual investigation required",
			Steps: []string{
				"Review the job log around the first reported error",
				"Re-run the job to rule out a transient failure",
				"Reproduce the failing step locally",
			},
			Confidence:    genericConfidence,
			EstimatedTime: "30-60 minutes",
		},
	}
}
