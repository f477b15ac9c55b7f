package rules

import (
	"sort"

	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

// Engine applies the knowledge base to logs.
type Engine struct {
	rules               []*Rule
	confidenceThreshold float64
	logger              *zap.Logger
}

// NewEngine creates a new rule engine with the provided configuration.
func NewEngine(rules []*Rule, confidenceThreshold float64, logger *zap.Logger) *Engine {
	return &Engine{
		rules:               rules,
		confidenceThreshold: confidenceThreshold,
		logger:              logger.Named("rule_engine"),
	}
}

// Matches returns every rule matching log, highest confidence first. Rules
// with equal confidence keep their table order.
func (e *Engine) Matches(log string) []*Rule {
	var matches []*Rule
	for _, rule := range e.rules {
		if rule.Match(log) {
			e.logger.Debug("rule matched",
				zap.String("rule_id", rule.ID),
				zap.Float64("confidence", rule.Confidence),
			)
			matches = append(matches, rule)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// Best returns the highest confidence match at or above the threshold.
func (e *Engine) Best(log string) (*Rule, bool) {
	matches := e.Matches(log)
	if len(matches) == 0 || matches[0].Confidence < e.confidenceThreshold {
		return nil, false
	}
	return matches[0], true
}

// BestForCategory is like Best but only considers rules of one category.
func (e *Engine) BestForCategory(log string, category domain.ErrorCategory) (*Rule, bool) {
	for _, rule := range e.Matches(log) {
		if rule.Category == category && rule.Confidence >= e.confidenceThreshold {
			return rule, true
		}
	}
	return nil, false
}
