// Package classifier maps raw CI log text to a failure category and severity.
//
// Classification is a pure function: the trigger table is checked in a fixed
// priority order and the first category with a matching phrase wins.
package classifier

import (
	"strings"

	"github.com/cicd-fixer/internal/domain"
)

// trigger lists the phrases that select one category.
type trigger struct {
	category domain.ErrorCategory
	phrases  []string
}

// triggers is ordered by priority. Phrases are lowercase.
var triggers = []trigger{
	{
		category: domain.CategoryDependency,
		// npm ERR! also prefixes failed test and build scripts, so it is not a trigger.
		phrases: []string{"npm install", "package.json", "dependency"},
	},
	{
		category: domain.CategoryTest,
		phrases:  []string{"test", "spec", "jest", "mocha", "pytest", "assertion"},
	},
	{
		category: domain.CategoryBuild,
		phrases:  []string{"build", "compile", "make"},
	},
	{
		category: domain.CategoryPermission,
		phrases:  []string{"permission", "access", "403", "401"},
	},
	{
		category: domain.CategoryTimeout,
		phrases:  []string{"timeout", "timed out"},
	},
	{
		category: domain.CategoryResource,
		phrases:  []string{"memory", "out of memory", "no space left"},
	},
}

// Classify returns the failure category for a log. It never fails: logs that
// match nothing are unknown_error.
func Classify(log string) domain.ErrorCategory {
	lower := strings.ToLower(log)
	for _, t := range triggers {
		if containsAny(lower, t.phrases) {
			return t.category
		}
	}
	return domain.CategoryUnknown
}

// baseSeverity is the impact of a category when the log carries ordinary
// error markers.
var baseSeverity = map[domain.ErrorCategory]domain.Severity{
	domain.CategoryDependency: domain.SeverityMedium,
	domain.CategoryTest:       domain.SeverityMedium,
	domain.CategoryBuild:      domain.SeverityHigh,
	domain.CategoryPermission: domain.SeverityHigh,
	domain.CategoryTimeout:    domain.SeverityMedium,
	domain.CategoryResource:   domain.SeverityHigh,
	domain.CategoryUnknown:    domain.SeverityMedium,
}

var (
	criticalMarkers = []string{"fatal", "panic:", "segmentation fault", "oomkilled", "killed"}
	errorMarkers    = []string{"error", "err!", "fail", "exception", "panic"}
)

// SeverityOf derives a severity from the category and the log text. Logs
// with crash markers are critical; logs with no error markers at all are low.
func SeverityOf(category domain.ErrorCategory, log string) domain.Severity {
	lower := strings.ToLower(log)
	if containsAny(lower, criticalMarkers) {
		return domain.SeverityCritical
	}
	if !containsAny(lower, errorMarkers) {
		return domain.SeverityLow
	}
	if s, ok := baseSeverity[category]; ok {
		return s
	}
	return domain.SeverityMedium
}

// ClassifyLog computes the full classification of a log.
func ClassifyLog(log string) domain.ErrorClassification {
	category := Classify(log)
	return domain.ErrorClassification{
		Category: category,
		Severity: SeverityOf(category, log),
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
