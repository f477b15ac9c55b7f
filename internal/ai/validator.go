package ai

import (
	"fmt"
	"strings"

	"github.com/cicd-fixer/internal/domain"
)

// DefaultValidator implements ResponseValidator with strict schema checks.
type DefaultValidator struct{}

// NewDefaultValidator creates a new response validator.
func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate checks if the backend response conforms to the expected schema.
func (v *DefaultValidator) Validate(result *domain.BackendAnalysis) error {
	if result == nil {
		return domain.WrapError("validate",
			fmt.Errorf("%w: result is nil", domain.ErrInvalidAIResponse), false)
	}

	fix := result.FixSuggestion

	if strings.TrimSpace(fix.Description) == "" {
		return domain.WrapError("validate_description",
			fmt.Errorf("%w: fix_suggestion.description is required", domain.ErrInvalidAIResponse), false)
	}

	if len(fix.Steps) == 0 {
		return domain.WrapError("validate_steps",
			fmt.Errorf("%w: at least one fix step is required", domain.ErrInvalidAIResponse), false)
	}

	for i, step := range fix.Steps {
		if strings.TrimSpace(step) == "" {
			return domain.WrapError("validate_steps",
				fmt.Errorf("%w: steps[%d] is empty", domain.ErrInvalidAIResponse, i), false)
		}
	}

	for i, cmd := range fix.Commands {
		if strings.TrimSpace(cmd) == "" {
			return domain.WrapError("validate_commands",
				fmt.Errorf("%w: commands[%d] is empty", domain.ErrInvalidAIResponse, i), false)
		}
	}

	if fix.Confidence < 0 || fix.Confidence > 1 {
		return domain.WrapError("validate_confidence",
			fmt.Errorf("%w: confidence must be within [0, 1], got: %v",
				domain.ErrInvalidAIResponse, fix.Confidence), false)
	}

	// Severity is advisory, but when present it must be a known level.
	if sev := result.ErrorAnalysis.ErrorSeverity; sev != "" {
		if !domain.Severity(strings.ToLower(sev)).IsValid() {
			return domain.WrapError("validate_severity",
				fmt.Errorf("%w: error_severity must be low, medium, high or critical, got: %s",
					domain.ErrInvalidAIResponse, sev), false)
		}
	}

	for i, rec := range result.Prevention.Recommendations {
		if strings.TrimSpace(rec) == "" {
			return domain.WrapError("validate_prevention",
				fmt.Errorf("%w: recommendations[%d] is empty", domain.ErrInvalidAIResponse, i), false)
		}
	}

	return nil
}
