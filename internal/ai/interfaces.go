// Package ai provides the reasoning backend interface and implementations.
package ai

import (
	"context"

	"github.com/cicd-fixer/internal/domain"
)

// ApproachAlternative asks the backend for a different remedy than the
// most common one.
const ApproachAlternative = "alternative"

// Client defines the interface for reasoning backend interactions.
// This interface allows for easy mocking and swapping of providers.
type Client interface {
	// Analyze sends a log and its repository context to the backend and
	// returns a structured analysis. A response that cannot be parsed is
	// returned as an unparsed analysis with a nil error; only transport
	// failures produce an error.
	Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// PromptBuilder defines the interface for constructing prompts.
type PromptBuilder interface {
	// BuildSystemPrompt returns the system prompt that defines the backend's role.
	BuildSystemPrompt() string

	// BuildUserPrompt constructs the user prompt with the log content.
	BuildUserPrompt(log string, repo domain.RepoContext) string
}

// ResponseValidator defines the interface for validating backend responses.
type ResponseValidator interface {
	// Validate checks if the response conforms to the expected schema.
	Validate(result *domain.BackendAnalysis) error
}
