package ai

import (
	"context"

	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

// MockClient implements the Client interface for testing.
type MockClient struct {
	logger *zap.Logger
}

// NewMockClient creates a new mock backend client.
func NewMockClient(logger *zap.Logger) *MockClient {
	return &MockClient{
		logger: logger.Named("mock_ai_client"),
	}
}

// Analyze returns a canned analysis.
func (c *MockClient) Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	c.logger.Debug("mock backend analysis",
		zap.Int("log_length", len(log)),
		zap.String("approach", repo.Approach),
	)

	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError("mock_analyze", domain.ErrAITimeout, true)
	}

	description := "Re-run the failed job after reviewing the first error in the log"
	if repo.Approach == ApproachAlternative {
		description = "Reproduce the failure locally with the same toolchain version"
	}

	return &domain.BackendAnalysis{
		ErrorAnalysis: domain.ErrorAnalysis{
			ErrorType:     "mock_error",
			ErrorSeverity: string(domain.SeverityMedium),
			RootCause:     "This is a mock response. Enable a real backend by setting AI_MOCK_MODE=false",
		},
		FixSuggestion: domain.FixProposal{
			Description: description,
			Steps: []string{
				"Configure AI_API_KEY environment variable",
				"Set AI_MOCK_MODE=false to enable real analysis",
			},
			Confidence:    0.5,
			EstimatedTime: "5 minutes",
		},
		Prevention: domain.Prevention{
			Recommendations: []string{"Use a real backend for production analysis"},
		},
	}, nil
}

// HealthCheck always returns success for mock client.
func (c *MockClient) HealthCheck(ctx context.Context) error {
	return nil
}
