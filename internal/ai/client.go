package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

// OpenAIClient implements the Client interface using an OpenAI-compatible API.
type OpenAIClient struct {
	config    *config.AIConfig
	transport transport
	prompter  PromptBuilder
	validator ResponseValidator
	logger    *zap.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg *config.AIConfig, prompter PromptBuilder, validator ResponseValidator, logger *zap.Logger) *OpenAIClient {
	logger = logger.Named("openai_client")
	return &OpenAIClient{
		config:    cfg,
		transport: newTransport("openai", cfg, logger),
		prompter:  prompter,
		validator: validator,
		logger:    logger,
	}
}

// Analyze sends a failure log to the backend and returns a structured analysis.
func (c *OpenAIClient) Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	startTime := time.Now()

	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.prompter.BuildSystemPrompt()},
			{Role: "user", Content: c.prompter.BuildUserPrompt(log, repo)},
		},
		MaxTokens:      c.config.MaxTokens,
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := c.transport.post(ctx, c.endpoint("chat/completions"), c.authHeader(), reqBody)
	if err != nil {
		return nil, err
	}

	content, err := chatContent(payload)
	if err != nil {
		return nil, err
	}

	result := parseAnalysis(content, c.validator, c.logger)
	c.logger.Debug("backend analysis completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.String("error_type", result.ErrorAnalysis.ErrorType),
		zap.Float64("confidence", result.FixSuggestion.Confidence),
	)
	return result, nil
}

// chatContent returns the first choice's text. A body that is not a chat
// completion is handed to the parser as is.
func chatContent(payload []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return string(payload), nil
	}
	if resp.Error != nil {
		return "", domain.WrapError("openai_api_error",
			fmt.Errorf("%w: %s: %s", domain.ErrAIUnavailable, resp.Error.Type, resp.Error.Message), false)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) endpoint(path string) string {
	return strings.TrimSuffix(c.config.BaseURL, "/") + "/" + path
}

func (c *OpenAIClient) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.config.APIKey)
	return h
}

// HealthCheck verifies the backend is reachable.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	return c.transport.ping(ctx, c.endpoint("models"), c.authHeader())
}
