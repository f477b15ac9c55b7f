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

const geminiAPIVersion = "v1beta"

// GeminiClient implements the Client interface using Google's Gemini API.
type GeminiClient struct {
	config    *config.AIConfig
	transport transport
	prompter  PromptBuilder
	validator ResponseValidator
	logger    *zap.Logger
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
	// Thought marks reasoning parts emitted by thinking models.
	Thought bool `json:"thought,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	Error          *geminiError          `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg *config.AIConfig, prompter PromptBuilder, validator ResponseValidator, logger *zap.Logger) *GeminiClient {
	logger = logger.Named("gemini_client")
	return &GeminiClient{
		config:    cfg,
		transport: newTransport("gemini", cfg, logger),
		prompter:  prompter,
		validator: validator,
		logger:    logger,
	}
}

// Analyze sends a failure log to Gemini and returns a structured analysis.
func (c *GeminiClient) Analyze(ctx context.Context, log string, repo domain.RepoContext) (*domain.BackendAnalysis, error) {
	startTime := time.Now()

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: c.prompter.BuildSystemPrompt()}},
		},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: c.prompter.BuildUserPrompt(log, repo)}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.1,
			MaxOutputTokens:  outputBudget(c.config.Model, c.config.MaxTokens),
			ResponseMimeType: "application/json",
		},
	}

	payload, err := c.transport.post(ctx, c.modelURL("generateContent"), c.keyHeader(), reqBody)
	if err != nil {
		return nil, err
	}

	content, err := c.candidateText(payload)
	if err != nil {
		return nil, err
	}

	result := parseAnalysis(content, c.validator, c.logger)
	c.logger.Debug("Gemini analysis completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.String("error_type", result.ErrorAnalysis.ErrorType),
		zap.Float64("confidence", result.FixSuggestion.Confidence),
	)
	return result, nil
}

// candidateText joins the answer parts of the first candidate. Blocked
// prompts and filtered candidates return empty text, which the parser turns
// into an unparsed analysis.
func (c *GeminiClient) candidateText(payload []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return string(payload), nil
	}

	if resp.Error != nil {
		return "", domain.WrapError("gemini_api_error",
			fmt.Errorf("%w: [%d] %s: %s", domain.ErrAIUnavailable, resp.Error.Code, resp.Error.Status, resp.Error.Message), false)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		c.logger.Warn("prompt blocked", zap.String("reason", resp.PromptFeedback.BlockReason))
		return "", nil
	}
	if len(resp.Candidates) == 0 {
		c.logger.Warn("no candidates in response")
		return "", nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		c.logger.Warn("response blocked by safety filter")
		return "", nil
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// versionedBase appends the API version unless the configured base URL
// already names one.
func (c *GeminiClient) versionedBase() string {
	base := strings.TrimSuffix(c.config.BaseURL, "/")
	if strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/"+geminiAPIVersion) {
		return base
	}
	return base + "/" + geminiAPIVersion
}

func (c *GeminiClient) modelURL(action string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.versionedBase(), c.config.Model, action)
}

// keyHeader authenticates with the x-goog-api-key header.
func (c *GeminiClient) keyHeader() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", c.config.APIKey)
	return h
}

// HealthCheck verifies the configured model is reachable.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	return c.transport.ping(ctx, fmt.Sprintf("%s/models/%s", c.versionedBase(), c.config.Model), c.keyHeader())
}

// outputBudget raises the token limit for thinking models, whose reasoning
// tokens count against maxOutputTokens.
func outputBudget(model string, maxTokens int) int {
	if !strings.Contains(model, "2.5") && !strings.Contains(model, "thinking") {
		return maxTokens
	}
	return max(maxTokens*4, 4096)
}
