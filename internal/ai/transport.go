package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/domain"
	"go.uber.org/zap"
)

const maxResponseSize = 4 << 20

// transport is the JSON-over-HTTP exchange shared by the remote backends.
type transport struct {
	name       string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

func newTransport(name string, cfg *config.AIConfig, logger *zap.Logger) transport {
	return transport{
		name:       name,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// post sends payload as JSON and returns the raw 200 response body,
// retrying retryable failures up to maxRetries times.
func (t transport) post(ctx context.Context, url string, header http.Header, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapError("marshal_request", err, false)
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			t.logger.Debug("retrying backend request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, domain.WrapError("context_cancelled", ctx.Err(), false)
			case <-time.After(backoff):
			}
		}

		var resp []byte
		resp, lastErr = t.do(ctx, http.MethodPost, url, header, body)
		if lastErr == nil {
			return resp, nil
		}
		if !domain.IsRetryable(lastErr) {
			break
		}
	}
	return nil, lastErr
}

// ping issues a GET and expects 200.
func (t transport) ping(ctx context.Context, url string, header http.Header) error {
	if _, err := t.do(ctx, http.MethodGet, url, header, nil); err != nil {
		return domain.WrapError(t.name+"_health_check", err, true)
	}
	return nil
}

func (t transport) do(ctx context.Context, method, url string, header http.Header, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, domain.WrapError("create_request", err, false)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.WrapError(t.name+"_timeout", domain.ErrAITimeout, true)
		}
		return nil, domain.WrapError(t.name+"_request", err, true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.WrapError("read_response", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("backend returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body_preview", truncate(string(data), 300)),
		)
		return nil, statusError(t.name, resp.StatusCode, data)
	}
	return data, nil
}

// statusError maps a non-200 backend response onto the error taxonomy.
// Rate limiting and server errors are retryable.
func statusError(name string, status int, body []byte) error {
	detail := apiErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return domain.WrapError(name+"_rate_limit", domain.ErrRateLimited, true)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.WrapError(name+"_auth",
			fmt.Errorf("%w: authentication failed (status %d): check AI_API_KEY", domain.ErrAIUnavailable, status), false)
	case status == http.StatusNotFound:
		return domain.WrapError(name+"_not_found",
			fmt.Errorf("%w: model or endpoint not found: %s", domain.ErrAIUnavailable, detail), false)
	case status >= 500:
		return domain.WrapError(name+"_unavailable", fmt.Errorf("%w: status %d", domain.ErrAIUnavailable, status), true)
	default:
		return domain.WrapError(name+"_error",
			fmt.Errorf("%w: status %d: %s", domain.ErrAIUnavailable, status, detail), false)
	}
}

// apiErrorMessage extracts error.message, which both OpenAI and Gemini use,
// falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return truncate(string(body), 200)
}
