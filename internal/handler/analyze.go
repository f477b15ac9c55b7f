// Package handler contains HTTP handlers for the API.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/cicd-fixer/internal/scm"
	"github.com/cicd-fixer/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every API route returns.
type Response struct {
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Handlers serves the pipeline over HTTP.
type Handlers struct {
	pipeline *service.Pipeline
	logger   *zap.Logger
}

// New creates the route handlers.
func New(pipeline *service.Pipeline, logger *zap.Logger) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		logger:   logger.Named("handler"),
	}
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data, ProcessedAt: time.Now()})
}

// fail maps pipeline errors to status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scm.ErrBadSignature):
		status = http.StatusUnauthorized
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAnalysisFailed):
		status = http.StatusBadGateway
	}

	logger := h.logger.With(zap.String("request_id", c.GetString("request_id")))
	if status >= 500 {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Error(err))
	}

	c.JSON(status, Response{
		Success:     false,
		Error:       err.Error(),
		ErrorKind:   string(domain.KindOf(err)),
		ProcessedAt: time.Now(),
	})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	h.fail(c, domain.NewValidationError("bind", err))
}

// Analyze handles POST /api/v1/analyze.
func (h *Handlers) Analyze(c *gin.Context) {
	var req service.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.pipeline.Analyze(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Feedback handles POST /api/v1/feedback.
func (h *Handlers) Feedback(c *gin.Context) {
	var req service.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	fb, err := h.pipeline.Feedback(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, fb)
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": service.StatusHealthy,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. A degraded pipeline still serves traffic.
func (h *Handlers) Ready(c *gin.Context) {
	r := h.pipeline.Ready(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status": r.Status,
		"checks": r.Checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
