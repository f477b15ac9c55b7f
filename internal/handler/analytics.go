package handler

import (
	"net/http"

	"github.com/cicd-fixer/internal/service"
	"github.com/gin-gonic/gin"
)

// Patterns handles GET /api/v1/analytics/patterns.
func (h *Handlers) Patterns(c *gin.Context) {
	snap := h.pipeline.Patterns(c.Request.Context(), queryInt(c, "days_back"))
	// An unavailable snapshot is still a valid answer.
	ok(c, http.StatusOK, snap)
}

// Summary handles GET /api/v1/analytics/summary.
func (h *Handlers) Summary(c *gin.Context) {
	ok(c, http.StatusOK, h.pipeline.Summary(c.Request.Context()))
}

// FixStats handles GET /api/v1/analytics/fixes.
func (h *Handlers) FixStats(c *gin.Context) {
	ok(c, http.StatusOK, h.pipeline.FixStats())
}

// Predict handles POST /api/v1/predict.
func (h *Handlers) Predict(c *gin.Context) {
	var req service.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.pipeline.Predict(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Model handles GET /api/v1/model.
func (h *Handlers) Model(c *gin.Context) {
	ok(c, http.StatusOK, h.pipeline.Model())
}

// Retrain handles POST /api/v1/model/retrain. Training runs in the
// background worker.
func (h *Handlers) Retrain(c *gin.Context) {
	queued := h.pipeline.EnqueueRetrain()
	ok(c, http.StatusAccepted, gin.H{"queued": queued})
}
