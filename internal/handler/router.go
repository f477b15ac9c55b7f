package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	Metrics  http.Handler
	Recorder RequestRecorder
}

// NewRouter registers every route.
func NewRouter(h *Handlers, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware())
	if cfg.Recorder != nil {
		router.Use(MetricsMiddleware(cfg.Recorder))
	}

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	router.POST("/webhook/github", h.Webhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/analyze", h.Analyze)
		v1.POST("/feedback", h.Feedback)

		v1.GET("/fixes", h.PendingFixes)
		v1.POST("/fixes/similar", h.SimilarFixes)
		v1.GET("/fixes/history/:owner/:repo", h.History)
		v1.GET("/fixes/:id", h.Fix)
		v1.POST("/fixes/:id/approve", h.Approve)
		v1.POST("/fixes/:id/reject", h.Reject)

		v1.GET("/analytics/patterns", h.Patterns)
		v1.GET("/analytics/summary", h.Summary)
		v1.GET("/analytics/fixes", h.FixStats)

		v1.POST("/predict", h.Predict)
		v1.GET("/model", h.Model)
		v1.POST("/model/retrain", h.Retrain)
	}

	return router
}
