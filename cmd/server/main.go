// CI/CD Fixer - Server Entry Point
//
// Serves the fix-generation pipeline over HTTP and runs the background
// retrain worker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cicd-fixer/internal/app"
	"github.com/cicd-fixer/internal/config"
	"github.com/cicd-fixer/internal/handler"
	"github.com/cicd-fixer/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	isDev := os.Getenv("GIN_MODE") != "release"

	zapLogger, err := logger.New(isDev)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting CI/CD fixer", zap.Bool("development", isDev))

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	zapLogger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("ai_provider", string(cfg.AI.Provider)),
		zap.String("ai_model", cfg.AI.Model),
		zap.Bool("mock_mode", cfg.AI.MockMode),
		zap.Bool("rules_enabled", cfg.Processing.EnableRules),
		zap.Bool("github_enabled", cfg.GitHub.Enabled()),
		zap.String("store_path", cfg.Store.Path),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize application", zap.Error(err))
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		application.Feedback.Run(ctx)
	}()

	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(
		handler.New(application.Pipeline, zapLogger),
		handler.RouterConfig{
			Metrics:  application.Metrics.Handler(),
			Recorder: application.Metrics,
		},
		zapLogger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down server...")

	// Give the server 10 seconds to finish processing
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	<-workerDone
	if err := application.Close(); err != nil {
		zapLogger.Error("failed to close application", zap.Error(err))
	}

	zapLogger.Info("server stopped")
}
