package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segyhp/settlement-engine/internal/app"
	"github.com/segyhp/settlement-engine/internal/config"
	"github.com/segyhp/settlement-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	node, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize node: %v", err)
	}
	defer func() {
		if err := node.Close(context.Background()); err != nil {
			appLogger.Error("shutdown incomplete", "error", err)
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      node.Router(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("server starting", "addr", server.Addr, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		return
	}

	appLogger.Info("server exited")
}
