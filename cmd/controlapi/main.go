package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storepulse/internal/config"
	"storepulse/internal/control"
	"storepulse/internal/storage"
	"storepulse/internal/worker"
	"storepulse/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting storepulse control API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewFeedbackStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MigrationsPath)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
		return
	}
	defer store.Close()

	logger.Info("Database connection established")

	// The control API host owns the reclaim sweep when workers run in
	// http mode without direct database access.
	go worker.RunReclaimer(ctx, store,
		time.Duration(cfg.Worker.ReclaimSweepMinutes)*time.Minute,
		time.Duration(cfg.Worker.ReclaimAfterMinutes)*time.Minute)

	srv := &http.Server{
		Addr:         cfg.Control.ListenAddr,
		Handler:      control.NewServer(store),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Control API listening", zap.String("addr", cfg.Control.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control API server failed", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Control API shutdown failed", zap.Error(err))
	}

	logger.Info("Control API shutdown complete")
}
