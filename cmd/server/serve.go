package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/api"
	"github.com/podushkina/watermarkd/internal/handlers"
	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/storage"
	"github.com/podushkina/watermarkd/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	store, err := storage.New(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.VideoTempDir(), 0o755); err != nil {
		return err
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := registry.New(backend, cfg.Retention, logger)

	r, err := newRenderers(cfg, logger)
	if err != nil {
		return err
	}

	orch := worker.NewOrchestrator(reg, worker.Config{
		OutputDir:     store.OutputDir(),
		MaxConcurrent: cfg.MaxConcurrentJobs,
	}, logger)
	handlers.Register(orch, r.images, r.videos)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.SweepInterval > 0 {
		go reg.RunSweeper(ctx, cfg.SweepInterval)
	}

	handler := api.NewHandler(orch, reg, store, cfg.MaxUploadBytes, logger)
	router := api.NewRouter(handler, logger)

	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.ServerPort),
		Handler:     router,
		ReadTimeout: 15 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
