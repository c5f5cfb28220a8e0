package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reflink/platform/internal/app"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/handler"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("payout scheduler failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.StoreDriver == infra.StoreMemory {
		return fmt.Errorf("payout-scheduler needs a shared store; set SCHEDULER_ENABLED on the api instead")
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	jwtMgr, err := app.NewJWTManager(cfg)
	if err != nil {
		return err
	}

	m := metrics.NewDefault()
	svc := app.NewServices(app.ServiceDeps{
		Config:  cfg,
		Repos:   store.Repos,
		Methods: app.PayoutMethods(cfg, logger),
		JWTMgr:  jwtMgr,
		Metrics: m,
		Clock:   clock.Real(),
		Logger:  logger,
	})

	svc.Scheduler.Start(ctx)
	defer svc.Scheduler.Stop()

	r := chi.NewRouter()
	r.Use(handler.Recovery(logger))
	r.With(handler.JSONContentType).Get("/health", handler.HealthHandler(store.Health, logger))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	addr := fmt.Sprintf(":%d", cfg.WorkerAdminPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("payout scheduler admin listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("payout scheduler shutting down")
	case err := <-errCh:
		return fmt.Errorf("admin server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
