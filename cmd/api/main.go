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

	"github.com/reflink/platform/internal/app"
	"github.com/reflink/platform/internal/clock"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/metrics"
	"github.com/reflink/platform/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, closeCache, err := app.OpenLinkCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	jwtMgr, err := app.NewJWTManager(cfg)
	if err != nil {
		return err
	}

	m := metrics.NewDefault()
	clk := clock.Real()

	svc := app.NewServices(app.ServiceDeps{
		Config:  cfg,
		Repos:   store.Repos,
		Cache:   cache,
		Methods: app.PayoutMethods(cfg, logger),
		JWTMgr:  jwtMgr,
		Metrics: m,
		Clock:   clk,
		Logger:  logger,
	})

	if err := svc.Auth.BootstrapAdmin(ctx, cfg.AdminBootstrapEmail, cfg.AdminBootstrapPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	if cfg.SchedulerEnabled {
		svc.Scheduler.Start(ctx)
		defer svc.Scheduler.Stop()
	}

	if cfg.RelayEmbedded {
		producer := infra.NewKafkaProducer(cfg, logger)
		defer producer.Close()
		infra.NewOutboxPoller(
			repository.NewOutboxSource(store.Repos.Outbox, store.Repos.Tx.DB()),
			producer,
			cfg.NotificationTopic,
			logger,
		).WithInterval(cfg.RelayPollInterval).Start(ctx)
	}

	r := app.NewRouter(app.RouterDeps{
		Services:    svc,
		JWTMgr:      jwtMgr,
		Metrics:     m,
		Health:      store.Health,
		Clock:       clk,
		Logger:      logger,
		WebhookKey:  cfg.OrderWebhookSecret,
		ClickParam:  cfg.ClickTrackingParam,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	// Clicks accepted before shutdown still get recorded.
	if err := svc.Tracking.Wait(shutdownCtx); err != nil {
		logger.Warn("pending click recordings abandoned", "error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
