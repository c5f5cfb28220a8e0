package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reflink/platform/internal/app"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("notification relay failed", "error", err)
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
	if cfg.StoreDriver == infra.StoreMemory {
		return fmt.Errorf("notification-relay needs a shared store; set RELAY_EMBEDDED on the api instead")
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	producer := infra.NewKafkaProducer(cfg, logger)
	defer producer.Close()

	poller := infra.NewOutboxPoller(
		repository.NewOutboxSource(store.Repos.Outbox, store.Repos.Tx.DB()),
		producer,
		cfg.NotificationTopic,
		logger,
	).WithInterval(cfg.RelayPollInterval)
	poller.Start(ctx)

	<-ctx.Done()
	logger.Info("notification relay shutting down")
	return nil
}
