package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/handler"
	"github.com/reflink/platform/internal/infra"
	"github.com/reflink/platform/internal/repository"
	"github.com/reflink/platform/internal/repository/memory"
	"github.com/reflink/platform/internal/service"
)

// Store is an opened persistence backend.
type Store struct {
	Repos  *repository.Repositories
	Health handler.HealthCheck
	Close  func()
}

// OpenStore connects the backend selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (*Store, error) {
	if cfg.StoreDriver == infra.StoreMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return &Store{Repos: memory.New(), Close: func() {}}, nil
	}

	if cfg.MigrateOnStart {
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("connected to postgres")

	return &Store{
		Repos:  repository.NewPostgres(pool),
		Health: func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) },
		Close:  pool.Close,
	}, nil
}

// OpenLinkCache returns the Redis link cache when REDIS_ENABLED is set, else nil.
// The returned close func is never nil.
func OpenLinkCache(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (service.LinkCache, func(), error) {
	if !cfg.RedisEnabled {
		return nil, func() {}, nil
	}
	client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("link cache enabled", "ttl", cfg.LinkCacheTTL)
	return infra.NewRedisLinkCache(client, cfg.LinkCacheTTL), func() { client.Close() }, nil
}

// NewJWTManager parses the configured token lifetimes.
func NewJWTManager(cfg *infra.Config) (*auth.JWTManager, error) {
	adminExpiry, err := time.ParseDuration(cfg.JWTAdminExpiry)
	if err != nil {
		return nil, fmt.Errorf("parse admin JWT expiry: %w", err)
	}
	affiliateExpiry, err := time.ParseDuration(cfg.JWTAffiliateExpiry)
	if err != nil {
		return nil, fmt.Errorf("parse affiliate JWT expiry: %w", err)
	}
	return auth.NewJWTManager(cfg.JWTSecret, adminExpiry, affiliateExpiry), nil
}
