package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reflink/platform/internal/domain"
)

// NewRedisClient initializes a Redis client from a redis:// URL or a host:port address.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

const linkCachePrefix = "reflink:link:"

// RedisLinkCache is a read-through cache of resolved short links.
type RedisLinkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLinkCache creates a RedisLinkCache.
func NewRedisLinkCache(client *redis.Client, ttl time.Duration) *RedisLinkCache {
	return &RedisLinkCache{client: client, ttl: ttl}
}

// Get returns the cached link, or nil on a miss.
func (c *RedisLinkCache) Get(ctx context.Context, shortCode string) (*domain.ResolvedLink, error) {
	raw, err := c.client.Get(ctx, linkCachePrefix+shortCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out domain.ResolvedLink
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cached link: %w", err)
	}
	return &out, nil
}

func (c *RedisLinkCache) Set(ctx context.Context, shortCode string, link domain.ResolvedLink) error {
	raw, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, linkCachePrefix+shortCode, raw, c.ttl).Err()
}

func (c *RedisLinkCache) Invalidate(ctx context.Context, shortCode string) error {
	return c.client.Del(ctx, linkCachePrefix+shortCode).Err()
}
