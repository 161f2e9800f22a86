package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	revokedPrefix      = "token:revoked:"
	rateLimitPrefix    = "rate_limit:"
)

// RedisClient backs token revocation and login rate limiting.
type RedisClient struct {
	rdb    goredis.UniversalClient
	logger *zap.Logger
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisClient, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	return NewRedisClientFrom(rdb, logger), nil
}

// NewRedisClientFrom wraps an existing client.
func NewRedisClientFrom(rdb goredis.UniversalClient, logger *zap.Logger) *RedisClient {
	return &RedisClient{rdb: rdb, logger: logger}
}

// Revoke blacklists a token ID for the remainder of its lifetime.
func (c *RedisClient) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, revokedPrefix+tokenID, "1", ttl).Err()
}

func (c *RedisClient) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Allow counts one hit against key in a fixed window and reports whether
// the hit is within limit.
func (c *RedisClient) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := rateLimitPrefix + key

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
