package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tontine/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	subscriptionLockPrefix = "lock:subscription:"
	subscriptionLockTTL    = 30 * time.Second
	subscriptionLockWait   = 10 * time.Second
)

// NewRedisClient returns nil when REDIS_ADDR is empty; callers treat a nil
// client as "single replica" and fall back to in-process primitives.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func NewKeyLocker(client *redis.Client, log *zap.Logger) KeyLocker {
	if client == nil {
		return NewLocalKeyLocker()
	}
	return NewRedisKeyLocker(client, log, subscriptionLockPrefix, subscriptionLockTTL, subscriptionLockWait)
}
