package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

func RedisClient(cfg *global.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
		Protocol: 2,
	})
}

// Connect returns a pinged client, or an error when Redis is unreachable so
// the caller can fall back to in-memory storage.
func Connect(ctx context.Context, cfg *global.Config) (*redis.Client, error) {
	if cfg.RedisAddress == "" {
		return nil, fmt.Errorf("redis address not configured")
	}
	client := RedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddress, err)
	}
	global.GetLogger().WithField("addr", cfg.RedisAddress).Info("connected to redis")
	return client, nil
}
