package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skybeep/skybeep/pkg/config"
)

// RedisWindow is a sliding-window counter on a shared Redis keystore,
// for multi-node deployments where every node must see the same counts.
// Events live in a sorted set scored by unix-nano timestamp; expired
// members are trimmed on every access.
type RedisWindow struct {
	client *redis.Client
}

// NewRedisWindow connects to Redis and verifies reachability.
func NewRedisWindow(cfg config.RedisConfig) (*RedisWindow, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisWindow{client: client}, nil
}

// Incr records one event and returns the window count including it.
func (w *RedisWindow) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)
	rkey := "ratelimit:" + key

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, rkey, redis.Z{
		Score: float64(now.UnixNano()),
		// A unique member per event; the timestamp alone would collapse
		// concurrent increments into one.
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window incr: %w", err)
	}
	return int(count.Val()), nil
}

// Count returns the window count without recording anything.
func (w *RedisWindow) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	rkey := "ratelimit:" + key

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	count := pipe.ZCard(ctx, rkey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window count: %w", err)
	}
	return int(count.Val()), nil
}

// Close releases the Redis connection.
func (w *RedisWindow) Close() error {
	return w.client.Close()
}
