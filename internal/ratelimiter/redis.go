package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore is a CounterStore backed by Redis, for deployments
// where several instances must share one quota.
//
// Each key maps to a Redis string counter: INCR provides the atomic
// check-and-consume, and a PEXPIRE set only when the counter is created
// (count == 1) anchors the fixed window at the first request. Redis
// expiry then resets the window without any coordination.
type RedisCounterStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisCounterStoreConfig configures the Redis counter store.
type RedisCounterStoreConfig struct {
	// Client is the configured Redis client (required).
	Client redis.UniversalClient

	// KeyPrefix namespaces limiter keys, e.g. "warden:ratelimit:".
	KeyPrefix string
}

// NewRedisCounterStore creates a Redis-backed counter store and verifies
// connectivity.
func NewRedisCounterStore(ctx context.Context, cfg RedisCounterStoreConfig) (*RedisCounterStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cfg.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return &RedisCounterStore{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Incr increments the window counter for key.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	redisKey := s.keyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX: only the call that creates the counter sets the expiry, so the
	// window is anchored at the first request and never slides.
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.PTTL(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	resetAt := time.Now().Add(ttl.Val())
	return incr.Val(), resetAt, nil
}
