package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "collab:ratelimit:"

// RateLimiter counts requests per key in fixed one-minute windows shared by
// every server instance
type RateLimiter struct {
	client *Client
	limit  int64
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing RequestsPerMinute plus Burst per window
func NewRateLimiter(client *Client, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  int64(cfg.RequestsPerMinute + cfg.Burst),
		now:    time.Now,
	}
}

// Allow records one request for key.
// Returns (allowed, remaining, resetTime, error)
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := r.now()
	windowStart := now.Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.Expire(ctx, fullKey, windowEnd.Sub(now)+time.Second)
		return nil
	})
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := incr.Val()
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= r.limit, int(remaining), windowEnd, nil
}
