package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trancheworks/cascade/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a fixed-window counter:
// INCR per key, EXPIRE set on the first hit of the window.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying()}
}

// Allow reports whether the keyed action is within its limit for the
// current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "ratelimit:" + key

	count, err := rl.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit incr %s: %w", key, err)
	}
	if count == 1 {
		if err := rl.rdb.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("redis: rate limit expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
