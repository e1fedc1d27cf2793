package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter counts requests per fixed window in Redis so every
// replica shares one budget.
type RedisRateLimiter struct {
	redis  redis.Cmdable
	config *RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed limiter. Keys are stored as
// "<prefix>:<key>".
func NewRedisRateLimiter(client redis.Cmdable, config *RateLimitConfig, prefix string) *RedisRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "roster:ratelimit"
	}
	return &RedisRateLimiter{redis: client, config: config, prefix: prefix}
}

func (rl *RedisRateLimiter) Config() *RateLimitConfig { return rl.config }

func (rl *RedisRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow increments the window counter for key. The window starts with the
// first request and the burst is added on top of the per-window budget.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count <= int64(rl.config.RequestsPerWindow+rl.config.BurstSize), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *RedisRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	limit := rl.config.RequestsPerWindow + rl.config.BurstSize
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return limit, nil
	} else if err != nil {
		return 0, err
	}
	if remaining := limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// TTL returns the time until the rate limit window resets
func (rl *RedisRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
