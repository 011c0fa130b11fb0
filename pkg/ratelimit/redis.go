package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowScript implements the sliding window atomically in Redis
// using a sorted set of admission timestamps keyed by microsecond score.
// KEYS[1] = window key
// ARGV[1] = limit
// ARGV[2] = window length (microseconds)
// ARGV[3] = now (microseconds)
// Returns {allowed, retry_after_micros}
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

local count = redis.call("ZCARD", key)
if count < limit then
    redis.call("ZADD", key, now, now .. "-" .. count)
    redis.call("PEXPIRE", key, math.ceil(window / 1000))
    return {1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = (tonumber(oldest[2]) + window) - now
return {0, retry}
`)

// RedisLimiter implements Limiter backed by Redis, so admission state is
// shared across processes.
type RedisLimiter struct {
	client  *redis.Client
	prefix  string
	sleeper func(ctx context.Context, d time.Duration) error
}

// NewRedisLimiter creates a limiter on an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		sleeper: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Allow executes the sliding-window script.
func (r *RedisLimiter) Allow(ctx context.Context, key string, policy Policy) (bool, time.Duration, error) {
	now := time.Now().UnixMicro()
	res, err := redisSlidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		policy.Limit, policy.Window.Microseconds(), now,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis limiter: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Microsecond, nil
}

// Acquire blocks until admitted or ctx is done.
func (r *RedisLimiter) Acquire(ctx context.Context, key string, policy Policy) error {
	for {
		ok, retryAfter, err := r.Allow(ctx, key, policy)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := r.sleeper(ctx, retryAfter); err != nil {
			return err
		}
	}
}
