package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally adds in one atomic
// step, so the count can never exceed the limit even under concurrent bursts
// across instances. Times are in microseconds. Returns
// {allowed, remaining, retry_after_us, reset_at_us}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)
  return {1, limit - count - 1, 0, now + window}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {0, 0, reset - now, reset}
`)

// RedisSlidingWindowLimiter keeps one sorted set of hit timestamps per key.
// All instances sharing the Redis share the window.
type RedisSlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisSlidingWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisSlidingWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisSlidingWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisSlidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	nowUS := time.Now().UnixMicro()
	windowUS := l.window.Microseconds()

	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		nowUS, windowUS, l.limit, uuid.NewString(),
	).Result()
	if err != nil {
		return Decision{}, err
	}

	vals, ok := raw.([]any)
	if !ok || len(vals) != 4 {
		return Decision{}, fmt.Errorf("unexpected limiter script reply: %v", raw)
	}
	allowed := toInt64(vals[0]) == 1
	remaining := toInt64(vals[1])
	retryAfter := time.Duration(toInt64(vals[2])) * time.Microsecond
	resetAt := time.UnixMicro(toInt64(vals[3]))

	return Decision{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  int(remaining),
		RetryAfter: retryAfter,
		ResetAt:    resetAt,
	}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
