// Package ratelimit throttles upload clients with a Redis-backed token
// bucket, so the limit holds across every API replica.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/telemetry"
)

// Bucket state for clients that stopped sending expires after this long.
const idleTTL = time.Hour

// TokenBucket enforces a per-key request budget: capacity tokens, refilled
// continuously at a fixed rate.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second

	now func() time.Time
}

// NewTokenBucket builds the limiter from runtime config.
func NewTokenBucket(client *redis.Client, cfg config.Config) *TokenBucket {
	capacity := cfg.RateLimitCapacity
	if capacity <= 0 {
		capacity = 50
	}
	refill := cfg.RateLimitRefill
	if refill <= 0 {
		refill = float64(capacity)
	}
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refill,
		now:      time.Now,
	}
}

// Allow takes one token for the key when available. It reports the decision
// and the tokens left; rejections are counted on the rate-limit metric.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	res, err := takeScript.Run(ctx, b.client, []string{key},
		b.capacity, b.refill, b.now().UnixMilli(), idleTTL.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	allowed := reply[0] == int64(1)
	var remaining float64
	switch v := reply[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
	}
	return allowed, remaining, nil
}

// takeScript refills by wall-clock elapsed time and takes one token, in a
// single round trip so concurrent callers never double-spend.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'stamp_ms')
local tokens = tonumber(state[1]) or capacity
local stamp = tonumber(state[2]) or now_ms

local elapsed = math.max(0, now_ms - stamp)
tokens = math.min(capacity, tokens + elapsed / 1000 * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'stamp_ms', now_ms)
if ttl_ms > 0 then redis.call('PEXPIRE', KEYS[1], ttl_ms) end
return {allowed, tokens}
`)
