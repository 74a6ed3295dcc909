// Package ratelimit implements an optional redis-backed token bucket for
// the CSV submission endpoint. When redis is unavailable the limiter fails
// open: a broken limiter must not block imports.
package ratelimit

import (
	"context"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tokens}
`

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

type Result struct {
	Allowed   bool
	Remaining int
}

func (b *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int, ttl time.Duration) (Result, error) {
	values, err := b.script.Run(ctx, b.client, []string{key},
		rate, burst, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(values) < 2 {
		return Result{Allowed: true}, nil
	}
	return Result{
		Allowed:   values[0] == 1,
		Remaining: int(math.Max(0, float64(values[1]))),
	}, nil
}
