package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// redisAllowScript is a lazily refilled token bucket: state is a hash
// of {tokens, ts}, topped up by the elapsed time since the last call.
// KEYS[1] bucket key; ARGV[1] bucket size, ARGV[2] refill window in
// milliseconds, ARGV[3] caller clock in unix milliseconds.
var redisAllowScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil or now < ts then
  tokens = burst
  ts = now
end
tokens = tokens + (now - ts) * burst / window
if tokens > burst then
  tokens = burst
end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", string.format("%.6f", tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], window * 2)
return {allowed, string.format("%.6f", tokens)}
`)

// NewRedisLimiter returns a token-bucket limiter with its state in a
// shared Redis hash, so the limit holds across facilitator replicas.
func NewRedisLimiter(addr, password string, db int, now func() time.Time) (Limiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisLimiter{client: client, now: now}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	now := r.now()
	result, err := redisAllowScript.Run(ctx, r.client, []string{key}, limit, windowMillis, now.UnixMilli()).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("unexpected redis rate limit response")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("invalid redis bucket response")
	}
	tokensStr, ok := values[1].(string)
	if !ok {
		return Decision{}, errors.New("invalid redis bucket response")
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return Decision{}, errors.New("invalid redis bucket response")
	}
	return decide(allowed == 1, limit, time.Duration(windowMillis)*time.Millisecond, tokens, now), nil
}
