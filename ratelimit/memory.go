package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string]*memoryBucket
	maxKeys int
}

type memoryBucket struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewMemoryLimiter returns an in-process token-bucket limiter. Suitable
// for a single facilitator instance; use the Redis limiter when running
// more than one.
func NewMemoryLimiter(cfg MemoryLimiterConfig) Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		data:    make(map[string]*memoryBucket),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if window <= 0 {
		window = time.Second
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[key]
	if ok && (bucket.limit != limit || bucket.window != window) {
		// Parameters changed under the key; start over with a full bucket.
		delete(m.data, key)
		ok = false
	}
	if !ok {
		if len(m.data) >= m.maxKeys {
			m.gc(now)
		}
		if len(m.data) >= m.maxKeys {
			return Decision{}, errors.New("rate limiter capacity exceeded")
		}
		bucket = &memoryBucket{
			lim:    rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
			limit:  limit,
			window: window,
		}
		m.data[key] = bucket
	}
	bucket.lastSeen = now

	allowed := bucket.lim.AllowN(now, 1)
	return decide(allowed, limit, window, bucket.lim.TokensAt(now), now), nil
}

// gc drops buckets idle long enough to have refilled completely.
func (m *memoryLimiter) gc(now time.Time) {
	for key, bucket := range m.data {
		if now.Sub(bucket.lastSeen) >= 2*bucket.window {
			delete(m.data, key)
		}
	}
}
