// Package ratelimit provides token-bucket request limiting for
// credentialed access, keyed per principal. A key's bucket holds up to
// limit tokens and refills continuously at limit tokens per window, so
// a burst up to the limit is admitted immediately and sustained traffic
// is smoothed instead of starving until a window boundary.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single admission check. ResetAt is when
// the next token becomes available for a denied request, and when the
// bucket is full again for an allowed one.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits requests from a per-key token bucket of the given
// size, refilled at limit tokens per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// decide converts bucket state after a take attempt into a Decision.
func decide(allowed bool, limit int, window time.Duration, tokens float64, now time.Time) Decision {
	if tokens < 0 {
		tokens = 0
	}
	d := Decision{Allowed: allowed, Limit: limit, Remaining: int(tokens)}
	perToken := window.Seconds() / float64(limit)
	if allowed {
		if tokens < float64(limit) {
			d.ResetAt = now.Add(time.Duration((float64(limit) - tokens) * perToken * float64(time.Second)))
		}
	} else {
		need := 1 - tokens
		if need < 0 {
			need = 0
		}
		d.ResetAt = now.Add(time.Duration(need * perToken * float64(time.Second)))
	}
	return d
}
