package staking

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CachedLedger memoizes balance lookups for a short TTL. Staleness only
// affects pricing fairness, never payment security, so a seconds-scale
// window is acceptable and keeps the external ledger off the hot path.
type CachedLedger struct {
	inner Ledger
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	balance   decimal.Decimal
	expiresAt time.Time
}

var _ Ledger = (*CachedLedger)(nil)

func NewCachedLedger(inner Ledger, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedLedger) StakedBalance(ctx context.Context, principal string) (decimal.Decimal, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[principal]
	c.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.balance, nil
	}

	balance, err := c.inner.StakedBalance(ctx, principal)
	if err != nil {
		// Serve the stale value rather than fail pricing outright.
		if ok {
			return entry.balance, nil
		}
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.entries[principal] = cacheEntry{balance: balance, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return balance, nil
}
