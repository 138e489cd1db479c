// Package store defines the durable consumption ledger: the record of
// which on-chain transactions have already been redeemed for a
// credential. It is the only shared mutable state in the facilitator.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kamiyo/x402/types"
)

// ErrAlreadyConsumed is returned by Consume when the (chain, txID) key
// is already present. This is expected, common behavior under client
// retries and must stay cheap to report.
var ErrAlreadyConsumed = errors.New("transaction already consumed")

// ErrUnavailable signals that the durable store could not be reached.
// Callers must fail closed on it: an in-memory substitute would permit
// replay across a restart.
var ErrUnavailable = errors.New("consumption store unavailable")

// ConsumptionRecord marks one redeemed transaction. Records are written
// exactly once and never mutated; ExpiresAt is the garbage-collection
// horizon (credential TTL plus a safety margin to catch delayed replays).
type ConsumptionRecord struct {
	Chain        types.Chain
	TxID         string
	CredentialID string
	Principal    string
	Amount       string
	ConsumedAt   time.Time
	ExpiresAt    time.Time
}

// ConsumptionStore is the durable check-and-insert ledger.
//
// Consume must be atomic per (Chain, TxID): when N callers race on the
// same key, exactly one succeeds and the rest observe ErrAlreadyConsumed.
// Atomicity is scoped to the key; unrelated keys never contend.
type ConsumptionStore interface {
	Consume(ctx context.Context, rec ConsumptionRecord) error
	Get(ctx context.Context, chain types.Chain, txID string) (*ConsumptionRecord, error)
	// Purge removes records whose GC horizon has passed and reports how
	// many were removed.
	Purge(ctx context.Context, now time.Time) (int64, error)
}
