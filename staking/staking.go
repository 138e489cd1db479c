// Package staking maps a principal's staked balance onto a pricing
// discount tier. The ledger itself is external; this package only reads
// it, and only at challenge-issuance time. Tier values are snapshotted
// into issued credentials, so later balance changes never affect an
// existing credential.
package staking

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tier is one row of the discount table.
type Tier struct {
	Name        string          `json:"name"`
	MinStake    decimal.Decimal `json:"minStake"`
	DiscountBps int64           `json:"discountBps"`
}

// The tier thresholds and fee discounts of the staking program:
// Pro at 1,000 staked (10%), Team at 10,000 (20%), Enterprise at
// 100,000 (30%).
var tiers = []Tier{
	{Name: "free", MinStake: decimal.Zero, DiscountBps: 0},
	{Name: "pro", MinStake: decimal.NewFromInt(1_000), DiscountBps: 1_000},
	{Name: "team", MinStake: decimal.NewFromInt(10_000), DiscountBps: 2_000},
	{Name: "enterprise", MinStake: decimal.NewFromInt(100_000), DiscountBps: 3_000},
}

// Tiers returns the discount table, lowest tier first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// TierFor returns the highest tier whose threshold the balance meets.
func TierFor(balance decimal.Decimal) Tier {
	best := tiers[0]
	for _, t := range tiers[1:] {
		if balance.GreaterThanOrEqual(t.MinStake) {
			best = t
		}
	}
	return best
}

// Ledger reads a principal's staked balance. Implementations are
// external collaborators (an on-chain program, an indexer); lookups are
// read-only and may be served stale.
type Ledger interface {
	StakedBalance(ctx context.Context, principal string) (decimal.Decimal, error)
}

// StaticLedger serves balances from a fixed map; zero for unknown
// principals. Used in tests and single-tenant deployments.
type StaticLedger map[string]decimal.Decimal

var _ Ledger = (StaticLedger)(nil)

func (l StaticLedger) StakedBalance(_ context.Context, principal string) (decimal.Decimal, error) {
	if b, ok := l[principal]; ok {
		return b, nil
	}
	return decimal.Zero, nil
}
