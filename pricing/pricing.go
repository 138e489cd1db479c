// Package pricing computes payment challenges: what a resource costs,
// per chain, after the principal's staking discount. Prices are quoted
// fresh on every call. The verifier re-quotes at redemption time, so a
// stale low-price challenge cannot be redeemed after a price increase.
package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kamiyo/x402/logger"
	"github.com/kamiyo/x402/staking"
	"github.com/kamiyo/x402/types"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// Quote is one priced resource for one principal.
type Quote struct {
	Resource string
	Base     decimal.Decimal
	Required decimal.Decimal
	Tier     staking.Tier
}

// Issuer builds challenges from the configured price book and the
// external staking ledger.
type Issuer struct {
	cfg    *types.Config
	ledger staking.Ledger
	log    logger.Logger
	now    func() time.Time
}

func NewIssuer(cfg *types.Config, ledger staking.Ledger, log logger.Logger) *Issuer {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Issuer{cfg: cfg, ledger: ledger, now: time.Now, log: log}
}

// WithClock overrides the issuer's time source, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// QuoteFor prices a resource for a principal: base price from the price
// book, discount from the staking tier. An unknown principal or a failing
// ledger lookup prices at the free tier; pricing degrades rather than
// blocking.
func (i *Issuer) QuoteFor(ctx context.Context, resource, principal string) Quote {
	base := i.cfg.PriceFor(resource)
	tier := staking.TierFor(decimal.Zero)
	if principal != "" && i.ledger != nil {
		balance, err := i.ledger.StakedBalance(ctx, principal)
		if err != nil {
			i.log.Warn("staking ledger lookup failed, pricing at free tier", map[string]any{
				"principal": principal,
				"error":     err.Error(),
			})
		} else {
			tier = staking.TierFor(balance)
		}
	}

	discount := decimal.NewFromInt(tier.DiscountBps).Div(bpsDenominator)
	required := base.Mul(decimal.NewFromInt(1).Sub(discount))
	return Quote{Resource: resource, Base: base, Required: required, Tier: tier}
}

// Challenge builds the structured payment-required response for a
// resource, carrying one price entry per configured chain.
func (i *Issuer) Challenge(ctx context.Context, resource, principal string) *types.PaymentChallenge {
	quote := i.QuoteFor(ctx, resource, principal)

	prices := make([]types.ChainPrice, 0, len(i.cfg.Chains))
	for _, chain := range types.AllChains() {
		cc, ok := i.cfg.Chains[chain]
		if !ok {
			continue
		}
		prices = append(prices, types.ChainPrice{
			Chain:          chain,
			PaymentAddress: cc.PaymentAddress,
			Asset:          cc.Asset,
			AssetSymbol:    cc.AssetSymbol,
			AssetDecimals:  cc.AssetDecimals,
			Amount:         quote.Required.StringFixed(int32(cc.AssetDecimals)),
			Confirmations:  cc.Confirmations,
		})
	}

	return &types.PaymentChallenge{
		Resource:    resource,
		BaseAmount:  quote.Base.String(),
		Amount:      quote.Required.String(),
		DiscountBps: quote.Tier.DiscountBps,
		Tier:        quote.Tier.Name,
		Prices:      prices,
		ExpiresAt:   i.now().UTC().Add(i.cfg.ChallengeTTL),
	}
}
