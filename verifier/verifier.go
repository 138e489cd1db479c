// Package verifier orchestrates payment verification: adapter fetch,
// challenge validation, exactly-once consumption, credential issuance.
package verifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kamiyo/x402/chains"
	"github.com/kamiyo/x402/credential"
	"github.com/kamiyo/x402/logger"
	"github.com/kamiyo/x402/metrics"
	"github.com/kamiyo/x402/pricing"
	"github.com/kamiyo/x402/store"
	"github.com/kamiyo/x402/types"
	"github.com/kamiyo/x402/utils"
)

// Verifier validates payment proofs against the configured challenge
// parameters and enforces exactly-once redemption per (chain, tx).
type Verifier struct {
	cfg      *types.Config
	adapters map[types.Chain]chains.Adapter
	cons     store.ConsumptionStore
	issuer   *credential.Issuer
	quoter   *pricing.Issuer
	log      logger.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

func New(cfg *types.Config, cons store.ConsumptionStore, issuer *credential.Issuer, quoter *pricing.Issuer, log logger.Logger, rec metrics.Recorder) *Verifier {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Verifier{
		cfg:      cfg,
		adapters: make(map[types.Chain]chains.Adapter),
		cons:     cons,
		issuer:   issuer,
		quoter:   quoter,
		log:      log,
		metrics:  rec,
		now:      time.Now,
	}
}

// AddAdapter registers a chain adapter.
func (v *Verifier) AddAdapter(a chains.Adapter) {
	v.adapters[a.Chain()] = a
}

// IsChainSupported reports whether an adapter is registered for chain.
func (v *Verifier) IsChainSupported(chain types.Chain) bool {
	_, ok := v.adapters[chain]
	return ok
}

// SupportedChains lists registered chains in the canonical order.
func (v *Verifier) SupportedChains() []types.Chain {
	var out []types.Chain
	for _, c := range types.AllChains() {
		if _, ok := v.adapters[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Close closes every registered adapter.
func (v *Verifier) Close() {
	for _, a := range v.adapters {
		a.Close()
	}
}

// Verify redeems a payment proof for an access credential.
//
// The price is re-evaluated here against the current price book and the
// sender's current staking tier, not against whatever challenge the
// client may have seen earlier; a stale low-price challenge is therefore
// not redeemable after a price increase.
//
// Once the payment fact passes validation, consumption and issuance run
// under a context detached from the caller: a client disconnect mid-verify
// never leaves a payment half-consumed.
func (v *Verifier) Verify(ctx context.Context, req *types.VerifyRequest) (*types.AccessGrant, error) {
	start := v.now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	chain, err := types.ParseChain(req.Chain)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateTxID(chain, req.TxID); err != nil {
		return nil, err
	}
	labels := map[string]string{"chain": chain.String()}
	defer func() {
		v.metrics.ObserveLatency("verify", time.Since(start), labels)
	}()

	adapter, ok := v.adapters[chain]
	if !ok {
		return nil, &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: "no adapter registered for chain " + chain.String(),
		}
	}

	fact, err := adapter.Fetch(ctx, req.TxID)
	if err != nil {
		v.metrics.IncCounter(rejectionEvent(err), labels)
		return nil, err
	}

	cc := v.cfg.Chains[chain]
	if !fact.Finalized {
		v.metrics.IncCounter(metrics.EventVerifyRetryable, labels)
		return nil, &types.Error{
			Code:    types.ErrNotFinalized,
			Message: "transaction is not finalized yet, retry shortly",
			Data: map[string]any{
				"confirmations": fact.Confirmations,
				"required":      cc.Confirmations,
			},
		}
	}

	if err := v.validateFact(ctx, fact, cc, req.Resource); err != nil {
		v.metrics.IncCounter(metrics.EventVerifyRejected, labels)
		return nil, err
	}

	// Redemption-time quote: sender's current tier, current price book.
	quote := v.quoter.QuoteFor(ctx, req.Resource, fact.Sender)
	if fact.Amount.LessThan(quote.Required) {
		v.metrics.IncCounter(metrics.EventVerifyRejected, labels)
		return nil, &types.Error{
			Code:    types.ErrAmountInsufficient,
			Message: "payment amount is below the required price",
			Data: map[string]any{
				"paid":     fact.Amount.String(),
				"required": quote.Required.String(),
				"tier":     quote.Tier.Name,
			},
		}
	}

	// From here on the outcome must not depend on the caller still being
	// connected: consume and issue as one unit.
	detached := context.WithoutCancel(ctx)

	cred, token, err := v.issuer.Issue(fact.Sender, chain, fact.TxID, quote.Tier.DiscountBps, []string{req.Resource})
	if err != nil {
		return nil, err
	}

	rec := store.ConsumptionRecord{
		Chain:        chain,
		TxID:         fact.TxID,
		CredentialID: cred.ID,
		Principal:    fact.Sender,
		Amount:       fact.Amount.String(),
		ConsumedAt:   v.now().UTC(),
		ExpiresAt:    cred.ExpiresAt.Add(24 * time.Hour),
	}
	if err := v.cons.Consume(detached, rec); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyConsumed):
			v.metrics.IncCounter(metrics.EventReplayRejected, labels)
			return nil, &types.Error{
				Code:    types.ErrAlreadyConsumed,
				Message: "transaction has already been redeemed",
				Data:    map[string]any{"chain": chain.String(), "txId": fact.TxID},
			}
		case errors.Is(err, store.ErrUnavailable):
			// Fail closed: without the durable ledger we cannot rule out
			// replay, so no credential is issued.
			v.metrics.IncCounter(metrics.EventStoreUnavailable, labels)
			v.log.Error("consumption store unavailable, refusing to issue credential", map[string]any{
				"chain": chain.String(),
				"txId":  fact.TxID,
			})
			return nil, &types.Error{
				Code:    types.ErrStoreUnavailable,
				Message: "verification store unavailable, retry shortly",
			}
		default:
			return nil, err
		}
	}

	grant := &types.AccessGrant{Credential: *cred, Token: token, Fact: *fact}
	if fact.Amount.GreaterThan(quote.Required) {
		excess := fact.Amount.Sub(quote.Required)
		grant.Overpaid = excess.String()
		v.metrics.IncCounter(metrics.EventOverpayment, labels)
		v.log.Info("overpayment accepted", map[string]any{
			"chain":    chain.String(),
			"txId":     fact.TxID,
			"paid":     fact.Amount.String(),
			"required": quote.Required.String(),
			"excess":   excess.String(),
		})
	}

	v.metrics.IncCounter(metrics.EventVerifySucceeded, labels)
	v.log.Info("payment verified, credential issued", map[string]any{
		"chain":      chain.String(),
		"txId":       fact.TxID,
		"principal":  fact.Sender,
		"credential": cred.ID,
		"tier":       quote.Tier.Name,
	})
	return grant, nil
}

// rejectionEvent keeps transient conditions out of the rejection
// counter: a rejected verification is one that will never be accepted,
// a retryable one may still succeed on resubmission.
func rejectionEvent(err error) string {
	var fe *types.Error
	if errors.As(err, &fe) && fe.Retryable() {
		return metrics.EventVerifyRetryable
	}
	return metrics.EventVerifyRejected
}

// validateFact binds the fact to the configured recipient and asset.
// EVM hex addresses compare case-insensitively; base58 and bech32
// addresses are case-sensitive.
func (v *Verifier) validateFact(_ context.Context, fact *types.PaymentFact, cc types.ChainConfig, _ string) error {
	equal := func(a, b string) bool {
		if fact.Chain.IsEVM() {
			return strings.EqualFold(a, b)
		}
		return a == b
	}
	if !equal(fact.Recipient, cc.PaymentAddress) {
		return &types.Error{
			Code:    types.ErrRecipientMismatch,
			Message: "payment went to an address other than the payment address",
			Data: map[string]any{
				"expected": cc.PaymentAddress,
				"actual":   fact.Recipient,
			},
		}
	}
	if !equal(fact.Asset, cc.Asset) {
		return &types.Error{
			Code:    types.ErrAssetMismatch,
			Message: "payment used an asset other than the accepted one",
			Data: map[string]any{
				"expected": cc.Asset,
				"actual":   fact.Asset,
			},
		}
	}
	return nil
}
