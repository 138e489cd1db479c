// Package chains implements one adapter per supported blockchain. An
// adapter fetches a chain-recorded transaction and extracts a normalized
// PaymentFact; it never trusts a single RPC attempt and never decides
// whether a payment satisfies a challenge; that is the verifier's job.
package chains

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kamiyo/x402/types"
)

// Adapter fetches finalized transaction data for one chain.
//
// Fetch returns the fact for txID. A fact with Finalized=false signals a
// waiting condition: the caller should poll again later, not fail. Errors
// carry types.Error codes: transaction_not_found and recipient_mismatch
// family codes are terminal for this txID, adapter_unavailable means the
// RPC endpoint failed after the bounded retry budget.
type Adapter interface {
	Chain() types.Chain
	Fetch(ctx context.Context, txID string) (*types.PaymentFact, error)
	Close()
}

// transfer is one decoded asset movement inside a transaction.
type transfer struct {
	Sender    string
	Recipient string
	Asset     string
	Amount    decimal.Decimal
}

// buildFact normalizes the decoded transfers of one transaction against
// the chain configuration.
//
// Multiple transfers of the expected asset to the payment address are
// summed. If matching transfers coexist with transfers of the same asset
// to other recipients, the intent is ambiguous and the transaction is
// rejected rather than guessed at. When nothing matches, the fact carries
// the closest non-matching transfer so the verifier can report which
// check failed (wrong recipient vs wrong asset).
func buildFact(chain types.Chain, txID string, cfg types.ChainConfig, transfers []transfer, height, confirmations uint64) (*types.PaymentFact, error) {
	fact := &types.PaymentFact{
		Chain:         chain,
		TxID:          txID,
		BlockHeight:   height,
		Confirmations: confirmations,
		Finalized:     confirmations >= cfg.Confirmations,
	}

	var matched []transfer
	var sameAssetElsewhere []transfer
	var toPaymentWrongAsset []transfer
	for _, t := range transfers {
		switch {
		case t.Asset == cfg.Asset && t.Recipient == cfg.PaymentAddress:
			matched = append(matched, t)
		case t.Asset == cfg.Asset:
			sameAssetElsewhere = append(sameAssetElsewhere, t)
		case t.Recipient == cfg.PaymentAddress:
			toPaymentWrongAsset = append(toPaymentWrongAsset, t)
		}
	}

	if len(matched) > 0 {
		if len(sameAssetElsewhere) > 0 {
			return nil, &types.Error{
				Code:    types.ErrAmbiguousTransfer,
				Message: "transaction splits the asset between the payment address and other recipients",
				Data: map[string]any{
					"chain":           chain.String(),
					"txId":            txID,
					"otherRecipients": len(sameAssetElsewhere),
				},
			}
		}
		total := decimal.Zero
		for _, t := range matched {
			total = total.Add(t.Amount)
		}
		fact.Sender = matched[0].Sender
		fact.Recipient = cfg.PaymentAddress
		fact.Asset = cfg.Asset
		fact.Amount = total
		return fact, nil
	}

	// Nothing matched; surface the closest transfer so validation can
	// name the failing check.
	if len(toPaymentWrongAsset) > 0 {
		t := toPaymentWrongAsset[0]
		fact.Sender = t.Sender
		fact.Recipient = t.Recipient
		fact.Asset = t.Asset
		fact.Amount = t.Amount
		return fact, nil
	}
	if len(sameAssetElsewhere) > 0 {
		t := sameAssetElsewhere[0]
		fact.Sender = t.Sender
		fact.Recipient = t.Recipient
		fact.Asset = t.Asset
		fact.Amount = t.Amount
		return fact, nil
	}

	return nil, &types.Error{
		Code:    types.ErrRecipientMismatch,
		Message: fmt.Sprintf("no transfer of %s to the payment address found in transaction", cfg.AssetSymbol),
		Data:    map[string]any{"chain": chain.String(), "txId": txID},
	}
}
