package chains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/kamiyo/x402/types"
)

// solanaBackend narrows rpc.Client for testability.
type solanaBackend interface {
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

var _ solanaBackend = (*rpc.Client)(nil)

// SolanaAdapter verifies SPL token transfers. It works off the pre/post
// token balances recorded in the transaction meta rather than decoding
// instructions, so transfers routed through inner instructions are seen
// too. Finality is slot-based: confirmations are the slots elapsed since
// the transaction's slot.
type SolanaAdapter struct {
	chain  types.Chain
	cfg    types.ChainConfig
	client solanaBackend
	retry  retryPolicy
}

var _ Adapter = (*SolanaAdapter)(nil)

// NewSolanaAdapter creates an adapter against the configured RPC endpoint.
func NewSolanaAdapter(chain types.Chain, cfg types.ChainConfig) (*SolanaAdapter, error) {
	if !chain.IsSolana() {
		return nil, &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("chain %s is not a Solana chain", chain),
		}
	}
	return NewSolanaAdapterWithBackend(chain, cfg, rpc.New(cfg.RPCURL)), nil
}

// NewSolanaAdapterWithBackend wires an adapter to an existing RPC client.
func NewSolanaAdapterWithBackend(chain types.Chain, cfg types.ChainConfig, client solanaBackend) *SolanaAdapter {
	return &SolanaAdapter{chain: chain, cfg: cfg, client: client, retry: defaultRetryPolicy()}
}

func (a *SolanaAdapter) Chain() types.Chain { return a.chain }

// SetRetry overrides the retry budget and per-attempt timeout.
func (a *SolanaAdapter) SetRetry(attempts int, attemptTimeout time.Duration) {
	a.retry.tune(attempts, attemptTimeout)
}

func (a *SolanaAdapter) Close() {}

// Fetch retrieves the transaction by signature and normalizes its token
// balance changes.
func (a *SolanaAdapter) Fetch(ctx context.Context, txID string) (*types.PaymentFact, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequest,
			Message: "transaction id is not a base58 signature: " + err.Error(),
		}
	}

	maxVersion := uint64(0)
	var out *rpc.GetTransactionResult
	var currentSlot uint64
	err = a.retry.do(ctx, func(ctx context.Context) error {
		res, err := a.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			res = nil
		} else if err != nil {
			return err
		}
		if res == nil {
			return &types.Error{
				Code:    types.ErrTransactionNotFound,
				Message: fmt.Sprintf("transaction %s not found on %s", txID, a.chain),
			}
		}
		slot, err := a.client.GetSlot(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		out, currentSlot = res, slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Meta == nil {
		return nil, &types.Error{
			Code:    types.ErrAdapterUnavailable,
			Message: "transaction meta missing from rpc response",
		}
	}
	if out.Meta.Err != nil {
		return nil, &types.Error{
			Code:    types.ErrTransactionNotFound,
			Message: fmt.Sprintf("transaction %s failed on %s", txID, a.chain),
			Data:    map[string]any{"slot": out.Slot},
		}
	}

	var confirmations uint64
	if currentSlot >= out.Slot {
		confirmations = currentSlot - out.Slot
	}

	transfers := tokenBalanceDeltas(out.Meta.PreTokenBalances, out.Meta.PostTokenBalances)
	return buildFact(a.chain, txID, a.cfg, transfers, out.Slot, confirmations)
}

// tokenBalanceDeltas turns pre/post token balance snapshots into transfer
// records. Each token account whose balance grew is a receipt; the owner
// whose balance of the same mint shrank is taken as the sender.
func tokenBalanceDeltas(pre, post []rpc.TokenBalance) []transfer {
	type key struct {
		account uint16
	}
	type entry struct {
		owner    string
		mint     string
		decimals int32
		amount   decimal.Decimal
	}

	balances := map[key]entry{}
	record := func(tb rpc.TokenBalance, sign decimal.Decimal) {
		if tb.UiTokenAmount == nil {
			return
		}
		raw, err := decimal.NewFromString(tb.UiTokenAmount.Amount)
		if err != nil {
			return
		}
		owner := ""
		if tb.Owner != nil {
			owner = tb.Owner.String()
		}
		k := key{account: tb.AccountIndex}
		e, ok := balances[k]
		if !ok {
			e = entry{owner: owner, mint: tb.Mint.String(), decimals: int32(tb.UiTokenAmount.Decimals)}
		}
		e.amount = e.amount.Add(raw.Mul(sign))
		balances[k] = e
	}
	for _, tb := range pre {
		record(tb, decimal.NewFromInt(-1))
	}
	for _, tb := range post {
		record(tb, decimal.NewFromInt(1))
	}

	// Senders by mint: whoever's balance of that mint decreased.
	senders := map[string]string{}
	for _, e := range balances {
		if e.amount.IsNegative() {
			senders[e.mint] = e.owner
		}
	}

	var out []transfer
	for _, e := range balances {
		if !e.amount.IsPositive() {
			continue
		}
		out = append(out, transfer{
			Sender:    senders[e.mint],
			Recipient: e.owner,
			Asset:     e.mint,
			Amount:    e.amount.Shift(-e.decimals),
		})
	}
	return out
}
