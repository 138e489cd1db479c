package chains

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kamiyo/x402/types"
)

const (
	solMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	solPay   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	solPayer = "So11111111111111111111111111111111111111112"
)

func pk(s string) solana.PublicKey { return solana.MustPublicKeyFromBase58(s) }

func pkPtr(s string) *solana.PublicKey {
	p := pk(s)
	return &p
}

func tokenBalance(account uint16, owner, mint, amount string, decimals uint8) rpc.TokenBalance {
	return rpc.TokenBalance{
		AccountIndex: account,
		Mint:         pk(mint),
		Owner:        pkPtr(owner),
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   amount,
			Decimals: decimals,
		},
	}
}

func TestTokenBalanceDeltas(t *testing.T) {
	// Payer's token account drops by 10000 raw units, payment account
	// gains them: one transfer of 0.01 at 6 decimals.
	pre := []rpc.TokenBalance{
		tokenBalance(1, solPayer, solMint, "250000", 6),
		tokenBalance(2, solPay, solMint, "0", 6),
	}
	post := []rpc.TokenBalance{
		tokenBalance(1, solPayer, solMint, "240000", 6),
		tokenBalance(2, solPay, solMint, "10000", 6),
	}

	transfers := tokenBalanceDeltas(pre, post)
	if len(transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(transfers))
	}
	tr := transfers[0]
	if tr.Sender != solPayer || tr.Recipient != solPay || tr.Asset != solMint {
		t.Errorf("transfer = %+v, want payer->payment of the mint", tr)
	}
	if tr.Amount.String() != "0.01" {
		t.Errorf("Amount = %s, want 0.01", tr.Amount)
	}
}

func TestTokenBalanceDeltasAccountCreatedMidTransaction(t *testing.T) {
	// Recipient token account did not exist pre-transaction: only a post
	// entry is present.
	pre := []rpc.TokenBalance{
		tokenBalance(1, solPayer, solMint, "500000", 6),
	}
	post := []rpc.TokenBalance{
		tokenBalance(1, solPayer, solMint, "300000", 6),
		tokenBalance(2, solPay, solMint, "200000", 6),
	}

	transfers := tokenBalanceDeltas(pre, post)
	if len(transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(transfers))
	}
	if transfers[0].Amount.String() != "0.2" {
		t.Errorf("Amount = %s, want 0.2", transfers[0].Amount)
	}
	if transfers[0].Sender != solPayer {
		t.Errorf("Sender = %s, want %s", transfers[0].Sender, solPayer)
	}
}

func TestTokenBalanceDeltasNoChange(t *testing.T) {
	balances := []rpc.TokenBalance{tokenBalance(1, solPayer, solMint, "100", 6)}
	if got := tokenBalanceDeltas(balances, balances); len(got) != 0 {
		t.Errorf("got %d transfers for unchanged balances, want 0", len(got))
	}
}

func TestSolanaFetchRejectsBadSignature(t *testing.T) {
	cfg := types.ChainConfig{
		RPCURL:         "http://localhost:8899",
		PaymentAddress: solPay,
		Asset:          solMint,
		AssetSymbol:    "USDC",
		AssetDecimals:  6,
		Confirmations:  1,
	}
	adapter := NewSolanaAdapterWithBackend(types.ChainSolana, cfg, nil)
	_, err := adapter.Fetch(context.Background(), "not base58 at all!!")
	if !types.IsCode(err, types.ErrInvalidRequest) {
		t.Errorf("error = %v, want %s", err, types.ErrInvalidRequest)
	}
}
