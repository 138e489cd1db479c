// Package types defines the shared data model of the x402 facilitator:
// chains, payment facts, challenges, credentials, and configuration.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the x402 protocol version spoken by this module.
const ProtocolVersion = 1

// Chain identifies a supported blockchain network. The set is closed:
// adapter selection switches over the chain family, so adding a chain is
// an additive change here plus an adapter registration.
type Chain string

const (
	// EVM chains
	ChainBase        Chain = "base"
	ChainBaseSepolia Chain = "base-sepolia" // testnet
	ChainEthereum    Chain = "ethereum"
	ChainPolygon     Chain = "polygon"

	// Solana chains
	ChainSolana       Chain = "solana"
	ChainSolanaDevnet Chain = "solana-devnet" // testnet

	// Cosmos chains
	ChainCosmosHub Chain = "cosmoshub-4"
)

// AllChains lists every chain this module knows how to verify.
func AllChains() []Chain {
	return []Chain{
		ChainBase, ChainBaseSepolia, ChainEthereum, ChainPolygon,
		ChainSolana, ChainSolanaDevnet,
		ChainCosmosHub,
	}
}

func (c Chain) IsEVM() bool {
	return c == ChainBase || c == ChainBaseSepolia || c == ChainEthereum || c == ChainPolygon
}

func (c Chain) IsSolana() bool {
	return c == ChainSolana || c == ChainSolanaDevnet
}

func (c Chain) IsCosmos() bool {
	return c == ChainCosmosHub
}

func (c Chain) IsTestnet() bool {
	return c == ChainBaseSepolia || c == ChainSolanaDevnet
}

func (c Chain) String() string {
	return string(c)
}

// ParseChain maps a wire string onto the closed chain set.
func ParseChain(s string) (Chain, error) {
	for _, c := range AllChains() {
		if s == string(c) {
			return c, nil
		}
	}
	return "", &Error{
		Code:    ErrUnsupportedChain,
		Message: fmt.Sprintf("unsupported chain: %s", s),
	}
}

// PaymentFact is the normalized, chain-independent view of an on-chain
// payment, produced by a chain adapter. Immutable once constructed; the
// (Chain, TxID) pair is the natural key for consumption tracking.
type PaymentFact struct {
	Chain         Chain           `json:"chain"`
	TxID          string          `json:"txId"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	BlockHeight   uint64          `json:"blockHeight"`
	Confirmations uint64          `json:"confirmations"`
	Finalized     bool            `json:"finalized"`
}

// Key returns the deduplication key for this fact.
func (f *PaymentFact) Key() string {
	return string(f.Chain) + ":" + f.TxID
}

// ChainPrice is one chain's entry in a payment challenge: where to pay,
// in what asset, and how much.
type ChainPrice struct {
	Chain          Chain  `json:"chain"`
	PaymentAddress string `json:"paymentAddress"`
	Asset          string `json:"asset"`
	AssetSymbol    string `json:"assetSymbol"`
	AssetDecimals  int    `json:"assetDecimals"`
	Amount         string `json:"amount"`
	Confirmations  uint64 `json:"confirmations"`
}

// PaymentChallenge is the structured "payment required" response issued
// when a request carries no valid credential. Amounts are fixed-point
// strings with explicit decimals; the expiry bounds how stale an
// unredeemed challenge may get before the client must re-request pricing.
type PaymentChallenge struct {
	Resource    string       `json:"resource"`
	BaseAmount  string       `json:"baseAmount"`
	Amount      string       `json:"amount"`
	DiscountBps int64        `json:"discountBps"`
	Tier        string       `json:"tier"`
	Prices      []ChainPrice `json:"accepts"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// RequiredAmount returns the discounted amount as a decimal.
func (p *PaymentChallenge) RequiredAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(p.Amount)
}

// AccessCredential is the time-bounded proof of payment. It is
// self-contained: the signature covers every claim, so the admission gate
// validates it without touching the consumption store. Immutable; it is
// never renewed, it simply expires.
type AccessCredential struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal"`
	Chain       Chain     `json:"chain"`
	TxID        string    `json:"txId"`
	Scope       []string  `json:"scope"`
	DiscountBps int64     `json:"discountBps"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// InScope reports whether the credential admits the given resource.
// A scope entry of "*" admits everything; otherwise entries are resource
// path prefixes.
func (c *AccessCredential) InScope(resource string) bool {
	for _, s := range c.Scope {
		if s == "*" {
			return true
		}
		if s != "" && strings.HasPrefix(resource, s) {
			return true
		}
	}
	return false
}

// Expired reports whether the credential is past its expiry at the given
// instant.
func (c *AccessCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AccessGrant is the result of a successful verification: the minted
// credential plus its opaque bearer encoding.
type AccessGrant struct {
	Credential AccessCredential `json:"credential"`
	Token      string           `json:"token"`
	Fact       PaymentFact      `json:"payment"`
	Overpaid   string           `json:"overpaid,omitempty"`
}

// VerifyRequest is a payment-proof submission: a reference to an
// already-broadcast transaction, never a raw signed transaction.
type VerifyRequest struct {
	Chain    string `json:"chain" validate:"required"`
	TxID     string `json:"txHash" validate:"required"`
	Resource string `json:"resource" validate:"required"`
}

// Validate checks the request shape before any chain work happens.
func (r *VerifyRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &Error{Code: ErrInvalidRequest, Message: err.Error()}
	}
	if _, err := ParseChain(r.Chain); err != nil {
		return err
	}
	return nil
}
