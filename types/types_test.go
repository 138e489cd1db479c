package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseChain(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Chain
		wantErr bool
	}{
		{"base", "base", ChainBase, false},
		{"base sepolia", "base-sepolia", ChainBaseSepolia, false},
		{"solana", "solana", ChainSolana, false},
		{"cosmos hub", "cosmoshub-4", ChainCosmosHub, false},
		{"unknown", "dogecoin", "", true},
		{"empty", "", "", true},
		{"case sensitive", "Base", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChain(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseChain(%q) expected error, got %v", tt.input, got)
				}
				if !IsCode(err, ErrUnsupportedChain) {
					t.Errorf("ParseChain(%q) error code = %v, want %s", tt.input, err, ErrUnsupportedChain)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChain(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseChain(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestChainFamilies(t *testing.T) {
	for _, c := range AllChains() {
		families := 0
		if c.IsEVM() {
			families++
		}
		if c.IsSolana() {
			families++
		}
		if c.IsCosmos() {
			families++
		}
		if families != 1 {
			t.Errorf("chain %s belongs to %d families, want exactly 1", c, families)
		}
	}
}

func TestAccessCredentialInScope(t *testing.T) {
	tests := []struct {
		name     string
		scope    []string
		resource string
		want     bool
	}{
		{"wildcard", []string{"*"}, "/api/v1/exploits", true},
		{"exact", []string{"/api/v1/exploits"}, "/api/v1/exploits", true},
		{"prefix", []string{"/api/v1"}, "/api/v1/exploits", true},
		{"no match", []string{"/api/v2"}, "/api/v1/exploits", false},
		{"empty scope", nil, "/api/v1/exploits", false},
		{"empty entry ignored", []string{""}, "/api/v1/exploits", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := AccessCredential{Scope: tt.scope}
			if got := cred.InScope(tt.resource); got != tt.want {
				t.Errorf("InScope(%q) with scope %v = %v, want %v", tt.resource, tt.scope, got, tt.want)
			}
		})
	}
}

func TestAccessCredentialExpired(t *testing.T) {
	now := time.Now()
	cred := AccessCredential{ExpiresAt: now}
	if !cred.Expired(now) {
		t.Error("credential at exact expiry instant should be expired")
	}
	if cred.Expired(now.Add(-time.Second)) {
		t.Error("credential before expiry should not be expired")
	}
}

func TestConfigPriceFor(t *testing.T) {
	cfg := &Config{
		DefaultPrice: decimal.RequireFromString("0.01"),
		ResourcePrices: map[string]decimal.Decimal{
			"/api/v1/exploits":        decimal.RequireFromString("0.05"),
			"/api/v1/exploits/recent": decimal.RequireFromString("0.02"),
			"/api":                    decimal.RequireFromString("0.001"),
		},
	}

	tests := []struct {
		resource string
		want     string
	}{
		{"/api/v1/exploits", "0.05"},
		{"/api/v1/exploits/recent", "0.02"},
		{"/api/v1/exploits/recent/today", "0.02"},
		{"/api/v1/other", "0.001"},
		{"/health", "0.01"},
	}
	for _, tt := range tests {
		got := cfg.PriceFor(tt.resource)
		if got.String() != tt.want {
			t.Errorf("PriceFor(%q) = %s, want %s", tt.resource, got, tt.want)
		}
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{
		Chains: map[Chain]ChainConfig{
			ChainBase: {
				RPCURL:         "https://mainnet.base.org",
				PaymentAddress: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
				Asset:          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				AssetSymbol:    "USDC",
				AssetDecimals:  6,
				Confirmations:  1,
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if cfg.CredentialTTL != DefaultCredentialTTL {
		t.Errorf("CredentialTTL = %v, want %v", cfg.CredentialTTL, DefaultCredentialTTL)
	}
	if cfg.RetryCount != DefaultRetryCount {
		t.Errorf("RetryCount = %d, want %d", cfg.RetryCount, DefaultRetryCount)
	}
	if cfg.DefaultPrice.String() != "0.01" {
		t.Errorf("DefaultPrice = %s, want 0.01", cfg.DefaultPrice)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no chains", Config{}},
		{"missing payment address", Config{
			Chains: map[Chain]ChainConfig{
				ChainBase: {RPCURL: "https://mainnet.base.org", Asset: "0xabc", AssetSymbol: "USDC", AssetDecimals: 6, Confirmations: 1},
			},
		}},
		{"zero confirmations", Config{
			Chains: map[Chain]ChainConfig{
				ChainBase: {RPCURL: "https://mainnet.base.org", PaymentAddress: "0xdef", Asset: "0xabc", AssetSymbol: "USDC", AssetDecimals: 6},
			},
		}},
		{"cosmos without grpc", Config{
			Chains: map[Chain]ChainConfig{
				ChainCosmosHub: {RPCURL: "https://rpc.cosmos.network", PaymentAddress: "cosmos1abc", Asset: "uatom", AssetSymbol: "ATOM", AssetDecimals: 6, Confirmations: 1},
			},
		}},
		{"unknown chain key", Config{
			Chains: map[Chain]ChainConfig{
				Chain("dogecoin"): {RPCURL: "https://doge", PaymentAddress: "D1", Asset: "doge", AssetSymbol: "DOGE", AssetDecimals: 8, Confirmations: 1},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}

func TestVerifyRequestValidate(t *testing.T) {
	req := &VerifyRequest{Chain: "base", TxID: "0xabc", Resource: "/api/v1/exploits"}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	bad := []VerifyRequest{
		{TxID: "0xabc", Resource: "/r"},
		{Chain: "base", Resource: "/r"},
		{Chain: "base", TxID: "0xabc"},
		{Chain: "nope", TxID: "0xabc", Resource: "/r"},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("case %d: Validate() expected error, got nil", i)
		}
	}
}
