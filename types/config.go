package types

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ChainConfig holds the per-chain verification parameters. Every field the
// verifier depends on is explicit and checked at startup; a missing payment
// address or asset is a configuration error, never a lazy request-time
// failure.
type ChainConfig struct {
	RPCURL         string `json:"rpcUrl" validate:"required"`
	GRPCURL        string `json:"grpcUrl,omitempty"` // Cosmos chains only
	PaymentAddress string `json:"paymentAddress" validate:"required"`
	Asset          string `json:"asset" validate:"required"` // token contract, SPL mint, or denom
	AssetSymbol    string `json:"assetSymbol" validate:"required"`
	AssetDecimals  int    `json:"assetDecimals" validate:"gte=0,lte=18"`
	Confirmations  uint64 `json:"confirmations" validate:"gte=1"`
}

// Config is the facilitator configuration, loaded once and validated before
// any request is served.
type Config struct {
	Chains map[Chain]ChainConfig `json:"chains" validate:"required,min=1"`

	// Pricing: prices are in the shared stable unit (USDC) and matched by
	// longest resource prefix, falling back to DefaultPrice.
	DefaultPrice   decimal.Decimal            `json:"defaultPrice"`
	ResourcePrices map[string]decimal.Decimal `json:"resourcePrices,omitempty"`

	CredentialTTL time.Duration `json:"credentialTtl"`
	ChallengeTTL  time.Duration `json:"challengeTtl"`

	// Chain adapter I/O limits.
	FetchTimeout time.Duration `json:"fetchTimeout"`
	RetryCount   int           `json:"retryCount" validate:"gte=0,lte=10"`

	// Admission gate rate limit, per principal.
	RateLimitRequests int           `json:"rateLimitRequests"`
	RateLimitWindow   time.Duration `json:"rateLimitWindow"`

	// Staking ledger lookups may be served from a short-lived cache;
	// staleness only affects pricing fairness, not security.
	StakingCacheTTL time.Duration `json:"stakingCacheTtl"`

	LogLevel string `json:"logLevel,omitempty"`
}

// Defaults applied by Validate when the zero value is present.
const (
	DefaultCredentialTTL     = 24 * time.Hour
	DefaultChallengeTTL      = 5 * time.Minute
	DefaultFetchTimeout      = 5 * time.Second
	DefaultRetryCount        = 3
	DefaultRateLimitRequests = 120
	DefaultRateLimitWindow   = time.Minute
	DefaultStakingCacheTTL   = 30 * time.Second
)

// Validate normalizes defaults and rejects incomplete configuration.
func (c *Config) Validate() error {
	if c.CredentialTTL == 0 {
		c.CredentialTTL = DefaultCredentialTTL
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RateLimitRequests == 0 {
		c.RateLimitRequests = DefaultRateLimitRequests
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.StakingCacheTTL == 0 {
		c.StakingCacheTTL = DefaultStakingCacheTTL
	}
	if c.DefaultPrice.IsZero() {
		c.DefaultPrice = decimal.RequireFromString("0.01")
	}
	if c.DefaultPrice.IsNegative() {
		return &Error{Code: ErrConfigInvalid, Message: "defaultPrice must not be negative"}
	}
	for resource, price := range c.ResourcePrices {
		if price.IsNegative() {
			return &Error{
				Code:    ErrConfigInvalid,
				Message: fmt.Sprintf("price for %s must not be negative", resource),
			}
		}
	}

	if err := validate.Struct(c); err != nil {
		return &Error{Code: ErrConfigInvalid, Message: err.Error()}
	}
	for chain, cc := range c.Chains {
		if _, err := ParseChain(string(chain)); err != nil {
			return err
		}
		if err := validate.Struct(cc); err != nil {
			return &Error{
				Code:    ErrConfigInvalid,
				Message: fmt.Sprintf("chain %s: %v", chain, err),
			}
		}
		if chain.IsCosmos() && cc.GRPCURL == "" {
			return &Error{
				Code:    ErrConfigInvalid,
				Message: fmt.Sprintf("chain %s: grpcUrl is required for cosmos chains", chain),
			}
		}
	}
	return nil
}

// PriceFor returns the price of a resource: exact match first, then the
// longest configured prefix, then the default.
func (c *Config) PriceFor(resource string) decimal.Decimal {
	if p, ok := c.ResourcePrices[resource]; ok {
		return p
	}
	best := ""
	price := c.DefaultPrice
	for prefix, p := range c.ResourcePrices {
		if strings.HasPrefix(resource, prefix) && len(prefix) > len(best) {
			best = prefix
			price = p
		}
	}
	return price
}

// ConfigFromEnv builds a Config from environment variables using the same
// variable names as the reference deployment. Only chains whose payment
// address is set are enabled.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Chains:         map[Chain]ChainConfig{},
		ResourcePrices: map[string]decimal.Decimal{},
	}

	if v := os.Getenv("X402_DEFAULT_PRICE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, &Error{Code: ErrConfigInvalid, Message: "X402_DEFAULT_PRICE: " + err.Error()}
		}
		cfg.DefaultPrice = d
	}

	// X402_ENDPOINT_PRICES has the form "/path:0.01,/other:0.05".
	if v := os.Getenv("X402_ENDPOINT_PRICES"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			resource, amount, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			d, err := decimal.NewFromString(strings.TrimSpace(amount))
			if err != nil {
				return nil, &Error{Code: ErrConfigInvalid, Message: "X402_ENDPOINT_PRICES: " + err.Error()}
			}
			cfg.ResourcePrices[strings.TrimSpace(resource)] = d
		}
	}

	if v := os.Getenv("X402_TOKEN_EXPIRY_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return nil, &Error{Code: ErrConfigInvalid, Message: "X402_TOKEN_EXPIRY_HOURS must be a positive integer"}
		}
		cfg.CredentialTTL = time.Duration(hours) * time.Hour
	}

	type envChain struct {
		chain    Chain
		rpc      string
		addr     string
		asset    string
		symbol   string
		decimals int
		confs    string
	}
	for _, ec := range []envChain{
		{ChainBase, "BASE_RPC_URL", "X402_BASE_PAYMENT_ADDRESS", "BASE_USDC_CONTRACT", "USDC", 6, "X402_BASE_CONFIRMATIONS"},
		{ChainEthereum, "ETHEREUM_RPC_URL", "X402_ETHEREUM_PAYMENT_ADDRESS", "ETHEREUM_USDC_CONTRACT", "USDC", 6, "X402_ETHEREUM_CONFIRMATIONS"},
		{ChainSolana, "SOLANA_RPC_URL", "X402_SOLANA_PAYMENT_ADDRESS", "SOLANA_USDC_MINT", "USDC", 6, "X402_SOLANA_CONFIRMATIONS"},
	} {
		addr := os.Getenv(ec.addr)
		if addr == "" {
			continue
		}
		confs := uint64(1)
		if v := os.Getenv(ec.confs); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil || n == 0 {
				return nil, &Error{Code: ErrConfigInvalid, Message: ec.confs + " must be a positive integer"}
			}
			confs = n
		}
		cfg.Chains[ec.chain] = ChainConfig{
			RPCURL:         os.Getenv(ec.rpc),
			PaymentAddress: addr,
			Asset:          os.Getenv(ec.asset),
			AssetSymbol:    ec.symbol,
			AssetDecimals:  ec.decimals,
			Confirmations:  confs,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
