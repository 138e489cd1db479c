// Package x402 is a pay-per-request access facilitator: it issues
// HTTP 402 payment challenges, verifies on-chain payment proofs across
// EVM, Solana, and Cosmos networks, and mints bearer credentials that
// the admission gate honors.
package x402

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/kamiyo/x402/chains"
	"github.com/kamiyo/x402/credential"
	"github.com/kamiyo/x402/httpgate"
	"github.com/kamiyo/x402/logger"
	"github.com/kamiyo/x402/metrics"
	"github.com/kamiyo/x402/pricing"
	"github.com/kamiyo/x402/ratelimit"
	"github.com/kamiyo/x402/staking"
	"github.com/kamiyo/x402/store"
	"github.com/kamiyo/x402/store/memory"
	"github.com/kamiyo/x402/types"
	"github.com/kamiyo/x402/utils"
	"github.com/kamiyo/x402/verifier"
)

// Facilitator wires the challenge issuer, chain adapters, payment
// verifier, credential issuer, and admission gate behind one handle.
type Facilitator struct {
	cfg      *types.Config
	log      logger.Logger
	metrics  metrics.Recorder
	cons     store.ConsumptionStore
	ledger   staking.Ledger
	limiter  ratelimit.Limiter
	issuer   *credential.Issuer
	quoter   *pricing.Issuer
	verifier *verifier.Verifier
	gate     *httpgate.Gate
}

// New builds a Facilitator from cfg. Every chain present in cfg gets an
// adapter dialed eagerly; a bad address or unreachable endpoint config
// fails here, not on the first request.
func New(cfg *types.Config, opts ...Option) (*Facilitator, error) {
	if cfg == nil {
		return nil, &types.Error{Code: types.ErrConfigInvalid, Message: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Facilitator{
		cfg:     cfg,
		log:     logger.NewZapLogger(cfg.LogLevel),
		metrics: metrics.NoopRecorder{},
		cons:    memory.New(),
		ledger:  staking.StaticLedger{},
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.issuer == nil {
		issuer, err := credential.GenerateIssuer(cfg.CredentialTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to generate credential signing key: %w", err)
		}
		f.issuer = issuer
	}
	if f.limiter == nil {
		f.limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}

	ledger := staking.Ledger(staking.NewCachedLedger(f.ledger, cfg.StakingCacheTTL))
	f.quoter = pricing.NewIssuer(cfg, ledger, f.log)
	f.verifier = verifier.New(cfg, f.cons, f.issuer, f.quoter, f.log, f.metrics)

	for chain, cc := range cfg.Chains {
		if err := f.addChain(chain, cc); err != nil {
			f.verifier.Close()
			return nil, err
		}
	}

	f.gate = httpgate.NewGate(cfg, f.issuer.Validator(), f.quoter, f.verifier, f.limiter, f.log, f.metrics)
	return f, nil
}

func (f *Facilitator) addChain(chain types.Chain, cc types.ChainConfig) error {
	if err := utils.ValidateAddress(chain, cc.PaymentAddress); err != nil {
		return fmt.Errorf("payment address for %s: %w", chain, err)
	}

	var adapter chains.Adapter
	switch {
	case chain.IsEVM():
		a, err := chains.NewEVMAdapter(chain, cc)
		if err != nil {
			return fmt.Errorf("failed to create %s adapter: %w", chain, err)
		}
		a.SetRetry(f.cfg.RetryCount, f.cfg.FetchTimeout)
		adapter = a
	case chain.IsSolana():
		a, err := chains.NewSolanaAdapter(chain, cc)
		if err != nil {
			return fmt.Errorf("failed to create %s adapter: %w", chain, err)
		}
		a.SetRetry(f.cfg.RetryCount, f.cfg.FetchTimeout)
		adapter = a
	case chain.IsCosmos():
		a, err := chains.NewCosmosAdapter(chain, cc)
		if err != nil {
			return fmt.Errorf("failed to create %s adapter: %w", chain, err)
		}
		a.SetRetry(f.cfg.RetryCount, f.cfg.FetchTimeout)
		adapter = a
	default:
		return &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("unsupported chain: %s", chain),
		}
	}
	f.verifier.AddAdapter(adapter)
	f.log.Info("chain adapter registered", map[string]any{"chain": chain.String()})
	return nil
}

// Challenge produces the payment challenge for resource, priced for the
// given principal's current staking tier. An empty principal prices at
// the free tier.
func (f *Facilitator) Challenge(ctx context.Context, resource, principal string) *types.PaymentChallenge {
	return f.quoter.Challenge(ctx, resource, principal)
}

// Verify redeems a payment proof for an access grant.
func (f *Facilitator) Verify(ctx context.Context, req *types.VerifyRequest) (*types.AccessGrant, error) {
	return f.verifier.Verify(ctx, req)
}

// Validate checks a bearer token against resource scope and expiry.
func (f *Facilitator) Validate(token, resource string) (*types.AccessCredential, error) {
	return f.issuer.Validator().Validate(token, resource)
}

// Supported lists the chains with a registered adapter.
func (f *Facilitator) Supported() []types.Chain {
	return f.verifier.SupportedChains()
}

// Middleware returns the gin admission middleware.
func (f *Facilitator) Middleware() gin.HandlerFunc {
	return f.gate.Middleware()
}

// Register mounts the /x402 facilitator routes on r.
func (f *Facilitator) Register(r gin.IRouter) {
	f.gate.Register(r)
}

// Purge removes consumption records whose retention window has passed.
// Intended to be called from an operator cron, not a daemon.
func (f *Facilitator) Purge(ctx context.Context) (int64, error) {
	return f.cons.Purge(ctx, timeNow())
}

// Close releases adapter connections.
func (f *Facilitator) Close() {
	f.verifier.Close()
}
