package x402

import (
	"crypto/ed25519"
	"time"

	"github.com/kamiyo/x402/credential"
	"github.com/kamiyo/x402/logger"
	"github.com/kamiyo/x402/metrics"
	"github.com/kamiyo/x402/ratelimit"
	"github.com/kamiyo/x402/staking"
	"github.com/kamiyo/x402/store"
)

// timeNow is swapped in tests.
var timeNow = time.Now

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.metrics = r
	}
}

// WithConsumptionStore replaces the default in-memory store. Production
// deployments with more than one instance need the postgres store.
func WithConsumptionStore(s store.ConsumptionStore) Option {
	return func(f *Facilitator) {
		f.cons = s
	}
}

// WithStakingLedger supplies the source of staked balances used for
// discount tiers. Without one, every principal prices at the free tier.
func WithStakingLedger(l staking.Ledger) Option {
	return func(f *Facilitator) {
		f.ledger = l
	}
}

func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(f *Facilitator) {
		f.limiter = l
	}
}

// WithSigningKey pins the credential signing key so tokens stay valid
// across restarts. Without it a fresh keypair is generated at startup.
func WithSigningKey(priv ed25519.PrivateKey) Option {
	return func(f *Facilitator) {
		f.issuer = credential.NewIssuer(priv, f.cfg.CredentialTTL)
	}
}
