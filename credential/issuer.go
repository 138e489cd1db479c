// Package credential mints and validates the self-contained access
// credential. The token carries every claim under an Ed25519 signature,
// so the admission gate validates it with nothing but the public key:
// no store round trip, no dependency on the verification path being up.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kamiyo/x402/types"
)

// Issuer signs credentials with an Ed25519 key. One credential is minted
// per successful verification; there is no batching and no renewal.
type Issuer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
	now  func() time.Time
}

// NewIssuer wraps an existing private key.
func NewIssuer(priv ed25519.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = types.DefaultCredentialTTL
	}
	return &Issuer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
		ttl:  ttl,
		now:  time.Now,
	}
}

// GenerateIssuer creates an issuer with a fresh keypair. Suitable for
// single-process deployments; multi-process deployments share a key so
// any gate can validate any credential.
func GenerateIssuer(ttl time.Duration) (*Issuer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewIssuer(priv, ttl), nil
}

// PublicKey returns the verification key for standalone validators.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.pub
}

// TTL returns the configured credential lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Validator returns a validator bound to this issuer's key.
func (i *Issuer) Validator() *Validator {
	return NewValidator(i.pub)
}

// WithClock overrides the issuer's time source, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue mints a credential for the paying principal. The discount tier is
// snapshotted into the claims for audit; later pricing changes never
// touch an issued credential.
func (i *Issuer) Issue(principal string, chain types.Chain, txID string, discountBps int64, scope []string) (*types.AccessCredential, string, error) {
	if len(scope) == 0 {
		scope = []string{"*"}
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	cred := &types.AccessCredential{
		ID:          uuid.NewString(),
		Principal:   principal,
		Chain:       chain,
		TxID:        txID,
		Scope:       scope,
		DiscountBps: discountBps,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(i.ttl),
	}

	token, err := encode(cred, i.priv)
	if err != nil {
		return nil, "", err
	}
	return cred, token, nil
}

// encode serializes claims and appends the signature:
// base64url(claims) "." base64url(sig).
func encode(cred *types.AccessCredential, priv ed25519.PrivateKey) (string, error) {
	claims, err := json.Marshal(cred)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(claims) + "." + enc.EncodeToString(sig), nil
}
