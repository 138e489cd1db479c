package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/kamiyo/x402/types"
)

// Validator checks bearer tokens against the issuer's public key. It
// holds no mutable state and performs no I/O, so admission stays O(1)
// and independent of the consumption store's availability.
type Validator struct {
	pub ed25519.PublicKey
	now func() time.Time
}

func NewValidator(pub ed25519.PublicKey) *Validator {
	return &Validator{pub: pub, now: time.Now}
}

// WithClock overrides the validator's time source, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func invalid(msg string) *types.Error {
	return &types.Error{Code: types.ErrCredentialInvalid, Message: msg}
}

// Validate parses and verifies a bearer token, then checks expiry and
// scope against the requested resource. Expiry is reported with its own
// code so clients can tell "paid but stale" from "never paid".
func (v *Validator) Validate(token, resource string) (*types.AccessCredential, error) {
	claimsPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, invalid("malformed credential token")
	}
	enc := base64.RawURLEncoding
	claims, err := enc.DecodeString(claimsPart)
	if err != nil {
		return nil, invalid("malformed credential claims")
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, invalid("malformed credential signature")
	}
	if !ed25519.Verify(v.pub, claims, sig) {
		return nil, invalid("credential signature verification failed")
	}

	var cred types.AccessCredential
	if err := json.Unmarshal(claims, &cred); err != nil {
		return nil, invalid("malformed credential claims")
	}
	if cred.Expired(v.now()) {
		return nil, &types.Error{
			Code:    types.ErrCredentialExpired,
			Message: "credential expired",
			Data:    map[string]any{"expiredAt": cred.ExpiresAt},
		}
	}
	if resource != "" && !cred.InScope(resource) {
		return nil, &types.Error{
			Code:    types.ErrCredentialInvalid,
			Message: "credential scope does not cover resource",
			Data:    map[string]any{"resource": resource, "scope": cred.Scope},
		}
	}
	return &cred, nil
}
