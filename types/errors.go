package types

import "errors"

// Error code constants. Terminal codes mean the same (chain, tx) pair will
// never verify; retryable codes mean the caller should try again shortly.
const (
	ErrUnsupportedChain    = "unsupported_chain"
	ErrTransactionNotFound = "transaction_not_found"
	ErrNotFinalized        = "not_finalized" // retryable: finality is a waiting condition
	ErrAdapterUnavailable  = "adapter_unavailable"
	ErrAmountInsufficient  = "amount_insufficient"
	ErrRecipientMismatch   = "recipient_mismatch"
	ErrAssetMismatch       = "asset_mismatch"
	ErrAmbiguousTransfer   = "ambiguous_transfer"
	ErrAlreadyConsumed     = "already_consumed"
	ErrStoreUnavailable    = "store_unavailable"
	ErrCredentialExpired   = "credential_expired"
	ErrCredentialInvalid   = "credential_invalid"
	ErrRateLimited         = "rate_limited"
	ErrInvalidRequest      = "invalid_request"
	ErrConfigInvalid       = "config_invalid"
)

// Error carries a machine-readable code alongside the message. Data holds
// structured detail for an honest client to self-correct (expected vs
// actual values where revealing them is not a security concern).
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable reports whether the error signals a transient condition.
func (e *Error) Retryable() bool {
	return e.Code == ErrNotFinalized || e.Code == ErrAdapterUnavailable || e.Code == ErrStoreUnavailable
}

// CodeOf extracts the facilitator error code from err, or "" if err is not
// a facilitator error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
