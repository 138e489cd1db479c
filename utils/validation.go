// Package utils holds shape validation for chain-specific identifiers,
// applied before any RPC round trip is spent on them.
package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kamiyo/x402/types"
)

var (
	hexRe    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Re = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ValidateTxID checks the transaction identifier's shape for the chain
// family: 0x-prefixed 32-byte hex for EVM, base58 signature for Solana,
// 32-byte hex for Cosmos.
func ValidateTxID(chain types.Chain, txID string) error {
	if txID == "" {
		return invalid("transaction id cannot be empty")
	}
	switch {
	case chain.IsEVM():
		if !strings.HasPrefix(txID, "0x") {
			return invalid("EVM transaction hash must start with 0x")
		}
		if len(txID) != 66 || !hexRe.MatchString(txID[2:]) {
			return invalid("EVM transaction hash must be 0x followed by 64 hex characters")
		}
	case chain.IsSolana():
		if len(txID) < 80 || len(txID) > 90 || !base58Re.MatchString(txID) {
			return invalid("Solana transaction signature must be a base58 string of 80-90 characters")
		}
	case chain.IsCosmos():
		if len(txID) != 64 || !hexRe.MatchString(txID) {
			return invalid("Cosmos transaction hash must be 64 hex characters")
		}
	default:
		return &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("unsupported chain: %s", chain),
		}
	}
	return nil
}

// ValidateAddress checks an address's shape for the chain family.
// Checksums are not verified here; adapters compare normalized forms.
func ValidateAddress(chain types.Chain, address string) error {
	if address == "" {
		return invalid("address cannot be empty")
	}
	switch {
	case chain.IsEVM():
		if !strings.HasPrefix(address, "0x") || len(address) != 42 || !hexRe.MatchString(address[2:]) {
			return invalid("EVM address must be 0x followed by 40 hex characters")
		}
	case chain.IsSolana():
		if len(address) < 32 || len(address) > 44 || !base58Re.MatchString(address) {
			return invalid("Solana address must be a base58 string of 32-44 characters")
		}
	case chain.IsCosmos():
		if !strings.HasPrefix(address, "cosmos") || len(address) < 39 || len(address) > 65 {
			return invalid("Cosmos address must be bech32 with the cosmos prefix")
		}
	default:
		return &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("unsupported chain: %s", chain),
		}
	}
	return nil
}

func invalid(msg string) error {
	return &types.Error{Code: types.ErrInvalidRequest, Message: msg}
}
