// Package identity maps human-readable usernames to the fixed-width numeric
// identifiers the ledger accepts in place of an address. The mapping is a
// one-way keccak-256 digest, so any party holding the username can reproduce
// the identifier independently.
package identity

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidInput is returned when the username is empty after normalization.
var ErrInvalidInput = errors.New("identity: username must be a non-empty string")

// Normalize applies the canonical form used for hashing: surrounding
// whitespace stripped and all characters lower-cased.
func Normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Hash derives the on-chain identifier for a username. The digest is
// interpreted as an unsigned 256-bit integer; identical normalized inputs
// always produce identical identifiers.
func Hash(username string) (*big.Int, error) {
	normalized := Normalize(username)
	if normalized == "" {
		return nil, ErrInvalidInput
	}
	digest := crypto.Keccak256([]byte(normalized))
	return new(big.Int).SetBytes(digest), nil
}
