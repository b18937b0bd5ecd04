// Package validate holds the pure input validators that gate every step of a
// signing conversation. Each validator takes the raw user-supplied text and
// returns the normalized value alongside an error whose message is suitable
// for re-prompting the user verbatim.
package validate

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

const (
	PriorityLow  = "low"
	PriorityHigh = "high"

	ActionStake   = "stake"
	ActionUnstake = "unstake"

	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	// MaxDisperseRecipients bounds a single disperse payment.
	MaxDisperseRecipients = 20
)

var (
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
)

// Address checks the 0x-prefixed 40-hex-digit form. Checksum casing is not
// enforced; the normalized value is lower-cased.
func Address(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !addressPattern.MatchString(trimmed) {
		return "", errors.New("address must be 0x followed by 40 hex characters")
	}
	return strings.ToLower(trimmed), nil
}

// Username accepts 3-20 alphanumeric or underscore characters.
func Username(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !usernamePattern.MatchString(trimmed) {
		return "", errors.New("username must be 3-20 characters, letters, digits and underscore only")
	}
	return trimmed, nil
}

// Amount parses a strictly positive finite decimal.
func Amount(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("amount must be a decimal number")
	}
	if value <= 0 {
		return 0, errors.New("amount must be greater than zero")
	}
	return value, nil
}

// PriorityFee parses a non-negative finite decimal.
func PriorityFee(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("priority fee must be a decimal number")
	}
	if value < 0 {
		return 0, errors.New("priority fee cannot be negative")
	}
	return value, nil
}

// Priority normalizes the declared urgency to "low" or "high".
func Priority(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", errors.New(`priority must be "low" or "high"`)
}

// Nonce accepts string, unsigned, signed and big-integer forms of a
// non-negative integer.
func Nonce(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case string:
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok || parsed.Sign() < 0 {
			return nil, errors.New("nonce must be a non-negative integer")
		}
		return parsed, nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		if v < 0 {
			return nil, errors.New("nonce must be a non-negative integer")
		}
		return big.NewInt(v), nil
	case int:
		if v < 0 {
			return nil, errors.New("nonce must be a non-negative integer")
		}
		return big.NewInt(int64(v)), nil
	case *big.Int:
		if v == nil || v.Sign() < 0 {
			return nil, errors.New("nonce must be a non-negative integer")
		}
		return new(big.Int).Set(v), nil
	}
	return nil, fmt.Errorf("nonce has unsupported type %T", value)
}

// Network checks the value against the supported network keys.
func Network(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkTestnet:
		return NetworkTestnet, nil
	}
	return "", fmt.Errorf("network must be %q or %q", NetworkMainnet, NetworkTestnet)
}

// Action normalizes a staking action.
func Action(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ActionStake:
		return ActionStake, nil
	case ActionUnstake:
		return ActionUnstake, nil
	}
	return "", errors.New(`action must be "stake" or "unstake"`)
}

// Count parses the number of disperse recipients.
func Count(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("recipient count must be a whole number")
	}
	if value < 1 || value > MaxDisperseRecipients {
		return 0, fmt.Errorf("recipient count must be between 1 and %d", MaxDisperseRecipients)
	}
	return value, nil
}
