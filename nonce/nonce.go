// Package nonce implements the split nonce policy: high-priority messages are
// ordered by the ledger's sequential nonce, low-priority messages carry an
// independent random nonce so they can execute in parallel.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"sigforge/validate"
)

var (
	// ErrQueryFailed wraps ledger RPC failures during sequential nonce lookup.
	ErrQueryFailed = errors.New("nonce query failed")
	// ErrGenerationFailed wraps failures of the random source.
	ErrGenerationFailed = errors.New("nonce generation failed")
)

// Reader resolves a signer's next sequential nonce on a network.
type Reader interface {
	NextNonce(ctx context.Context, network, signer, contract string) (uint64, error)
}

// Selector applies the priority-based nonce policy. It caches nothing: every
// call re-derives, and staleness of unconsumed sequential nonces is the
// caller's concern.
type Selector struct {
	ledger Reader

	// randUint64 is swappable for tests; nil means crypto/rand.
	randUint64 func() (uint64, error)
}

func NewSelector(ledger Reader) *Selector {
	return &Selector{ledger: ledger}
}

// WithRandSource overrides the random source. Intended for tests.
func (s *Selector) WithRandSource(src func() (uint64, error)) *Selector {
	s.randUint64 = src
	return s
}

// Select returns the nonce for one signing attempt. High priority queries the
// ledger exactly once and never touches the random source; low priority is
// the reverse.
func (s *Selector) Select(ctx context.Context, signer, priority, network, contract string) (*big.Int, error) {
	switch priority {
	case validate.PriorityHigh:
		if s.ledger == nil {
			return nil, fmt.Errorf("%w: no ledger client", ErrQueryFailed)
		}
		next, err := s.ledger.NextNonce(ctx, network, signer, contract)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		return new(big.Int).SetUint64(next), nil
	case validate.PriorityLow:
		value, err := s.random()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		return new(big.Int).SetUint64(value), nil
	}
	return nil, fmt.Errorf("%w: unknown priority %q", ErrQueryFailed, priority)
}

func (s *Selector) random() (uint64, error) {
	if s.randUint64 != nil {
		return s.randUint64()
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
