package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sigforge/crypto"
	"sigforge/message"
	"sigforge/nonce"
	"sigforge/session"
	"sigforge/signer"
	"sigforge/validate"
)

// SignResult is returned to the transport once an operation reaches signed.
// Dual-signature presale staking carries two message/signature pairs; every
// other variant carries one.
type SignResult struct {
	Kind       message.Kind
	Signer     common.Address
	Messages   []message.Signable
	Signatures [][]byte
}

// Engine owns the operation state machines for every session. It holds no
// state of its own beyond its collaborators; the session store is the single
// source of truth.
type Engine struct {
	sessions *session.Store
	nonces   *nonce.Selector
	chainIDs map[string]*big.Int
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(sessions *session.Store, nonces *nonce.Selector, chainIDs map[string]*big.Int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sessions: sessions,
		nonces:   nonces,
		chainIDs: chainIDs,
		log:      log,
		now:      time.Now,
	}
}

// StartOperation begins a new flow for the session, replacing any operation
// already in progress, and returns the first prompt.
func (e *Engine) StartOperation(sessionID string, kind Kind) (Prompt, error) {
	var op operation
	switch kind {
	case KindSinglePayment:
		op = newPaymentOp()
	case KindDispersePayment:
		op = newDisperseOp()
	case KindPublicStaking:
		op = newStakingOp(false)
	case KindPresaleStaking:
		op = newStakingOp(true)
	default:
		return Prompt{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	e.sessions.Mutate(sessionID, func(s *session.Session) {
		s.Active = op
	})
	e.log.Info("operation started", "session", sessionID, "kind", kind)
	return op.prompt(), nil
}

// SubmitStepInput feeds one raw input to the session's active operation. On
// validation failure the step does not advance and the same prompt comes back
// with the reason attached. The cancel command aborts from any step.
func (e *Engine) SubmitStepInput(sessionID, raw string) (Prompt, error) {
	raw = strings.TrimSpace(raw)
	var out Prompt
	var opErr error
	_, found := e.sessions.Update(sessionID, func(s *session.Session) {
		if s.Active == nil {
			opErr = ErrNoActiveOperation
			return
		}
		if strings.EqualFold(raw, CancelCommand) {
			s.Active = nil
			out = Prompt{Text: "Operation cancelled."}
			return
		}
		op, ok := s.Active.(operation)
		if !ok {
			opErr = ErrNoActiveOperation
			s.Active = nil
			return
		}
		out = op.handle(raw)
	})
	if !found {
		opErr = ErrNoActiveOperation
	}
	if opErr != nil {
		return Prompt{Text: "There is no operation in progress. Start one first."}, opErr
	}
	return out, nil
}

// CancelOperation clears the active operation from any state. Cancelling an
// idle or unknown session is a no-op; it never creates session state.
func (e *Engine) CancelOperation(sessionID string) {
	e.sessions.Update(sessionID, func(s *session.Session) {
		s.Active = nil
	})
}

// ConfirmAndSign is the explicit acknowledgment of the confirm step: it runs
// nonce selection, message assembly and typed-data signing in sequence. When
// key is nil the session's connected signer is used. External-dependency
// failures leave the operation parked at confirm so the user can retry
// without re-entering fields; success clears it.
//
// The operation is cloned under the store lock and signing runs on the copy,
// so concurrent step input for the same session cannot interleave with a
// confirm in flight.
func (e *Engine) ConfirmAndSign(ctx context.Context, sessionID string, key *crypto.PrivateKey) (*SignResult, error) {
	var (
		op     operation
		active session.Operation
	)
	snap, found := e.sessions.Update(sessionID, func(s *session.Session) {
		active = s.Active
		if o, ok := s.Active.(operation); ok && o.ready() {
			op = o.clone()
		}
	})
	if !found || active == nil {
		return nil, ErrNoActiveOperation
	}
	if op == nil {
		return nil, ErrNotReady
	}
	if key == nil {
		if snap.Signer == nil || snap.Signer.Key == nil {
			return nil, ErrNoSigner
		}
		key = snap.Signer.Key
	}
	if strings.TrimSpace(snap.LedgerContract) == "" {
		return nil, ErrNoContract
	}
	chainID, ok := e.chainIDs[snap.Network]
	if !ok {
		return nil, fmt.Errorf("no chain id configured for network %q", snap.Network)
	}

	signerAddr := key.Address()
	domain := signer.DomainParams{ChainID: chainID, VerifyingContract: snap.LedgerContract}
	timestamp := e.now().Unix()

	result, err := e.signOperation(ctx, op, snap, signerAddr, domain, timestamp, key)
	if err != nil {
		e.log.Warn("signing attempt failed", "session", sessionID, "kind", op.OperationKind(), "err", err)
		return nil, err
	}

	// Clear only the confirmed operation; a flow started while signing was
	// in flight stays active.
	e.sessions.Update(sessionID, func(s *session.Session) {
		if s.Active == active {
			s.Active = nil
		}
	})
	e.log.Info("operation signed", "session", sessionID, "kind", result.Kind, "signer", signerAddr.Hex())
	return result, nil
}

func (e *Engine) signOperation(ctx context.Context, op operation, snap session.Session, signerAddr common.Address, domain signer.DomainParams, timestamp int64, key *crypto.PrivateKey) (*SignResult, error) {
	switch op := op.(type) {
	case *paymentOp:
		n, err := e.nonces.Select(ctx, signerAddr.Hex(), op.priority, snap.Network, snap.LedgerContract)
		if err != nil {
			return nil, err
		}
		params := op.params()
		params.Nonce = n
		msg, err := message.BuildTransfer(params)
		if err != nil {
			return nil, err
		}
		return e.signOne(msg, domain, key, signerAddr)

	case *disperseOp:
		n, err := e.nonces.Select(ctx, signerAddr.Hex(), op.priority, snap.Network, snap.LedgerContract)
		if err != nil {
			return nil, err
		}
		params := op.params(snap.Network, timestamp)
		params.Nonce = n
		msg, err := message.BuildDisperse(params)
		if err != nil {
			return nil, err
		}
		return e.signOne(msg, domain, key, signerAddr)

	case *stakingOp:
		ledgerNonce, err := e.nonces.Select(ctx, signerAddr.Hex(), op.priority, snap.Network, snap.LedgerContract)
		if err != nil {
			return nil, err
		}
		params := op.params(snap.Network, timestamp)
		params.Nonce = ledgerNonce
		if !op.presale {
			msg, err := message.BuildStaking(params)
			if err != nil {
				return nil, err
			}
			return e.signOne(msg, domain, key, signerAddr)
		}

		first, err := message.BuildPresaleStaking(params)
		if err != nil {
			return nil, err
		}
		result, err := e.signOne(first, domain, key, signerAddr)
		if err != nil {
			return nil, err
		}
		if op.dualSig {
			// The staking domain executes asynchronously, so its nonce is
			// always drawn from the random source.
			stakingNonce, err := e.nonces.Select(ctx, signerAddr.Hex(), validate.PriorityLow, snap.Network, snap.LedgerContract)
			if err != nil {
				return nil, err
			}
			params.Nonce = stakingNonce
			second, err := message.BuildPresaleStaking(params)
			if err != nil {
				return nil, err
			}
			envelope, err := signer.BuildEnvelope(second, domain)
			if err != nil {
				return nil, err
			}
			sig, err := signer.Sign(envelope, key)
			if err != nil {
				return nil, err
			}
			result.Messages = append(result.Messages, second)
			result.Signatures = append(result.Signatures, sig)
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownKind, op)
}

func (e *Engine) signOne(msg message.Signable, domain signer.DomainParams, key *crypto.PrivateKey, signerAddr common.Address) (*SignResult, error) {
	envelope, err := signer.BuildEnvelope(msg, domain)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(envelope, key)
	if err != nil {
		return nil, err
	}
	return &SignResult{
		Kind:       msg.MessageKind(),
		Signer:     signerAddr,
		Messages:   []message.Signable{msg},
		Signatures: [][]byte{sig},
	}, nil
}
