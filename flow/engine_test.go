package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"sigforge/crypto"
	"sigforge/message"
	"sigforge/nonce"
	"sigforge/session"
	"sigforge/signer"
	"sigforge/validate"
)

type mockLedger struct {
	next  uint64
	err   error
	calls int

	// entered/release let a test hold a nonce query open.
	entered chan struct{}
	release chan struct{}
}

func (m *mockLedger) NextNonce(ctx context.Context, network, signer, contract string) (uint64, error) {
	m.calls++
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return 0, m.err
	}
	return m.next, nil
}

type testEnv struct {
	engine    *Engine
	sessions  *session.Store
	ledger    *mockLedger
	randCalls int
	key       *crypto.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := &testEnv{
		sessions: session.NewStore(),
		ledger:   &mockLedger{next: 5},
		key:      key,
	}
	t.Cleanup(env.sessions.Close)

	selector := nonce.NewSelector(env.ledger).WithRandSource(func() (uint64, error) {
		env.randCalls++
		return 99, nil
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	chainIDs := map[string]*big.Int{
		validate.NetworkMainnet: big.NewInt(207),
		validate.NetworkTestnet: big.NewInt(62207),
	}
	env.engine = NewEngine(env.sessions, selector, chainIDs, log)
	env.engine.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	env.sessions.Mutate("chat-1", func(s *session.Session) {
		s.Signer = &session.Signer{Address: key.Address(), Key: key}
		s.LedgerContract = "0x" + strings.Repeat("c", 40)
	})
	return env
}

func (e *testEnv) feed(t *testing.T, inputs ...string) {
	t.Helper()
	for _, in := range inputs {
		prompt, err := e.engine.SubmitStepInput("chat-1", in)
		if err != nil {
			t.Fatalf("input %q: %v", in, err)
		}
		if prompt.Err != "" {
			t.Fatalf("input %q rejected: %s", in, prompt.Err)
		}
	}
}

func TestSinglePaymentEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	prompt, err := env.engine.StartOperation("chat-1", KindSinglePayment)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(prompt.Options) != 2 {
		t.Fatalf("first prompt must offer the recipient forms, got %v", prompt.Options)
	}

	env.feed(t,
		"address",
		"0x"+strings.Repeat("a", 40),
		"0x"+strings.Repeat("0", 40),
		"1.5",
		"0.01",
		"low",
	)

	result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Kind != message.KindTransfer {
		t.Fatalf("wrong kind: %s", result.Kind)
	}
	if len(result.Messages) != 1 || len(result.Signatures) != 1 {
		t.Fatalf("expected one message and one signature, got %d/%d", len(result.Messages), len(result.Signatures))
	}
	transfer, ok := result.Messages[0].(*message.Transfer)
	if !ok {
		t.Fatalf("expected *message.Transfer, got %T", result.Messages[0])
	}
	if transfer.Amount.Cmp(message.ScaleAmount(1.5)) != 0 {
		t.Fatalf("amount not scaled: %s", transfer.Amount)
	}
	if transfer.Priority {
		t.Fatal("low priority mapped to true")
	}
	if transfer.Nonce.Uint64() != 99 {
		t.Fatalf("low priority must draw the random nonce, got %s", transfer.Nonce)
	}
	if env.ledger.calls != 0 {
		t.Fatal("ledger queried for a low priority payment")
	}

	envelope, err := signer.BuildEnvelope(transfer, signer.DomainParams{
		ChainID:           big.NewInt(207),
		VerifyingContract: "0x" + strings.Repeat("c", 40),
	})
	if err != nil {
		t.Fatalf("rebuild envelope: %v", err)
	}
	if !signer.Verify(envelope, result.Signatures[0], env.key.Address().Hex()) {
		t.Fatal("signature does not verify against the session signer")
	}

	if snap, _ := env.sessions.Get("chat-1"); snap.Active != nil {
		t.Fatal("completed operation not cleared from the session")
	}
}

func TestDisperseEndToEndHighPriority(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.StartOperation("chat-1", KindDispersePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t,
		"5.000002",
		"2",
		"0x"+strings.Repeat("a", 40),
		"2",
		"bob_123",
		"3",
		"0",
		"high",
	)

	result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	disperse, ok := result.Messages[0].(*message.Disperse)
	if !ok {
		t.Fatalf("expected *message.Disperse, got %T", result.Messages[0])
	}
	if len(disperse.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(disperse.Recipients))
	}
	if disperse.Recipients[1].ToIdentity == "" {
		t.Fatal("username recipient must carry an identity hash")
	}
	if disperse.Nonce.Uint64() != 5 {
		t.Fatalf("high priority must carry the ledger nonce, got %s", disperse.Nonce)
	}
	if env.ledger.calls != 1 {
		t.Fatalf("ledger queried %d times, want 1", env.ledger.calls)
	}
	if env.randCalls != 0 {
		t.Fatal("random source used for a high priority disperse")
	}
}

func TestInvalidInputDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindSinglePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "address")

	prompt, err := env.engine.SubmitStepInput("chat-1", "not-an-address")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if prompt.Err == "" {
		t.Fatal("invalid address accepted")
	}
	if !strings.Contains(prompt.Text, "address") {
		t.Fatalf("step advanced past the recipient prompt: %q", prompt.Text)
	}

	// The same step accepts a corrected value.
	env.feed(t, "0x"+strings.Repeat("a", 40))
}

func TestCancelAbortsFromAnyStep(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "stake", "10")

	prompt, err := env.engine.SubmitStepInput("chat-1", "Cancel")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(prompt.Text, "cancelled") {
		t.Fatalf("unexpected cancel prompt: %q", prompt.Text)
	}
	if snap, _ := env.sessions.Get("chat-1"); snap.Active != nil {
		t.Fatal("cancel did not clear the operation")
	}

	if _, err := env.engine.SubmitStepInput("chat-1", "stake"); !errors.Is(err, ErrNoActiveOperation) {
		t.Fatalf("expected ErrNoActiveOperation after cancel, got %v", err)
	}
}

func TestConfirmStepRejectsFreeText(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "stake", "10", "0", "low")

	prompt, err := env.engine.SubmitStepInput("chat-1", "yes please")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if prompt.Err == "" || !strings.Contains(prompt.Err, "confirm") {
		t.Fatalf("free text at confirm must return acknowledgment guidance, got %q", prompt.Err)
	}
}

func TestConfirmBeforeReady(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindSinglePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestConfirmFailurePreservesState(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.err = errors.New("rpc unreachable")

	if _, err := env.engine.StartOperation("chat-1", KindSinglePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t,
		"username",
		"alice",
		"0x"+strings.Repeat("0", 40),
		"2",
		"0",
		"high",
	)

	if _, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil); !errors.Is(err, nonce.ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
	snap, _ := env.sessions.Get("chat-1")
	if snap.Active == nil {
		t.Fatal("failed confirm discarded the collected operation")
	}

	// Retry after the ledger recovers keeps every collected field.
	env.ledger.err = nil
	result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	transfer := result.Messages[0].(*message.Transfer)
	if transfer.ToIdentity == "" {
		t.Fatal("retry lost the recipient identity")
	}
	if transfer.Nonce.Uint64() != 5 {
		t.Fatalf("retry did not query the ledger nonce, got %s", transfer.Nonce)
	}
}

func TestPresaleDualSignature(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindPresaleStaking); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "stake", "4", "0.5", "high", "dual")

	result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(result.Messages) != 2 || len(result.Signatures) != 2 {
		t.Fatalf("dual mode must produce two pairs, got %d/%d", len(result.Messages), len(result.Signatures))
	}
	first := result.Messages[0].(*message.PresaleStaking)
	second := result.Messages[1].(*message.PresaleStaking)
	if first.Nonce.Uint64() != 5 {
		t.Fatalf("ledger message must carry the sequential nonce, got %s", first.Nonce)
	}
	if second.Nonce.Uint64() != 99 {
		t.Fatalf("staking message must carry a random nonce, got %s", second.Nonce)
	}
	if first.Action != second.Action || first.Amount.Cmp(second.Amount) != 0 || first.Timestamp != second.Timestamp {
		t.Fatal("the two messages must share every field but the nonce")
	}
}

func TestPresaleSingleSignature(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindPresaleStaking); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "unstake", "1", "0", "low", "single")

	result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("single mode must produce one pair, got %d", len(result.Messages))
	}
}

func TestConfirmRequiresSigner(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Mutate("chat-1", func(s *session.Session) { s.Signer = nil })

	if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "stake", "10", "0", "low")

	if _, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}

	// An explicit key stands in for the session signer.
	if _, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", env.key); err != nil {
		t.Fatalf("confirm with explicit key: %v", err)
	}
}

func TestStartReplacesActiveOperation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", KindSinglePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t, "address")

	if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap, _ := env.sessions.Get("chat-1")
	if snap.Active.OperationKind() != string(KindPublicStaking) {
		t.Fatalf("start did not replace the active operation: %s", snap.Active.OperationKind())
	}
}

func TestConfirmSignsSnapshotOfOperation(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.entered = make(chan struct{})
	env.ledger.release = make(chan struct{})

	if _, err := env.engine.StartOperation("chat-1", KindSinglePayment); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.feed(t,
		"address",
		"0x"+strings.Repeat("a", 40),
		"0x"+strings.Repeat("0", 40),
		"1.5",
		"0",
		"high",
	)

	type outcome struct {
		result *SignResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil)
		done <- outcome{result, err}
	}()

	// With the nonce query held open, replace the in-flight operation.
	<-env.ledger.entered
	if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
		t.Fatalf("replace: %v", err)
	}
	close(env.ledger.release)

	out := <-done
	if out.err != nil {
		t.Fatalf("confirm: %v", out.err)
	}
	transfer, ok := out.result.Messages[0].(*message.Transfer)
	if !ok {
		t.Fatalf("expected *message.Transfer, got %T", out.result.Messages[0])
	}
	if transfer.Amount.Cmp(message.ScaleAmount(1.5)) != 0 {
		t.Fatalf("confirm signed mutated state: %s", transfer.Amount)
	}

	// The replacement operation must survive the completed confirm.
	snap, _ := env.sessions.Get("chat-1")
	if snap.Active == nil || snap.Active.OperationKind() != string(KindPublicStaking) {
		t.Fatal("confirm cleared an operation it did not sign")
	}
}

func TestConcurrentInputDuringConfirm(t *testing.T) {
	env := newTestEnv(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = env.engine.SubmitStepInput("chat-1", "noise")
			}
		}
	}()

	for i := 0; i < 25; i++ {
		if _, err := env.engine.StartOperation("chat-1", KindPublicStaking); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		env.feed(t, "stake", "1", "0", "low")
		if _, err := env.engine.ConfirmAndSign(context.Background(), "chat-1", nil); err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestUnknownSessionLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	before := env.sessions.Len()

	if _, err := env.engine.SubmitStepInput("ghost", "stake"); !errors.Is(err, ErrNoActiveOperation) {
		t.Fatalf("expected ErrNoActiveOperation, got %v", err)
	}
	env.engine.CancelOperation("ghost")
	if _, err := env.engine.ConfirmAndSign(context.Background(), "ghost", nil); !errors.Is(err, ErrNoActiveOperation) {
		t.Fatalf("expected ErrNoActiveOperation, got %v", err)
	}

	if env.sessions.Len() != before {
		t.Fatalf("unknown session ids created session records: %d -> %d", before, env.sessions.Len())
	}
	if _, ok := env.sessions.Get("ghost"); ok {
		t.Fatal("ghost session exists")
	}
}

func TestUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.StartOperation("chat-1", Kind("margin_trade")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
