package signer

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"sigforge/crypto"
	"sigforge/message"
	"sigforge/validate"
)

func testDomain() DomainParams {
	return DomainParams{
		ChainID:           big.NewInt(207),
		VerifyingContract: "0x" + strings.Repeat("c", 40),
	}
}

func testMessages(t *testing.T) []message.Signable {
	t.Helper()
	fee := 0.01
	transfer, err := message.BuildTransfer(message.TransferParams{
		RecipientAddress: "0x" + strings.Repeat("a", 40),
		Token:            "0x" + strings.Repeat("0", 40),
		Amount:           1.5,
		PriorityFee:      &fee,
		Nonce:            big.NewInt(1),
		Priority:         validate.PriorityLow,
	})
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}
	disperse, err := message.BuildDisperse(message.DisperseParams{
		Recipients: []message.RecipientParams{
			{Username: "bob_123", Amount: 2},
			{Address: "0x" + strings.Repeat("b", 40), Amount: 3},
		},
		TotalAmount: 5,
		Network:     validate.NetworkMainnet,
		Nonce:       big.NewInt(2),
		PriorityFee: &fee,
		Priority:    validate.PriorityHigh,
		Timestamp:   1700000000,
	})
	if err != nil {
		t.Fatalf("build disperse: %v", err)
	}
	staking, err := message.BuildStaking(message.StakingParams{
		Action:      validate.ActionStake,
		Amount:      10,
		Network:     validate.NetworkTestnet,
		Nonce:       big.NewInt(3),
		PriorityFee: &fee,
		Priority:    validate.PriorityLow,
		Timestamp:   1700000000,
	})
	if err != nil {
		t.Fatalf("build staking: %v", err)
	}
	presale, err := message.BuildPresaleStaking(message.StakingParams{
		Action:      validate.ActionUnstake,
		Amount:      4,
		Network:     validate.NetworkMainnet,
		Nonce:       big.NewInt(4),
		PriorityFee: &fee,
		Priority:    validate.PriorityLow,
		Timestamp:   1700000000,
	})
	if err != nil {
		t.Fatalf("build presale staking: %v", err)
	}
	return []message.Signable{transfer, disperse, staking, presale}
}

func TestSignVerifyRoundTripAllVariants(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := key.Address().Hex()

	for _, msg := range testMessages(t) {
		envelope, err := BuildEnvelope(msg, testDomain())
		if err != nil {
			t.Fatalf("%s: build envelope: %v", msg.MessageKind(), err)
		}
		sig, err := Sign(envelope, key)
		if err != nil {
			t.Fatalf("%s: sign: %v", msg.MessageKind(), err)
		}
		if len(sig) != 65 {
			t.Fatalf("%s: signature must be 65 bytes, got %d", msg.MessageKind(), len(sig))
		}
		if !Verify(envelope, sig, address) {
			t.Errorf("%s: signature did not verify against the signer", msg.MessageKind())
		}
		if !Verify(envelope, sig, strings.ToUpper(address)) {
			t.Errorf("%s: verification must be case-insensitive", msg.MessageKind())
		}
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	other, _ := crypto.GeneratePrivateKey()
	msg := testMessages(t)[0]
	envelope, err := BuildEnvelope(msg, testDomain())
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	sig, err := Sign(envelope, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify(envelope, sig, other.Address().Hex()) {
		t.Fatal("signature must not verify for a different signer")
	}
}

func TestVerifyRejectsTamperedEnvelope(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	msg := testMessages(t)[0]
	envelope, err := BuildEnvelope(msg, testDomain())
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	sig, err := Sign(envelope, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	envelope.Message["toIdentity"] = "12345"
	if Verify(envelope, sig, key.Address().Hex()) {
		t.Fatal("tampered envelope must not verify")
	}
}

func TestVerifyNeverPropagatesFailures(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	msg := testMessages(t)[0]
	envelope, _ := BuildEnvelope(msg, testDomain())
	if Verify(nil, []byte{1, 2, 3}, key.Address().Hex()) {
		t.Fatal("nil envelope must not verify")
	}
	if Verify(envelope, []byte{1, 2, 3}, key.Address().Hex()) {
		t.Fatal("short signature must not verify")
	}
	// A structurally broken envelope must return false, not panic.
	broken, _ := BuildEnvelope(msg, testDomain())
	broken.Message["amount"] = struct{}{}
	if Verify(broken, make([]byte, 65), key.Address().Hex()) {
		t.Fatal("broken envelope must not verify")
	}
}

func TestSignFailsWithoutKey(t *testing.T) {
	msg := testMessages(t)[0]
	envelope, _ := BuildEnvelope(msg, testDomain())
	if _, err := Sign(envelope, nil); !errors.Is(err, ErrSigningFailed) {
		t.Fatalf("expected ErrSigningFailed, got %v", err)
	}
}

func TestBuildEnvelopeValidation(t *testing.T) {
	msg := testMessages(t)[0]
	if _, err := BuildEnvelope(nil, testDomain()); err == nil {
		t.Fatal("nil message should fail")
	}
	if _, err := BuildEnvelope(msg, DomainParams{VerifyingContract: "0x1"}); err == nil {
		t.Fatal("missing chain id should fail")
	}
	if _, err := BuildEnvelope(msg, DomainParams{ChainID: big.NewInt(1)}); err == nil {
		t.Fatal("missing contract should fail")
	}
}

func TestEnvelopeDomainIsFixed(t *testing.T) {
	msg := testMessages(t)[0]
	envelope, err := BuildEnvelope(msg, testDomain())
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if envelope.Domain.Name != DomainName || envelope.Domain.Version != DomainVersion {
		t.Fatalf("domain constants drifted: %s %s", envelope.Domain.Name, envelope.Domain.Version)
	}
	if envelope.PrimaryType != "Transfer" {
		t.Fatalf("wrong primary type: %s", envelope.PrimaryType)
	}
}
