// Package signer turns canonical messages into EIP-712 typed-data envelopes
// and produces or verifies secp256k1 signatures over them. The envelope shape
// (domain, type schema, field order) is fixed by the ledger's verifiers.
package signer

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"sigforge/crypto"
	"sigforge/message"
)

const (
	// DomainName and DomainVersion are fixed constants shared with the
	// on-chain verifier contracts.
	DomainName    = "SigForge Ledger"
	DomainVersion = "1"
)

var (
	// ErrSigningFailed wraps failures of the underlying signing primitive.
	ErrSigningFailed = errors.New("signing failed")
	// ErrUnsupportedVariant reports a message kind with no registered schema.
	ErrUnsupportedVariant = errors.New("unsupported message variant")
)

// DomainParams carries the per-call domain inputs; name and version are fixed.
type DomainParams struct {
	ChainID           *big.Int
	VerifyingContract string
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var transferType = []apitypes.Type{
	{Name: "opcode", Type: "uint8"},
	{Name: "opName", Type: "string"},
	{Name: "to", Type: "address"},
	{Name: "toIdentity", Type: "string"},
	{Name: "token", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "priorityFee", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "priority", Type: "bool"},
	{Name: "executor", Type: "address"},
}

var recipientType = []apitypes.Type{
	{Name: "to", Type: "address"},
	{Name: "toIdentity", Type: "string"},
	{Name: "amount", Type: "uint256"},
}

var disperseType = []apitypes.Type{
	{Name: "recipients", Type: "Recipient[]"},
	{Name: "totalAmount", Type: "uint256"},
	{Name: "network", Type: "string"},
	{Name: "nonce", Type: "uint256"},
	{Name: "priorityFee", Type: "uint256"},
	{Name: "priority", Type: "bool"},
	{Name: "timestamp", Type: "uint256"},
}

var stakingType = []apitypes.Type{
	{Name: "action", Type: "string"},
	{Name: "amount", Type: "uint256"},
	{Name: "network", Type: "string"},
	{Name: "nonce", Type: "uint256"},
	{Name: "priorityFee", Type: "uint256"},
	{Name: "priority", Type: "bool"},
	{Name: "timestamp", Type: "uint256"},
}

// BuildEnvelope selects the schema matching the message variant and
// constructs the typed-data envelope. Envelopes are built fresh per signing
// call and never persisted.
func BuildEnvelope(msg message.Signable, dp DomainParams) (*apitypes.TypedData, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnsupportedVariant)
	}
	if dp.ChainID == nil {
		return nil, errors.New("signer: missing chain id")
	}
	if strings.TrimSpace(dp.VerifyingContract) == "" {
		return nil, errors.New("signer: missing verifying contract")
	}

	types := apitypes.Types{"EIP712Domain": domainType}
	var primaryType string
	var body apitypes.TypedDataMessage

	switch m := msg.(type) {
	case *message.Transfer:
		primaryType = "Transfer"
		types[primaryType] = transferType
		body = apitypes.TypedDataMessage{
			"opcode":      (*math.HexOrDecimal256)(big.NewInt(int64(m.Opcode))),
			"opName":      m.OpName,
			"to":          m.To.Hex(),
			"toIdentity":  m.ToIdentity,
			"token":       m.Token.Hex(),
			"amount":      (*math.HexOrDecimal256)(m.Amount),
			"priorityFee": (*math.HexOrDecimal256)(m.PriorityFee),
			"nonce":       (*math.HexOrDecimal256)(m.Nonce),
			"priority":    m.Priority,
			"executor":    m.Executor.Hex(),
		}
	case *message.Disperse:
		primaryType = "Disperse"
		types[primaryType] = disperseType
		types["Recipient"] = recipientType
		recipients := make([]interface{}, 0, len(m.Recipients))
		for _, r := range m.Recipients {
			recipients = append(recipients, map[string]interface{}{
				"to":         r.To.Hex(),
				"toIdentity": r.ToIdentity,
				"amount":     (*math.HexOrDecimal256)(r.Amount),
			})
		}
		body = apitypes.TypedDataMessage{
			"recipients":  recipients,
			"totalAmount": (*math.HexOrDecimal256)(m.TotalAmount),
			"network":     m.Network,
			"nonce":       (*math.HexOrDecimal256)(m.Nonce),
			"priorityFee": (*math.HexOrDecimal256)(m.PriorityFee),
			"priority":    m.Priority,
			"timestamp":   (*math.HexOrDecimal256)(big.NewInt(m.Timestamp)),
		}
	case *message.Staking:
		primaryType = "Staking"
		types[primaryType] = stakingType
		body = stakingBody(m.Action, m.Amount, m.Network, m.Nonce, m.PriorityFee, m.Priority, m.Timestamp)
	case *message.PresaleStaking:
		primaryType = "PresaleStaking"
		types[primaryType] = stakingType
		body = stakingBody(m.Action, m.Amount, m.Network, m.Nonce, m.PriorityFee, m.Priority, m.Timestamp)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedVariant, msg)
	}

	return &apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(dp.ChainID),
			VerifyingContract: dp.VerifyingContract,
		},
		Message: body,
	}, nil
}

func stakingBody(action string, amount *big.Int, network string, nonce, fee *big.Int, priority bool, timestamp int64) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"action":      action,
		"amount":      (*math.HexOrDecimal256)(amount),
		"network":     network,
		"nonce":       (*math.HexOrDecimal256)(nonce),
		"priorityFee": (*math.HexOrDecimal256)(fee),
		"priority":    priority,
		"timestamp":   (*math.HexOrDecimal256)(big.NewInt(timestamp)),
	}
}

// Digest computes the 0x1901-prefixed keccak digest the envelope is signed
// over.
func Digest(envelope *apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := envelope.HashStruct("EIP712Domain", envelope.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := envelope.HashStruct(envelope.PrimaryType, envelope.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return ethcrypto.Keccak256(raw), nil
}

// Sign produces a 65-byte signature over the envelope with the transaction
// v offset applied.
func Sign(envelope *apitypes.TypedData, key *crypto.PrivateKey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("%w: missing key material", ErrSigningFailed)
	}
	digest, err := Digest(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	sig[64] += 27
	return sig, nil
}

// Verify recovers the signer from the envelope and signature and compares it
// case-insensitively to the expected address. Every failure mode, including
// panics inside recovery, yields false rather than an error.
func Verify(envelope *apitypes.TypedData, sig []byte, expectedSigner string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if envelope == nil || len(sig) != 65 {
		return false
	}
	digest, err := Digest(envelope)
	if err != nil {
		return false
	}
	adjusted := make([]byte, len(sig))
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, adjusted)
	if err != nil {
		return false
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), strings.TrimSpace(expectedSigner))
}
