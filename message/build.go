package message

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"sigforge/crypto"
	"sigforge/identity"
	"sigforge/validate"
)

// TransferParams carries the collected fields for a single payment. Exactly
// one of RecipientAddress/RecipientUsername must be set.
type TransferParams struct {
	RecipientAddress  string
	RecipientUsername string
	Token             string
	Amount            float64
	PriorityFee       *float64
	Nonce             *big.Int
	Priority          string
	Executor          string
}

// BuildTransfer emits the canonical single-payment message. Required fields
// are checked in fixed order: recipient, token, amount, priorityFee, nonce,
// priority.
func BuildTransfer(p TransferParams) (*Transfer, error) {
	to, toIdentity, err := resolveRecipient(p.RecipientAddress, p.RecipientUsername, "recipient")
	if err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, missing("token")
	}
	if p.Amount <= 0 {
		return nil, missing("amount")
	}
	if p.PriorityFee == nil {
		return nil, missing("priorityFee")
	}
	if p.Nonce == nil {
		return nil, missing("nonce")
	}
	if p.Priority == "" {
		return nil, missing("priority")
	}

	executor := crypto.ZeroAddress
	if p.Executor != "" {
		executor = common.HexToAddress(p.Executor)
	}

	return &Transfer{
		Opcode:      TransferOpcode,
		OpName:      TransferOpName,
		To:          to,
		ToIdentity:  toIdentity,
		Token:       common.HexToAddress(p.Token),
		Amount:      ScaleAmount(p.Amount),
		PriorityFee: ScaleAmount(*p.PriorityFee),
		Nonce:       new(big.Int).Set(p.Nonce),
		Priority:    p.Priority == validate.PriorityHigh,
		Executor:    executor,
	}, nil
}

// RecipientParams is one collected disperse target.
type RecipientParams struct {
	Address  string
	Username string
	Amount   float64
}

// DisperseParams carries the collected fields for a batch payment.
type DisperseParams struct {
	Recipients  []RecipientParams
	TotalAmount float64
	Network     string
	Nonce       *big.Int
	PriorityFee *float64
	Priority    string
	Timestamp   int64
}

// BuildDisperse emits the canonical batch-payment message and enforces that
// the declared total equals the recipient sum within DisperseTolerance.
func BuildDisperse(p DisperseParams) (*Disperse, error) {
	if len(p.Recipients) == 0 {
		return nil, missing("recipients")
	}
	if p.TotalAmount <= 0 {
		return nil, missing("totalAmount")
	}
	if p.Network == "" {
		return nil, missing("network")
	}
	if p.Nonce == nil {
		return nil, missing("nonce")
	}
	if p.PriorityFee == nil {
		return nil, missing("priorityFee")
	}
	if p.Priority == "" {
		return nil, missing("priority")
	}
	if p.Timestamp == 0 {
		return nil, missing("timestamp")
	}

	sum := 0.0
	recipients := make([]Recipient, 0, len(p.Recipients))
	for i, r := range p.Recipients {
		if r.Amount <= 0 {
			return nil, missing(fmt.Sprintf("recipients[%d].amount", i))
		}
		to, toIdentity, err := resolveRecipient(r.Address, r.Username, fmt.Sprintf("recipients[%d]", i))
		if err != nil {
			return nil, err
		}
		sum += r.Amount
		recipients = append(recipients, Recipient{
			To:         to,
			ToIdentity: toIdentity,
			Amount:     ScaleAmount(r.Amount),
		})
	}
	if math.Abs(sum-p.TotalAmount) > DisperseTolerance*math.Max(1, math.Abs(p.TotalAmount)) {
		return nil, fmt.Errorf("%w: declared %v, recipients sum to %v", ErrAmountMismatch, p.TotalAmount, sum)
	}

	return &Disperse{
		Recipients:  recipients,
		TotalAmount: ScaleAmount(p.TotalAmount),
		Network:     p.Network,
		Nonce:       new(big.Int).Set(p.Nonce),
		PriorityFee: ScaleAmount(*p.PriorityFee),
		Priority:    p.Priority == validate.PriorityHigh,
		Timestamp:   p.Timestamp,
	}, nil
}

// StakingParams carries the collected fields for public and presale staking.
type StakingParams struct {
	Action      string
	Amount      float64
	Network     string
	Nonce       *big.Int
	PriorityFee *float64
	Priority    string
	Timestamp   int64
}

func checkStaking(p StakingParams) error {
	if p.Action == "" {
		return missing("action")
	}
	if p.Amount <= 0 {
		return missing("amount")
	}
	if p.Network == "" {
		return missing("network")
	}
	if p.Nonce == nil {
		return missing("nonce")
	}
	if p.PriorityFee == nil {
		return missing("priorityFee")
	}
	if p.Priority == "" {
		return missing("priority")
	}
	if p.Timestamp == 0 {
		return missing("timestamp")
	}
	return nil
}

// BuildStaking emits the canonical public staking message.
func BuildStaking(p StakingParams) (*Staking, error) {
	if err := checkStaking(p); err != nil {
		return nil, err
	}
	return &Staking{
		Action:      p.Action,
		Amount:      ScaleAmount(p.Amount),
		Network:     p.Network,
		Nonce:       new(big.Int).Set(p.Nonce),
		PriorityFee: ScaleAmount(*p.PriorityFee),
		Priority:    p.Priority == validate.PriorityHigh,
		Timestamp:   p.Timestamp,
	}, nil
}

// BuildPresaleStaking emits one presale staking message for a single nonce
// domain. Dual-signature mode calls it once with the ledger nonce and once
// with the staking nonce; every other field is shared.
func BuildPresaleStaking(p StakingParams) (*PresaleStaking, error) {
	if err := checkStaking(p); err != nil {
		return nil, err
	}
	return &PresaleStaking{
		Action:      p.Action,
		Amount:      ScaleAmount(p.Amount),
		Network:     p.Network,
		Nonce:       new(big.Int).Set(p.Nonce),
		PriorityFee: ScaleAmount(*p.PriorityFee),
		Priority:    p.Priority == validate.PriorityHigh,
		Timestamp:   p.Timestamp,
	}, nil
}

// resolveRecipient threads a username through the identity hasher or accepts
// a literal address, zeroing the unused slot to its sentinel.
func resolveRecipient(address, username, field string) (common.Address, string, error) {
	switch {
	case address != "":
		return common.HexToAddress(address), "", nil
	case username != "":
		id, err := identity.Hash(username)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("%s: %w", field, err)
		}
		return crypto.ZeroAddress, id.String(), nil
	}
	return common.Address{}, "", missing(field)
}
