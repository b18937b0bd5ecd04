// Package message assembles the canonical signable structures for the four
// transaction variants the ledger accepts. Field order and numeric encoding
// are part of the contract with on-chain verifiers: a reordered field or a
// differently scaled amount produces a signature the ledger rejects.
package message

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags a signable message variant.
type Kind string

const (
	KindTransfer       Kind = "transfer"
	KindDisperse       Kind = "disperse"
	KindStaking        Kind = "staking"
	KindPresaleStaking Kind = "presale_staking"
)

const (
	// TransferOpcode and TransferOpName are fixed by the ledger VM.
	TransferOpcode uint8 = 1
	TransferOpName       = "transfer"

	// AmountScale converts decimal user amounts to ledger base units.
	amountDecimals = 18

	// DisperseTolerance is the accepted relative drift between the declared
	// total and the recipient sum, in the decimal (pre-scale) domain.
	DisperseTolerance = 1e-6
)

var (
	// ErrMissingParameter reports a builder invoked without a required field.
	// It names the first absent field in the fixed check order.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrAmountMismatch reports a disperse total that does not equal the
	// recipient sum within tolerance.
	ErrAmountMismatch = errors.New("total amount does not match recipient sum")
)

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, field)
}

// ScaleAmount converts a decimal amount to the ledger's integer base units.
// The value is scaled from its shortest decimal representation, so user input
// like 0.01 maps to 10^16 exactly rather than picking up binary drift.
func ScaleAmount(amount float64) *big.Int {
	rat, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return new(big.Int)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(amountDecimals), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(rat.Num(), rat.Denom())
}

// Signable is implemented by every canonical message variant.
type Signable interface {
	MessageKind() Kind
}

// Transfer is the single-payment message. The struct field order mirrors the
// on-chain tuple exactly.
type Transfer struct {
	Opcode      uint8          `json:"opcode"`
	OpName      string         `json:"opName"`
	To          common.Address `json:"to"`
	ToIdentity  string         `json:"toIdentity"`
	Token       common.Address `json:"token"`
	Amount      *big.Int       `json:"amount"`
	PriorityFee *big.Int       `json:"priorityFee"`
	Nonce       *big.Int       `json:"nonce"`
	Priority    bool           `json:"priority"`
	Executor    common.Address `json:"executor"`
}

func (*Transfer) MessageKind() Kind { return KindTransfer }

// Recipient is one disperse target. Exactly one of To/ToIdentity carries a
// value; the other holds its sentinel (zero address, empty string).
type Recipient struct {
	To         common.Address `json:"to"`
	ToIdentity string         `json:"toIdentity"`
	Amount     *big.Int       `json:"amount"`
}

// Disperse is the batch-payment message.
type Disperse struct {
	Recipients  []Recipient `json:"recipients"`
	TotalAmount *big.Int    `json:"totalAmount"`
	Network     string      `json:"network"`
	Nonce       *big.Int    `json:"nonce"`
	PriorityFee *big.Int    `json:"priorityFee"`
	Priority    bool        `json:"priority"`
	Timestamp   int64       `json:"timestamp"`
}

func (*Disperse) MessageKind() Kind { return KindDisperse }

// Staking is the public staking message.
type Staking struct {
	Action      string   `json:"action"`
	Amount      *big.Int `json:"amount"`
	Network     string   `json:"network"`
	Nonce       *big.Int `json:"nonce"`
	PriorityFee *big.Int `json:"priorityFee"`
	Priority    bool     `json:"priority"`
	Timestamp   int64    `json:"timestamp"`
}

func (*Staking) MessageKind() Kind { return KindStaking }

// PresaleStaking shares the staking shape but signs against the presale
// schema. Dual-signature mode builds it twice, once per nonce domain.
type PresaleStaking struct {
	Action      string   `json:"action"`
	Amount      *big.Int `json:"amount"`
	Network     string   `json:"network"`
	Nonce       *big.Int `json:"nonce"`
	PriorityFee *big.Int `json:"priorityFee"`
	Priority    bool     `json:"priority"`
	Timestamp   int64    `json:"timestamp"`
}

func (*PresaleStaking) MessageKind() Kind { return KindPresaleStaking }
