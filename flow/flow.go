// Package flow drives the per-session signing conversation: a fixed sequence
// of validated prompts per operation kind, ending in nonce selection, message
// assembly and typed-data signing. One input is processed to completion before
// the next input for the same session is looked at.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names an operation variant a session can run.
type Kind string

const (
	KindSinglePayment   Kind = "single_payment"
	KindDispersePayment Kind = "disperse_payment"
	KindPublicStaking   Kind = "public_staking"
	KindPresaleStaking  Kind = "presale_staking"
)

// CancelCommand aborts the active operation from any step.
const CancelCommand = "cancel"

// ackToken is the explicit acknowledgment the confirm step requires. It is a
// button selection, never interpreted from free text mid-step.
const ackToken = "confirm"

// errConfirmPending is the guidance for free text arriving at the confirm step.
var errConfirmPending = errors.New(`press "confirm" to sign or "cancel" to abort`)

var (
	// ErrNoActiveOperation reports input or a confirm with no flow running.
	ErrNoActiveOperation = errors.New("no active operation")
	// ErrUnknownKind reports a start request for an unsupported variant.
	ErrUnknownKind = errors.New("unknown operation kind")
	// ErrNotReady reports a confirm before all steps completed.
	ErrNotReady = errors.New("operation is not ready to sign")
	// ErrNoSigner reports a confirm with no connected signing identity.
	ErrNoSigner = errors.New("no signer connected")
	// ErrNoContract reports a confirm with no ledger contract selected.
	ErrNoContract = errors.New("no ledger contract configured")
)

// Prompt is what the transport renders next: the text plus, for button-driven
// steps, the allowed selections.
type Prompt struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Err     string   `json:"error,omitempty"`
}

func (p Prompt) withReason(err error) Prompt {
	p.Err = err.Error()
	return p
}

// operation is the per-kind step machine. handle consumes exactly one raw
// input: on validation failure it returns the unchanged current prompt with
// the reason attached and does not advance. Operation state is only touched
// under the session store lock; clone produces an independent copy so signing
// can proceed outside it.
type operation interface {
	OperationKind() string
	prompt() Prompt
	handle(raw string) Prompt
	ready() bool
	clone() operation
}

// selectionError builds the guidance returned when free text arrives at a
// button-driven step.
func selectionError(options ...string) error {
	return fmt.Errorf("please choose one of: %s", strings.Join(options, ", "))
}
