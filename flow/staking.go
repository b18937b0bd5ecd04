package flow

import (
	"sigforge/message"
	"sigforge/validate"
)

type stakingStep int

const (
	stakingStepAction stakingStep = iota
	stakingStepAmount
	stakingStepFee
	stakingStepPriority
	stakingStepMode
	stakingStepConfirm
)

const (
	signModeSingle = "single"
	signModeDual   = "dual"
)

// stakingOp collects public and presale staking. Presale adds a signature
// mode step: dual mode signs once per nonce domain (ledger and staking).
type stakingOp struct {
	step    stakingStep
	presale bool

	action   string
	amount   float64
	fee      *float64
	priority string
	dualSig  bool
}

func newStakingOp(presale bool) *stakingOp {
	return &stakingOp{step: stakingStepAction, presale: presale}
}

func (o *stakingOp) OperationKind() string {
	if o.presale {
		return string(KindPresaleStaking)
	}
	return string(KindPublicStaking)
}

func (o *stakingOp) ready() bool { return o.step == stakingStepConfirm }

func (o *stakingOp) clone() operation {
	c := *o
	if o.fee != nil {
		fee := *o.fee
		c.fee = &fee
	}
	return &c
}

func (o *stakingOp) prompt() Prompt {
	switch o.step {
	case stakingStepAction:
		return Prompt{
			Text:    "Do you want to stake or unstake?",
			Options: []string{validate.ActionStake, validate.ActionUnstake},
		}
	case stakingStepAmount:
		return Prompt{Text: "Enter the amount."}
	case stakingStepFee:
		return Prompt{Text: "Enter the priority fee (0 for none)."}
	case stakingStepPriority:
		return Prompt{
			Text:    "Choose the transaction priority.",
			Options: []string{validate.PriorityLow, validate.PriorityHigh},
		}
	case stakingStepMode:
		return Prompt{
			Text:    "Sign once or produce the dual ledger/staking signature pair?",
			Options: []string{signModeSingle, signModeDual},
		}
	}
	return Prompt{
		Text:    "Review the staking request and confirm to sign.",
		Options: []string{ackToken, CancelCommand},
	}
}

func (o *stakingOp) handle(raw string) Prompt {
	switch o.step {
	case stakingStepAction:
		action, err := validate.Action(raw)
		if err != nil {
			return o.prompt().withReason(selectionError(validate.ActionStake, validate.ActionUnstake))
		}
		o.action = action
	case stakingStepAmount:
		amount, err := validate.Amount(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.amount = amount
	case stakingStepFee:
		fee, err := validate.PriorityFee(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.fee = &fee
	case stakingStepPriority:
		priority, err := validate.Priority(raw)
		if err != nil {
			return o.prompt().withReason(selectionError(validate.PriorityLow, validate.PriorityHigh))
		}
		o.priority = priority
		if !o.presale {
			// Public staking has no mode step.
			o.step = stakingStepConfirm
			return o.prompt()
		}
	case stakingStepMode:
		switch raw {
		case signModeSingle:
			o.dualSig = false
		case signModeDual:
			o.dualSig = true
		default:
			return o.prompt().withReason(selectionError(signModeSingle, signModeDual))
		}
	case stakingStepConfirm:
		return o.prompt().withReason(errConfirmPending)
	}
	o.step++
	return o.prompt()
}

func (o *stakingOp) params(network string, timestamp int64) message.StakingParams {
	return message.StakingParams{
		Action:      o.action,
		Amount:      o.amount,
		Network:     network,
		PriorityFee: o.fee,
		Priority:    o.priority,
		Timestamp:   timestamp,
	}
}
