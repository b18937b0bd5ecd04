package flow

import (
	"sigforge/message"
	"sigforge/validate"
)

type paymentStep int

const (
	paymentStepRecipientType paymentStep = iota
	paymentStepRecipient
	paymentStepToken
	paymentStepAmount
	paymentStepFee
	paymentStepPriority
	paymentStepConfirm
)

const (
	recipientTypeAddress  = "address"
	recipientTypeUsername = "username"
)

// paymentOp collects a single payment. Fields fill in step order; the message
// builder only runs once the confirm step is reached.
type paymentOp struct {
	step paymentStep

	byUsername        bool
	recipientAddress  string
	recipientUsername string
	token             string
	amount            float64
	fee               *float64
	priority          string
}

func newPaymentOp() *paymentOp { return &paymentOp{step: paymentStepRecipientType} }

func (o *paymentOp) OperationKind() string { return string(KindSinglePayment) }

func (o *paymentOp) ready() bool { return o.step == paymentStepConfirm }

func (o *paymentOp) clone() operation {
	c := *o
	if o.fee != nil {
		fee := *o.fee
		c.fee = &fee
	}
	return &c
}

func (o *paymentOp) prompt() Prompt {
	switch o.step {
	case paymentStepRecipientType:
		return Prompt{
			Text:    "How do you want to identify the recipient?",
			Options: []string{recipientTypeAddress, recipientTypeUsername},
		}
	case paymentStepRecipient:
		if o.byUsername {
			return Prompt{Text: "Enter the recipient's username."}
		}
		return Prompt{Text: "Enter the recipient's address."}
	case paymentStepToken:
		return Prompt{Text: "Enter the token contract address."}
	case paymentStepAmount:
		return Prompt{Text: "Enter the amount to send."}
	case paymentStepFee:
		return Prompt{Text: "Enter the priority fee (0 for none)."}
	case paymentStepPriority:
		return Prompt{
			Text:    "Choose the transaction priority.",
			Options: []string{validate.PriorityLow, validate.PriorityHigh},
		}
	}
	return Prompt{
		Text:    "Review the payment and confirm to sign.",
		Options: []string{ackToken, CancelCommand},
	}
}

func (o *paymentOp) handle(raw string) Prompt {
	switch o.step {
	case paymentStepRecipientType:
		switch raw {
		case recipientTypeAddress:
			o.byUsername = false
		case recipientTypeUsername:
			o.byUsername = true
		default:
			return o.prompt().withReason(selectionError(recipientTypeAddress, recipientTypeUsername))
		}
	case paymentStepRecipient:
		if o.byUsername {
			username, err := validate.Username(raw)
			if err != nil {
				return o.prompt().withReason(err)
			}
			o.recipientUsername = username
		} else {
			address, err := validate.Address(raw)
			if err != nil {
				return o.prompt().withReason(err)
			}
			o.recipientAddress = address
		}
	case paymentStepToken:
		token, err := validate.Address(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.token = token
	case paymentStepAmount:
		amount, err := validate.Amount(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.amount = amount
	case paymentStepFee:
		fee, err := validate.PriorityFee(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.fee = &fee
	case paymentStepPriority:
		priority, err := validate.Priority(raw)
		if err != nil {
			return o.prompt().withReason(selectionError(validate.PriorityLow, validate.PriorityHigh))
		}
		o.priority = priority
	case paymentStepConfirm:
		return o.prompt().withReason(errConfirmPending)
	}
	o.step++
	return o.prompt()
}

func (o *paymentOp) params() message.TransferParams {
	return message.TransferParams{
		RecipientAddress:  o.recipientAddress,
		RecipientUsername: o.recipientUsername,
		Token:             o.token,
		Amount:            o.amount,
		PriorityFee:       o.fee,
		Priority:          o.priority,
	}
}
