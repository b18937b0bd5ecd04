package flow

import (
	"fmt"

	"sigforge/message"
	"sigforge/validate"
)

type disperseStep int

const (
	disperseStepTotal disperseStep = iota
	disperseStepCount
	disperseStepRecipient
	disperseStepRecipientAmount
	disperseStepFee
	disperseStepPriority
	disperseStepConfirm
)

// disperseOp collects a batch payment: a declared total, a fixed recipient
// count, then one recipient + amount pair per slot. Recipients may be given
// as an address or a username; the form is detected from the input shape.
type disperseOp struct {
	step disperseStep

	total      float64
	count      int
	recipients []message.RecipientParams
	fee        *float64
	priority   string
}

func newDisperseOp() *disperseOp { return &disperseOp{step: disperseStepTotal} }

func (o *disperseOp) OperationKind() string { return string(KindDispersePayment) }

func (o *disperseOp) ready() bool { return o.step == disperseStepConfirm }

func (o *disperseOp) clone() operation {
	c := *o
	c.recipients = append([]message.RecipientParams(nil), o.recipients...)
	if o.fee != nil {
		fee := *o.fee
		c.fee = &fee
	}
	return &c
}

func (o *disperseOp) prompt() Prompt {
	switch o.step {
	case disperseStepTotal:
		return Prompt{Text: "Enter the total amount to disperse."}
	case disperseStepCount:
		return Prompt{Text: fmt.Sprintf("How many recipients? (1-%d)", validate.MaxDisperseRecipients)}
	case disperseStepRecipient:
		return Prompt{Text: fmt.Sprintf("Recipient %d of %d: enter an address or username.", len(o.recipients)+1, o.count)}
	case disperseStepRecipientAmount:
		return Prompt{Text: fmt.Sprintf("Enter the amount for recipient %d.", len(o.recipients))}
	case disperseStepFee:
		return Prompt{Text: "Enter the priority fee (0 for none)."}
	case disperseStepPriority:
		return Prompt{
			Text:    "Choose the transaction priority.",
			Options: []string{validate.PriorityLow, validate.PriorityHigh},
		}
	}
	return Prompt{
		Text:    "Review the disperse payment and confirm to sign.",
		Options: []string{ackToken, CancelCommand},
	}
}

func (o *disperseOp) handle(raw string) Prompt {
	switch o.step {
	case disperseStepTotal:
		total, err := validate.Amount(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.total = total
	case disperseStepCount:
		count, err := validate.Count(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.count = count
		o.recipients = make([]message.RecipientParams, 0, count)
	case disperseStepRecipient:
		if address, err := validate.Address(raw); err == nil {
			o.recipients = append(o.recipients, message.RecipientParams{Address: address})
		} else if username, err := validate.Username(raw); err == nil {
			o.recipients = append(o.recipients, message.RecipientParams{Username: username})
		} else {
			return o.prompt().withReason(fmt.Errorf("enter a 0x address or a 3-20 character username"))
		}
	case disperseStepRecipientAmount:
		amount, err := validate.Amount(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.recipients[len(o.recipients)-1].Amount = amount
		if len(o.recipients) < o.count {
			o.step = disperseStepRecipient
			return o.prompt()
		}
	case disperseStepFee:
		fee, err := validate.PriorityFee(raw)
		if err != nil {
			return o.prompt().withReason(err)
		}
		o.fee = &fee
	case disperseStepPriority:
		priority, err := validate.Priority(raw)
		if err != nil {
			return o.prompt().withReason(selectionError(validate.PriorityLow, validate.PriorityHigh))
		}
		o.priority = priority
	case disperseStepConfirm:
		return o.prompt().withReason(errConfirmPending)
	}
	o.step++
	return o.prompt()
}

func (o *disperseOp) params(network string, timestamp int64) message.DisperseParams {
	return message.DisperseParams{
		Recipients:  o.recipients,
		TotalAmount: o.total,
		Network:     network,
		PriorityFee: o.fee,
		Priority:    o.priority,
		Timestamp:   timestamp,
	}
}
