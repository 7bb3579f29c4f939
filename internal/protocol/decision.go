package protocol

import (
	"errors"

	"github.com/campusgate/doorlock/internal/doorlock"
)

// Deny and grant messages shown on the device display.
const (
	MsgUnknownCard   = "Unknown card"
	MsgCardDisabled  = "Card disabled"
	MsgCardFrozen    = "Card frozen"
	MsgSystemError   = "System error"
	MsgAccessGranted = "Access granted"
)

// Decision is the admit/deny outcome for one card read.
type Decision struct {
	Action  Action
	Message string
	Reason  string
}

// Command converts the decision into its wire form.
func (d Decision) Command() Command {
	return Command{Action: d.Action, Message: d.Message}
}

// Decide applies the fixed precedence: lookup failure, unknown, disabled,
// frozen, then open. Any lookup error other than not-found fails closed.
func Decide(card doorlock.CardCredential, lookupErr error) Decision {
	switch {
	case errors.Is(lookupErr, doorlock.ErrNotFound):
		return Decision{Action: ActionDeny, Message: MsgUnknownCard, Reason: "unknown"}
	case lookupErr != nil:
		return Decision{Action: ActionDeny, Message: MsgSystemError, Reason: "error"}
	case card.Disabled:
		return Decision{Action: ActionDeny, Message: MsgCardDisabled, Reason: "disabled"}
	case card.Frozen:
		return Decision{Action: ActionDeny, Message: MsgCardFrozen, Reason: "frozen"}
	}
	msg := card.Label
	if msg == "" {
		msg = MsgAccessGranted
	}
	return Decision{Action: ActionOpen, Message: msg, Reason: "granted"}
}
