package payment

import (
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
)

// The payment lifecycle:
//
//	initiated -> pending -> {completed | failed | cancelled}
//
// pending may also be the creation state when the gateway is already
// processing. Any non-terminal state may jump straight to a terminal
// state. Terminal states absorb: a repeated request for the same terminal
// state is a no-op so webhook replays stay harmless, and nothing ever
// leaves a terminal state.

func IsTerminal(status string) bool {
	switch status {
	case payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal state change. A
// same-state "transition" is not a state change; callers treat it as a
// replay no-op before asking.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}

	switch to {
	case payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled:
		return true
	case payment.StatusPending:
		return from == payment.StatusInitiated
	default:
		return false
	}
}
