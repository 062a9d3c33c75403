package admission

import (
	"context"
	"errors"
)

// Outcome is the closed set of results an admission operation can produce.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeFull
	OutcomeAlreadyApplied
	OutcomeBusy
	OutcomeConflict
	OutcomeClosed
	OutcomeInvalidTransition
	OutcomeNotFound
	OutcomeInvalidArgument
	OutcomeCancelled
	OutcomeStoreFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeFull:
		return "full"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeBusy:
		return "busy"
	case OutcomeConflict:
		return "conflict"
	case OutcomeClosed:
		return "closed"
	case OutcomeInvalidTransition:
		return "invalid_transition"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalidArgument:
		return "invalid_argument"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeStoreFault:
		return "store_fault"
	default:
		return "unknown"
	}
}

// Rejected reports whether o is a business rejection: a terminal answer that
// retrying will not change.
func (o Outcome) Rejected() bool {
	switch o {
	case OutcomeFull, OutcomeAlreadyApplied, OutcomeClosed, OutcomeInvalidTransition:
		return true
	default:
		return false
	}
}

// Retryable reports whether the caller may retry with backoff.
func (o Outcome) Retryable() bool {
	return o == OutcomeBusy || o == OutcomeConflict
}

// OutcomeOf classifies err. A nil error is OutcomeAdmitted.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAdmitted
	case errors.Is(err, ErrCapacityExceeded):
		return OutcomeFull
	case errors.Is(err, ErrAlreadyApplied):
		return OutcomeAlreadyApplied
	case errors.Is(err, ErrBusy):
		return OutcomeBusy
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrCampaignClosed):
		return OutcomeClosed
	case errors.Is(err, ErrInvalidTransition):
		return OutcomeInvalidTransition
	case errors.Is(err, ErrCampaignNotFound), errors.Is(err, ErrApplicationNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return OutcomeInvalidArgument
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeStoreFault
	}
}
