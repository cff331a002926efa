package lifecycle

import "errors"

// Terminal validation errors. These surface to the caller verbatim and are
// never retried.
var (
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrSlotUnavailable         = errors.New("time slot unavailable")
	ErrRescheduleLimitExceeded = errors.New("reschedule limit exceeded")
	ErrNotReschedulable        = errors.New("appointment cannot be rescheduled")
	ErrNotFound                = errors.New("not found")

	// ErrInvalidSlot marks a malformed date or time in the request itself,
	// as opposed to a well-formed slot that is taken (ErrSlotUnavailable).
	ErrInvalidSlot = errors.New("invalid slot specification")

	// ErrPaymentVerificationFailed marks a gateway signature or amount
	// mismatch. It must never be treated as success.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")

	// ErrTransient marks a network/timeout repository failure. Callers may
	// retry a bounded number of times; it is never a definitive
	// "slot unavailable" signal.
	ErrTransient = errors.New("transient repository error")
)
