package errorsx

import (
	"context"
	"errors"
)

// ReasonedError carries a stable reason code alongside the underlying error.
// The code survives further wrapping so callers can branch on the original
// failure class.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap tags err with reason. A nil err stays nil, and an err that already
// carries a reason keeps its original one.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason code on err, or ReasonUnknown when none is set.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// IsCancellation reports whether err is a context cancellation from one of
// our own abort calls. Cancellations are never surfaced as session errors.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
