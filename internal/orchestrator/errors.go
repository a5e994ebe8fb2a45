package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// TimeoutError reports a status or apply call that exceeded its bounded
// deadline. Transient; the retry wrapper will try again.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("orchestrator %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// UnavailableError reports a transient transport failure (connection
// refused, 5xx). Retried with backoff before surfacing.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("orchestrator unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RejectedError reports a non-transient rejection (4xx, malformed spec).
// Fatal for the current generation; never retried.
type RejectedError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("orchestrator rejected %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("orchestrator rejected %s: %v", e.Op, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var timeout *TimeoutError
	var unavailable *UnavailableError
	return errors.As(err, &timeout) || errors.As(err, &unavailable)
}

// IsTimeout reports whether err is a bounded-deadline expiry.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}

// IsRejected reports whether err is fatal for the current generation.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// FromContext maps context expiry onto the taxonomy. Cancellation is
// passed through untouched so shutdown is not mistaken for a cluster fault.
func FromContext(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}
