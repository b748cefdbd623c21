package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidJobKind   = errors.New("jobs: invalid job kind (must be alphanumeric, start with letter)")
	ErrJobKindTooLong   = errors.New("jobs: job kind too long")
	ErrPayloadTooLarge  = errors.New("jobs: job payload exceeds size limit")
	ErrDuplicateJob     = errors.New("jobs: duplicate job with same unique key")
	ErrUniqueKeyTooLong = errors.New("jobs: unique key exceeds maximum length")
	ErrJobNotFound      = errors.New("jobs: job not found")
	ErrRuleNotFound     = errors.New("jobs: recurring rule not found")
)

// Execution errors
var (
	// ErrUnknownJobKind is returned when no handler is registered for a job's kind.
	// It is permanent: the job is exhausted without retry.
	ErrUnknownJobKind = errors.New("jobs: unknown job kind")

	// ErrClaimLost means the caller's claim token no longer owns the job, because
	// the claim went stale and another worker reclaimed it. This is the expected
	// crash-recovery path, not a fault.
	ErrClaimLost = errors.New("jobs: claim lost")

	// ErrConversionFailed marks a document converter failure.
	ErrConversionFailed = errors.New("jobs: document conversion failed")

	// ErrNotificationFailed marks a notification collaborator failure.
	ErrNotificationFailed = errors.New("jobs: notification failed")
)

// StoreError wraps an error returned by the job store.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("jobs: store %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a store error worth retrying.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// HandlerError is a failure returned by a job handler. It consumes an attempt.
type HandlerError struct {
	Kind string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("jobs: handler %s: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
