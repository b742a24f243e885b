// Package errors provides failure classification for the transport layer.
// The category decides whether the executor retries, whether credentials are
// cleared, and what the caller ends up showing to a user.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the failure category of a transport outcome.
type Kind int

const (
	// Network covers status 0 outcomes: dial, DNS, reset, unreachable origin.
	Network Kind = iota

	// Timeout is a call that exceeded its bounded wait. Retried like Network.
	Timeout

	// Transient covers 502, 503 and 504.
	Transient

	// Auth covers 401 and 403. Never retried.
	Auth

	// Domain is any other non-2xx status. Never retried; the body message is
	// surfaced verbatim.
	Domain

	// Parse marks an unreadable body. Logged only, never escalated.
	Parse
)

// String returns a human-readable representation of the category.
func (k Kind) String() string {
	switch k {
	case Network:
		return "NetworkFailure"
	case Timeout:
		return "Timeout"
	case Transient:
		return "TransientServerError"
	case Auth:
		return "AuthFailure"
	case Domain:
		return "DomainError"
	case Parse:
		return "ParseFailure"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Retryable reports whether the executor may spend retry budget on this kind.
func (k Kind) Retryable() bool {
	return k == Network || k == Timeout || k == Transient
}

// ClassifiedError wraps a transport failure with categorization metadata.
type ClassifiedError struct {
	Kind       Kind
	StatusCode int    // HTTP status code (0 for network-layer failures)
	Message    string // message extracted from the response body, if any
	Operation  string // "GET conversations/my"
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s: HTTP %d: %s", e.Kind, e.Operation, e.StatusCode, msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, msg)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the failure may be retried.
func (e *ClassifiedError) Retryable() bool { return e.Kind.Retryable() }

// As extracts a *ClassifiedError from err's chain.
func As(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the kind of err, and false when err is not classified.
func KindOf(err error) (Kind, bool) {
	if ce, ok := As(err); ok {
		return ce.Kind, true
	}
	return 0, false
}

// IsIrrecoverable returns true if the error should not be retried.
// Unclassified errors are treated as recoverable.
func IsIrrecoverable(err error) bool {
	if ce, ok := As(err); ok {
		return !ce.Retryable()
	}
	return false
}

// IsAuth reports whether err is an AuthFailure.
func IsAuth(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Auth
}
