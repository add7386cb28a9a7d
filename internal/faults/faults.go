// Package faults defines the error taxonomy shared by the ingestion pipeline,
// the content store and the claim workflow.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record id is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a stored version advanced since it was read.
	ErrConflict = errors.New("version conflict")
	// ErrUpstreamUnavailable marks failures of the embedding or extraction services.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidTransition marks a claim workflow rule violation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports a rejected claim status change.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot move claim from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot move claim from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// UpstreamError wraps a failure of an external service call.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

// Unwrap exposes both the sentinel and the cause so callers can match either.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}

// Upstream wraps err as an UpstreamError for service. A nil err stays nil.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Service: service, Err: err}
}

// IsRetryable reports whether err is worth retrying with backoff.
// Only upstream failures qualify; conflicts go back to the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
