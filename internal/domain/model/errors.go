package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrStaleInteraction means no live dialog exists for an interaction ID.
	ErrStaleInteraction = errors.New("stale interaction")
	// ErrInteractionInProgress means another delivery of the same submission holds the dialog.
	ErrInteractionInProgress = errors.New("interaction in progress")
	// ErrInteractionNotFound is returned by dialog stores for absent or expired keys.
	ErrInteractionNotFound = errors.New("interaction not found")
	// ErrLedgerRecordNotFound is returned by the refund ledger for unknown keys.
	ErrLedgerRecordNotFound = errors.New("refund record not found")
)

// ValidationError carries field-level messages for a rejected form submission.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field unless one is already present.
func (e *ValidationError) Add(field, message string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// GatewayError is a classified processor failure.
type GatewayError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	// TimedOut is set when the processor did not answer within the attempt deadline.
	TimedOut bool
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the failure should be retried.
func (e *GatewayError) Retryable() bool { return e.Code.Retryable() }

// Category maps the error code onto the user-facing error taxonomy.
func (e *GatewayError) Category() string {
	switch e.Code {
	case CodeInvalidRequest:
		return "GatewayRejected"
	case CodeRateLimited, CodeTransientNetwork:
		return "GatewayTransient"
	case CodeAuthFailure:
		return "GatewayFatal"
	default:
		return "GatewayUnknown"
	}
}
