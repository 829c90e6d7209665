package contracts

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorType represents the classification of an error
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeValidation is a validation error (never retried)
	ErrorTypeValidation
	// ErrorTypeTransient is a transient error (retried)
	ErrorTypeTransient
	// ErrorTypePermanent is a permanent error (never retried)
	ErrorTypePermanent
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ValidationError represents input that can never be processed
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// TransientError represents a failure that may succeed on a later attempt
type TransientError struct {
	Message string
	Cause   error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError represents a failure that will not succeed on retry
type PermanentError struct {
	Message string
	Cause   error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error.
func NewValidationError(msg string, cause error) *ValidationError {
	return &ValidationError{Message: msg, Cause: cause}
}

// NewTransientError creates a new transient error.
func NewTransientError(msg string, cause error) *TransientError {
	return &TransientError{Message: msg, Cause: cause}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(msg string, cause error) *PermanentError {
	return &PermanentError{Message: msg, Cause: cause}
}

// ClassifyError returns the error type for the given error.
func ClassifyError(err error) ErrorType {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return ErrorTypeValidation
	}
	var transErr *TransientError
	if errors.As(err, &transErr) {
		return ErrorTypeTransient
	}
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return ErrorTypePermanent
	}
	return ErrorTypeUnknown
}

// IsTransient reports whether err is worth retrying: explicitly transient
// errors, timeouts, network errors and errors whose message looks like one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyError(err) {
	case ErrorTypeTransient:
		return true
	case ErrorTypeValidation, ErrorTypePermanent:
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection",
		"timeout",
		"temporary",
		"unavailable",
		"retry",
		"throttl",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
