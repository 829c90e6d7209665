package profileimages

import (
	"errors"

	"github.com/decentraland/profile-images/internal/contracts"
)

// Message represents a message received from the main queue or the DLQ.
type Message = contracts.Message

// QueueStatus contains the approximate counters of one queue.
type QueueStatus = contracts.QueueStatus

// QueueReport contains the name and counters of one queue.
type QueueReport = contracts.QueueReport

// WorkerStatus contains the status of the main queue and the DLQ.
type WorkerStatus = contracts.WorkerStatus

// Common errors
var (
	// ErrWorkerClosed is returned when operations are attempted on a closed worker
	ErrWorkerClosed = errors.New("profileimages: worker is closed")

	// ErrRedisConnectionFailed is returned when the Redis connection cannot be established
	ErrRedisConnectionFailed = errors.New("profileimages: failed to connect to Redis")

	// ErrQueueNotConfigured is returned when no main queue name is configured
	ErrQueueNotConfigured = errors.New("profileimages: queue not configured")

	// ErrDLQNotConfigured is returned by DLQ operations when no DLQ is configured
	ErrDLQNotConfigured = errors.New("profileimages: DLQ not configured")

	// ErrSQSNotConfigured is returned by queue provisioning when the worker
	// runs on injected queue clients
	ErrSQSNotConfigured = errors.New("profileimages: SQS client not configured")

	// ErrNoContentServers is returned when no content server is configured
	ErrNoContentServers = errors.New("profileimages: no content servers configured")

	// ErrRendererNotConfigured is returned when no renderer command is configured
	ErrRendererNotConfigured = errors.New("profileimages: renderer command not configured")

	// ErrStorageNotConfigured is returned when the snapshot storage is incomplete
	ErrStorageNotConfigured = errors.New("profileimages: snapshot storage not configured")

	// ErrDatabaseNotConfigured is returned by ledger maintenance without a database
	ErrDatabaseNotConfigured = errors.New("profileimages: database not configured")

	// ErrMissingEntityID is returned when publishing an entity without id
	ErrMissingEntityID = errors.New("profileimages: entity id is required")
)

// ErrorType represents the classification of an error
type ErrorType = contracts.ErrorType

const (
	// ErrorTypeUnknown is for unclassified errors
	ErrorTypeUnknown = contracts.ErrorTypeUnknown
	// ErrorTypeValidation is for malformed input that will never succeed
	ErrorTypeValidation = contracts.ErrorTypeValidation
	// ErrorTypeTransient is for temporary failures worth retrying
	ErrorTypeTransient = contracts.ErrorTypeTransient
	// ErrorTypePermanent is for failures that will never succeed
	ErrorTypePermanent = contracts.ErrorTypePermanent
)

// ValidationError indicates input that will never be processable.
type ValidationError = contracts.ValidationError

// TransientError indicates a temporary failure; the message is retried.
type TransientError = contracts.TransientError

// PermanentError indicates a failure that retrying cannot fix.
type PermanentError = contracts.PermanentError

// NewValidationError creates a new validation error
func NewValidationError(msg string, cause error) *ValidationError {
	return contracts.NewValidationError(msg, cause)
}

// NewTransientError creates a new transient error
func NewTransientError(msg string, cause error) *TransientError {
	return contracts.NewTransientError(msg, cause)
}

// NewPermanentError creates a new permanent error
func NewPermanentError(msg string, cause error) *PermanentError {
	return contracts.NewPermanentError(msg, cause)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransientError checks if an error is a transient error
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanentError checks if an error is a permanent error
func IsPermanentError(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyError determines the type of an error
func ClassifyError(err error) ErrorType {
	return contracts.ClassifyError(err)
}

// IsRetryable reports whether a failure with err should be retried. Besides
// TransientError it recognizes timeouts, network errors and throttling.
func IsRetryable(err error) bool {
	return contracts.IsTransient(err)
}
