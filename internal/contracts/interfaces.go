// Package contracts defines the interfaces shared by the worker components.
package contracts

import (
	"context"
	"time"

	"github.com/decentraland/profile-images/pkg/catalyst"
)

// Message system attribute names requested on receive
const (
	AttributeApproximateReceiveCount = "ApproximateReceiveCount"
	AttributeSentTimestamp           = "SentTimestamp"
)

// Queue attribute names used for status
const (
	AttributeApproximateNumberOfMessages           = "ApproximateNumberOfMessages"
	AttributeApproximateNumberOfMessagesNotVisible = "ApproximateNumberOfMessagesNotVisible"
	AttributeApproximateNumberOfMessagesDelayed    = "ApproximateNumberOfMessagesDelayed"
)

// Message represents a received message from the queue
type Message struct {
	// MessageID is the unique message identifier
	MessageID string
	// ReceiptHandle is used to delete the message
	ReceiptHandle string
	// Body is the raw message body. Empty means the message carried no payload.
	Body string
	// Attributes contains system attributes (ApproximateReceiveCount, ...)
	Attributes map[string]string
	// MessageAttributes contains custom message attributes
	MessageAttributes map[string]MessageAttribute
}

// MessageAttribute represents a message attribute
type MessageAttribute struct {
	DataType string
	Value    string
}

// ReceiveRequest holds the parameters of a single receive call
type ReceiveRequest struct {
	MaxNumberOfMessages int
	VisibilityTimeout   int
	WaitTimeSeconds     int
	AttributeNames      []string
}

// DeleteEntry is one entry of a batch delete
type DeleteEntry struct {
	// ID correlates the entry with its failure, if any
	ID            string
	ReceiptHandle string
}

// DeleteFailure reports a batch delete entry the transport rejected
type DeleteFailure struct {
	ID      string
	Code    string
	Message string
}

// QueueClient is the transport binding for one named queue
type QueueClient interface {
	// Name returns the queue name or URL this client is bound to
	Name() string
	// SendMessage sends a raw body and returns the transport message id
	SendMessage(ctx context.Context, body string) (string, error)
	// ReceiveMessages polls for up to MaxNumberOfMessages messages
	ReceiveMessages(ctx context.Context, req ReceiveRequest) ([]Message, error)
	// DeleteMessage acknowledges and removes a message from the queue
	DeleteMessage(ctx context.Context, receiptHandle string) error
	// DeleteMessageBatch removes up to ten messages in one call
	DeleteMessageBatch(ctx context.Context, entries []DeleteEntry) ([]DeleteFailure, error)
	// GetAttributes returns the requested queue attributes
	GetAttributes(ctx context.Context, names []string) (map[string]string, error)
}

// QueueStatus is a point-in-time snapshot of queue counters
type QueueStatus struct {
	ApproximateNumberOfMessages           int64 `json:"approximateNumberOfMessages"`
	ApproximateNumberOfMessagesNotVisible int64 `json:"approximateNumberOfMessagesNotVisible"`
	ApproximateNumberOfMessagesDelayed    int64 `json:"approximateNumberOfMessagesDelayed"`
}

// QueueReport is the status of one named queue
type QueueReport struct {
	Name   string      `json:"name"`
	Status QueueStatus `json:"status"`
}

// WorkerStatus is the status of the queue pair a worker consumes
type WorkerStatus struct {
	Main QueueReport  `json:"main"`
	DLQ  *QueueReport `json:"dlq,omitempty"`
}

// QueueResolver defines the interface for queue URL resolution
type QueueResolver interface {
	// Resolve returns the queue URL, creating the queue if allowed
	Resolve(ctx context.Context, queueName string) (string, error)
	// QueueExists checks if a queue exists without creating it
	QueueExists(ctx context.Context, queueName string) (bool, error)
	// CreateQueueWithDLQ creates a main queue redriving into the given DLQ
	CreateQueueWithDLQ(ctx context.Context, queueName, dlqName string) (string, string, error)
}

// Cache is a small key/value cache with expiry
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// FetchOptions tunes a single EntityFetcher call
type FetchOptions struct {
	Retries  int
	WaitTime time.Duration
	// ServerOverride pins the call to one content server
	ServerOverride string
}

// EntityFetcher resolves entity ids into full entities. It may return fewer
// entities than requested; missing ids are unresolvable.
type EntityFetcher interface {
	GetEntitiesByIds(ctx context.Context, ids []string, opts FetchOptions) ([]catalyst.Entity, error)
}

// ProcessingResult is the outcome of processing one entity
type ProcessingResult struct {
	Entity      string
	Success     bool
	ShouldRetry bool
	Error       string
	Avatar      catalyst.AvatarDescriptor
}

// ImageProcessor renders and stores snapshots for a batch of entities. It
// returns one result per entity and only errors on batch-wide failures.
type ImageProcessor interface {
	ProcessEntities(ctx context.Context, entities []catalyst.Entity) ([]ProcessingResult, error)
}

// ExtendedAvatar is the unit of work sent to rendering
type ExtendedAvatar struct {
	Entity string                    `json:"entity"`
	Avatar catalyst.AvatarDescriptor `json:"avatar"`
}

// RenderOutput holds the images rendered for one avatar
type RenderOutput struct {
	Entity string
	Face   []byte
	Body   []byte
	// Err is set when this avatar could not be rendered
	Err error
}

// Renderer turns avatar descriptors into images
type Renderer interface {
	Render(ctx context.Context, avatars []ExtendedAvatar) ([]RenderOutput, error)
}

// BlobStorage stores rendered images
type BlobStorage interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// Ledger records rendered snapshots and final failures
type Ledger interface {
	// IsRendered reports whether a snapshot at entityTimestamp or newer exists
	IsRendered(ctx context.Context, entityID string, entityTimestamp int64) (bool, error)
	// MarkRendered records a successful snapshot
	MarkRendered(ctx context.Context, entityID string, entityTimestamp int64) error
	// MarkFailed records a final render failure
	MarkFailed(ctx context.Context, entityID, reason string) error
	// Cleanup removes old failure records
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}
