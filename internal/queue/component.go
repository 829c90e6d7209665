// Package queue provides the per-queue operation layer used by the consumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
)

// Default polling parameters
const (
	DefaultVisibilityTimeout = 60
	DefaultWaitTimeSeconds   = 20

	maxDeleteBatch = 10
)

// ReceiveOptions configures a single receive. Nil pointers take the defaults.
type ReceiveOptions struct {
	MaxNumberOfMessages int
	VisibilityTimeout   *int
	WaitTimeSeconds     *int
	AttributeNames      []string
}

// Component wraps a QueueClient with default polling parameters and status
type Component struct {
	client contracts.QueueClient
	logger zerolog.Logger
}

// NewComponent creates a queue component over client
func NewComponent(client contracts.QueueClient, logger zerolog.Logger) *Component {
	return &Component{
		client: client,
		logger: logger.With().Str("queue", client.Name()).Logger(),
	}
}

// Name returns the underlying queue name
func (c *Component) Name() string {
	return c.client.Name()
}

// SendMessage serializes event as JSON and sends it
func (c *Component) SendMessage(ctx context.Context, event any) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}
	return c.client.SendMessage(ctx, string(body))
}

// SendRaw sends an already serialized body
func (c *Component) SendRaw(ctx context.Context, body string) (string, error) {
	return c.client.SendMessage(ctx, body)
}

// ReceiveMessages receives up to opts.MaxNumberOfMessages messages. An empty
// result means nothing was ready.
func (c *Component) ReceiveMessages(ctx context.Context, opts ReceiveOptions) ([]contracts.Message, error) {
	req := contracts.ReceiveRequest{
		MaxNumberOfMessages: opts.MaxNumberOfMessages,
		VisibilityTimeout:   DefaultVisibilityTimeout,
		WaitTimeSeconds:     DefaultWaitTimeSeconds,
		AttributeNames:      opts.AttributeNames,
	}
	if req.MaxNumberOfMessages <= 0 {
		req.MaxNumberOfMessages = 1
	}
	if opts.VisibilityTimeout != nil {
		req.VisibilityTimeout = *opts.VisibilityTimeout
	}
	if opts.WaitTimeSeconds != nil {
		req.WaitTimeSeconds = *opts.WaitTimeSeconds
	}

	return c.client.ReceiveMessages(ctx, req)
}

// DeleteMessage acknowledges a single message
func (c *Component) DeleteMessage(ctx context.Context, receiptHandle string) error {
	return c.client.DeleteMessage(ctx, receiptHandle)
}

// DeleteMessages acknowledges messages in batches of up to ten. Entries are
// tagged with their position in receiptHandles. Entries the transport rejects
// are logged and returned as an error together with any call failure.
func (c *Component) DeleteMessages(ctx context.Context, receiptHandles []string) error {
	var failed int
	var lastErr error

	for start := 0; start < len(receiptHandles); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(receiptHandles) {
			end = len(receiptHandles)
		}

		entries := make([]contracts.DeleteEntry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, contracts.DeleteEntry{
				ID:            strconv.Itoa(i),
				ReceiptHandle: receiptHandles[i],
			})
		}

		failures, err := c.client.DeleteMessageBatch(ctx, entries)
		if err != nil {
			failed += len(entries)
			lastErr = err
			continue
		}
		for _, f := range failures {
			failed++
			c.logger.Error().
				Str("entry_id", f.ID).
				Str("code", f.Code).
				Str("error", f.Message).
				Msg("Failed to delete message")
		}
	}

	if failed == 0 {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete %d of %d messages: %w", failed, len(receiptHandles), lastErr)
	}
	return fmt.Errorf("failed to delete %d of %d messages", failed, len(receiptHandles))
}

// Status returns the queue counters. Attributes the transport omits read as zero.
func (c *Component) Status(ctx context.Context) (contracts.QueueStatus, error) {
	attrs, err := c.client.GetAttributes(ctx, []string{
		contracts.AttributeApproximateNumberOfMessages,
		contracts.AttributeApproximateNumberOfMessagesNotVisible,
		contracts.AttributeApproximateNumberOfMessagesDelayed,
	})
	if err != nil {
		return contracts.QueueStatus{}, err
	}

	return contracts.QueueStatus{
		ApproximateNumberOfMessages:           parseCount(attrs[contracts.AttributeApproximateNumberOfMessages]),
		ApproximateNumberOfMessagesNotVisible: parseCount(attrs[contracts.AttributeApproximateNumberOfMessagesNotVisible]),
		ApproximateNumberOfMessagesDelayed:    parseCount(attrs[contracts.AttributeApproximateNumberOfMessagesDelayed]),
	}, nil
}

func parseCount(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
