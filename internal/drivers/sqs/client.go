// Package sqs provides the AWS SQS binding of the queue transport.
package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
)

// maxBatchEntries is the SQS limit for receive and batch delete calls
const maxBatchEntries = 10

// API is the subset of the SQS client used by the driver
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
}

// Client binds the queue operations to one resolved queue URL
type Client struct {
	api      API
	name     string
	queueURL string
	logger   zerolog.Logger
}

// NewClient creates a queue client for an already resolved queue URL
func NewClient(api API, name, queueURL string, logger zerolog.Logger) *Client {
	return &Client{
		api:      api,
		name:     name,
		queueURL: queueURL,
		logger:   logger.With().Str("queue", name).Logger(),
	}
}

// Name returns the queue name this client is bound to
func (c *Client) Name() string {
	return c.name
}

// URL returns the resolved queue URL
func (c *Client) URL() string {
	return c.queueURL
}

// SendMessage sends a raw body to the queue
func (c *Client) SendMessage(ctx context.Context, body string) (string, error) {
	result, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", c.name, err)
	}

	messageID := aws.ToString(result.MessageId)
	c.logger.Debug().Str("message_id", messageID).Msg("Sent message")
	return messageID, nil
}

// ReceiveMessages polls for messages from the queue
func (c *Client) ReceiveMessages(ctx context.Context, req contracts.ReceiveRequest) ([]contracts.Message, error) {
	maxMessages := req.MaxNumberOfMessages
	if maxMessages > maxBatchEntries {
		maxMessages = maxBatchEntries
	}
	if maxMessages < 1 {
		maxMessages = 1
	}

	attributeNames := make([]types.MessageSystemAttributeName, len(req.AttributeNames))
	for i, name := range req.AttributeNames {
		attributeNames[i] = types.MessageSystemAttributeName(name)
	}

	result, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(c.queueURL),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(req.WaitTimeSeconds),
		VisibilityTimeout:           int32(req.VisibilityTimeout),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: attributeNames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from %s: %w", c.name, err)
	}

	messages := make([]contracts.Message, len(result.Messages))
	for i, msg := range result.Messages {
		messages[i] = contracts.Message{
			MessageID:         aws.ToString(msg.MessageId),
			ReceiptHandle:     aws.ToString(msg.ReceiptHandle),
			Body:              aws.ToString(msg.Body),
			Attributes:        msg.Attributes,
			MessageAttributes: convertMessageAttributes(msg.MessageAttributes),
		}
	}

	if len(messages) > 0 {
		c.logger.Debug().Int("count", len(messages)).Msg("Received messages")
	}

	return messages, nil
}

// DeleteMessage acknowledges and removes a message from the queue
func (c *Client) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", c.name, err)
	}
	return nil
}

// DeleteMessageBatch removes up to ten messages and reports per-entry failures
func (c *Client) DeleteMessageBatch(ctx context.Context, entries []contracts.DeleteEntry) ([]contracts.DeleteFailure, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > maxBatchEntries {
		return nil, fmt.Errorf("batch size exceeds maximum of %d messages", maxBatchEntries)
	}

	batch := make([]types.DeleteMessageBatchRequestEntry, len(entries))
	for i, entry := range entries {
		batch[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(entry.ID),
			ReceiptHandle: aws.String(entry.ReceiptHandle),
		}
	}

	result, err := c.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  batch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete batch from %s: %w", c.name, err)
	}

	failures := make([]contracts.DeleteFailure, 0, len(result.Failed))
	for _, failed := range result.Failed {
		failures = append(failures, contracts.DeleteFailure{
			ID:      aws.ToString(failed.Id),
			Code:    aws.ToString(failed.Code),
			Message: aws.ToString(failed.Message),
		})
	}
	return failures, nil
}

// GetAttributes returns the requested queue attributes
func (c *Client) GetAttributes(ctx context.Context, names []string) (map[string]string, error) {
	attributeNames := make([]types.QueueAttributeName, len(names))
	for i, name := range names {
		attributeNames[i] = types.QueueAttributeName(name)
	}

	result, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.queueURL),
		AttributeNames: attributeNames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes of %s: %w", c.name, err)
	}
	return result.Attributes, nil
}

func convertMessageAttributes(attrs map[string]types.MessageAttributeValue) map[string]contracts.MessageAttribute {
	result := make(map[string]contracts.MessageAttribute, len(attrs))
	for k, v := range attrs {
		result[k] = contracts.MessageAttribute{
			DataType: aws.ToString(v.DataType),
			Value:    aws.ToString(v.StringValue),
		}
	}
	return result
}

// Ensure interface compliance
var _ contracts.QueueClient = (*Client)(nil)
