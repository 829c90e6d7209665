package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/contracts"
)

const cacheKeyPrefix = "queue:url:"

// ErrQueueNotFound is returned when a queue does not exist and may not be created
var ErrQueueNotFound = errors.New("queue not found")

// Resolver handles queue URL resolution with caching and optional creation
type Resolver struct {
	api    API
	config *config.Config
	cache  contracts.Cache
	logger zerolog.Logger
}

// NewResolver creates a new SQS queue resolver
func NewResolver(api API, cfg *config.Config, cache contracts.Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{
		api:    api,
		config: cfg,
		cache:  cache,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the queue URL. Full URLs pass through untouched; names are
// prefixed, looked up in the cache, then in SQS. Missing queues are created
// only when AutoEnsure is set.
func (r *Resolver) Resolve(ctx context.Context, queueName string) (string, error) {
	if config.IsQueueURL(queueName) {
		return queueName, nil
	}
	prefixedName := r.config.GetPrefixedQueueName(queueName)

	if url := r.cached(ctx, prefixedName); url != "" {
		return url, nil
	}

	result, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(prefixedName),
	})
	if err == nil {
		url := aws.ToString(result.QueueUrl)
		r.cacheURL(ctx, prefixedName, url)
		return url, nil
	}

	var notFound *types.QueueDoesNotExist
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("failed to resolve queue %s: %w", prefixedName, err)
	}
	if !r.config.SQS.AutoEnsure {
		return "", fmt.Errorf("%w: %s", ErrQueueNotFound, prefixedName)
	}

	r.logger.Info().Str("queue", prefixedName).Msg("Queue not found, creating")
	return r.createQueue(ctx, prefixedName, nil)
}

// QueueExists checks if a queue exists without creating it
func (r *Resolver) QueueExists(ctx context.Context, queueName string) (bool, error) {
	if config.IsQueueURL(queueName) {
		return true, nil
	}

	_, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(r.config.GetPrefixedQueueName(queueName)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check queue %s: %w", queueName, err)
}

// CreateQueueWithDLQ creates the DLQ and a main queue redriving into it.
// It returns both URLs.
func (r *Resolver) CreateQueueWithDLQ(ctx context.Context, queueName, dlqName string) (string, string, error) {
	prefixedName := r.config.GetPrefixedQueueName(queueName)
	prefixedDLQ := r.config.GetPrefixedQueueName(dlqName)

	dlqURL, err := r.createQueue(ctx, prefixedDLQ, nil)
	if err != nil {
		return "", "", err
	}

	dlqAttrs, err := r.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(dlqURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get DLQ ARN: %w", err)
	}
	dlqArn := dlqAttrs.Attributes[string(types.QueueAttributeNameQueueArn)]

	redrivePolicy, err := json.Marshal(map[string]any{
		"deadLetterTargetArn": dlqArn,
		"maxReceiveCount":     r.config.SQS.RedriveMaxReceiveCount,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode redrive policy: %w", err)
	}

	url, err := r.createQueue(ctx, prefixedName, map[string]string{
		"RedrivePolicy": string(redrivePolicy),
	})
	if err != nil {
		return "", "", err
	}

	r.logger.Info().
		Str("queue", prefixedName).
		Str("dlq", prefixedDLQ).
		Str("url", url).
		Msg("Created queue with DLQ")
	return url, dlqURL, nil
}

// ClearCache forgets the cached URL of a queue
func (r *Resolver) ClearCache(ctx context.Context, queueName string) error {
	return r.cache.Delete(ctx, cacheKeyPrefix+r.config.GetPrefixedQueueName(queueName))
}

func (r *Resolver) createQueue(ctx context.Context, prefixedName string, extra map[string]string) (string, error) {
	attributes := map[string]string{
		"VisibilityTimeout":             strconv.Itoa(r.config.SQS.VisibilityTimeout),
		"ReceiveMessageWaitTimeSeconds": strconv.Itoa(r.config.SQS.WaitTimeSeconds),
		"MessageRetentionPeriod":        strconv.Itoa(r.config.SQS.MessageRetention * 24 * 60 * 60),
	}
	for k, v := range extra {
		attributes[k] = v
	}

	result, err := r.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(prefixedName),
		Attributes: attributes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create queue %s: %w", prefixedName, err)
	}

	url := aws.ToString(result.QueueUrl)
	r.cacheURL(ctx, prefixedName, url)
	r.logger.Info().Str("queue", prefixedName).Str("url", url).Msg("Created queue")
	return url, nil
}

func (r *Resolver) cached(ctx context.Context, prefixedName string) string {
	url, err := r.cache.Get(ctx, cacheKeyPrefix+prefixedName)
	if err != nil {
		r.logger.Warn().Err(err).Str("queue", prefixedName).Msg("Queue URL cache read failed")
		return ""
	}
	return url
}

func (r *Resolver) cacheURL(ctx context.Context, prefixedName, url string) {
	if err := r.cache.Set(ctx, cacheKeyPrefix+prefixedName, url, 0); err != nil {
		r.logger.Warn().Err(err).Str("queue", prefixedName).Msg("Queue URL cache write failed")
	}
}

var _ contracts.QueueResolver = (*Resolver)(nil)
