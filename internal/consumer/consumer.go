// Package consumer polls the main and DLQ queues and drives every received
// batch through validation, entity resolution and image processing.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/internal/metrics"
	"github.com/decentraland/profile-images/internal/queue"
	"github.com/decentraland/profile-images/internal/validator"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

// ErrNoDLQ is returned when a DLQ batch is handed to a consumer built
// without a DLQ.
var ErrNoDLQ = errors.New("consumer has no dlq configured")

// Options configures polling and the retry ceiling
type Options struct {
	MainBatchSize      int
	DLQBatchSize       int
	VisibilityTimeout  int
	WaitTimeSeconds    int
	DLQWaitTimeSeconds int
	// MaxDLQRetries is the receive count at which a retryable DLQ message is dropped
	MaxDLQRetries int
	FetchOptions  contracts.FetchOptions
	Backoff       BackoffConfig
}

// BackoffConfig holds the exponential backoff applied after failed cycles
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultOptions returns the default consumer options
func DefaultOptions() Options {
	return Options{
		MainBatchSize:      10,
		DLQBatchSize:       1,
		VisibilityTimeout:  queue.DefaultVisibilityTimeout,
		WaitTimeSeconds:    queue.DefaultWaitTimeSeconds,
		DLQWaitTimeSeconds: 0,
		MaxDLQRetries:      5,
		FetchOptions: contracts.FetchOptions{
			Retries:  3,
			WaitTime: time.Second,
		},
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// PollResult is a batch received from one queue
type PollResult struct {
	Queue    Source
	Messages []contracts.Message
}

// Summary counts what happened to the messages of one batch
type Summary struct {
	Queue     Source
	Received  int
	Invalid   int
	Succeeded int
	Failed    int
	Dropped   int
	Retried   int
}

// Consumer alternates between the main queue and the DLQ. It keeps no state
// across cycles besides its collaborators.
type Consumer struct {
	main      *queue.Component
	dlq       *queue.Component
	validator *validator.Validator
	fetcher   contracts.EntityFetcher
	processor contracts.ImageProcessor
	metrics   metrics.Provider
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a consumer. dlq may be nil, in which case only the main queue
// is polled. A nil provider disables metrics.
func New(
	main, dlq *queue.Component,
	fetcher contracts.EntityFetcher,
	processor contracts.ImageProcessor,
	provider metrics.Provider,
	opts Options,
	logger zerolog.Logger,
) *Consumer {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if opts.MaxDLQRetries <= 0 {
		opts.MaxDLQRetries = DefaultOptions().MaxDLQRetries
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}

	return &Consumer{
		main:      main,
		dlq:       dlq,
		validator: validator.New(logger),
		fetcher:   fetcher,
		processor: processor,
		metrics:   provider,
		opts:      opts,
		logger:    logger.With().Str("component", "consumer").Logger(),
		now:       time.Now,
	}
}

// Poll receives a batch from the main queue. Only when the main queue has
// nothing ready is the DLQ polled, with its smaller batch size.
func (c *Consumer) Poll(ctx context.Context) (PollResult, error) {
	attributes := []string{
		contracts.AttributeApproximateReceiveCount,
		contracts.AttributeSentTimestamp,
	}

	messages, err := c.main.ReceiveMessages(ctx, queue.ReceiveOptions{
		MaxNumberOfMessages: c.opts.MainBatchSize,
		VisibilityTimeout:   &c.opts.VisibilityTimeout,
		WaitTimeSeconds:     &c.opts.WaitTimeSeconds,
		AttributeNames:      attributes,
	})
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to receive from main queue: %w", err)
	}
	if len(messages) > 0 || c.dlq == nil {
		return PollResult{Queue: SourceMain, Messages: messages}, nil
	}

	messages, err = c.dlq.ReceiveMessages(ctx, queue.ReceiveOptions{
		MaxNumberOfMessages: c.opts.DLQBatchSize,
		VisibilityTimeout:   &c.opts.VisibilityTimeout,
		WaitTimeSeconds:     &c.opts.DLQWaitTimeSeconds,
		AttributeNames:      attributes,
	})
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to receive from dlq: %w", err)
	}
	return PollResult{Queue: SourceDLQ, Messages: messages}, nil
}

// ProcessMessages validates, resolves and processes one batch and acknowledges
// its messages. Fetch and processor errors are returned with every valid
// message left on the queue.
func (c *Consumer) ProcessMessages(ctx context.Context, source Source, messages []contracts.Message) (Summary, error) {
	summary := Summary{Queue: source, Received: len(messages)}
	if len(messages) == 0 {
		return summary, nil
	}

	q, err := c.queueFor(source)
	if err != nil {
		return summary, err
	}
	label := string(source)
	start := c.now()
	defer func() {
		c.metrics.ObserveCycleDuration(ctx, label, c.now().Sub(start).Seconds())
	}()

	outcome := c.validator.Validate(messages)

	if len(outcome.Invalid) > 0 {
		handles := make([]string, 0, len(outcome.Invalid))
		for _, inv := range outcome.Invalid {
			handles = append(handles, inv.Message.ReceiptHandle)
			c.metrics.IncValidationErrors(ctx, label, string(inv.Reason))
		}
		summary.Invalid = len(handles)
		c.deleteMessages(ctx, q, handles)
	}

	if len(outcome.Valid) == 0 {
		return summary, nil
	}

	byEntity := make(map[string]validator.ValidMessage, len(outcome.Valid))
	entities := make([]catalyst.Entity, 0, len(outcome.Valid))
	var incomplete []string

	for _, vm := range outcome.Valid {
		byEntity[vm.Event.EntityID] = vm
		if entity, ok := vm.Event.InlineEntity(); ok {
			entities = append(entities, entity)
		} else {
			incomplete = append(incomplete, vm.Event.EntityID)
		}
	}

	var terminal []string

	if len(incomplete) > 0 {
		fetched, err := c.fetcher.GetEntitiesByIds(ctx, incomplete, c.opts.FetchOptions)
		if err != nil {
			return summary, fmt.Errorf("failed to fetch entities: %w", err)
		}

		requested := make(map[string]bool, len(incomplete))
		for _, id := range incomplete {
			requested[id] = true
		}

		resolved := make(map[string]bool, len(fetched))
		for _, entity := range fetched {
			if !requested[entity.ID] || resolved[entity.ID] {
				continue
			}
			resolved[entity.ID] = true
			entities = append(entities, entity)
		}

		for _, id := range incomplete {
			if resolved[id] {
				continue
			}
			msg := byEntity[id].Message
			c.logger.Warn().
				Str("queue", label).
				Str("message_id", msg.MessageID).
				Str("receipt_handle", msg.ReceiptHandle).
				Str("entity_id", id).
				Str("reason", metrics.DropUnresolvableEntity).
				Msg("Entity not found, dropping message")
			c.metrics.IncDroppedMessages(ctx, label, metrics.DropUnresolvableEntity)
			terminal = append(terminal, msg.ReceiptHandle)
			summary.Dropped++
		}
	}

	if len(entities) > 0 {
		results, err := c.processor.ProcessEntities(ctx, entities)
		if err != nil {
			return summary, fmt.Errorf("failed to process entities: %w", err)
		}

		seen := make(map[string]bool, len(results))
		for _, result := range results {
			vm, ok := byEntity[result.Entity]
			if !ok || seen[result.Entity] {
				c.logger.Warn().
					Str("queue", label).
					Str("entity_id", result.Entity).
					Msg("Ignoring processing result for unknown entity")
				continue
			}
			seen[result.Entity] = true

			if c.applyResult(ctx, source, vm, result, &summary) {
				terminal = append(terminal, vm.Message.ReceiptHandle)
			}
		}

		for _, entity := range entities {
			if !seen[entity.ID] {
				c.logger.Warn().
					Str("queue", label).
					Str("entity_id", entity.ID).
					Msg("No processing result for entity, leaving message for redelivery")
			}
		}
	}

	if len(terminal) > 0 {
		c.deleteMessages(ctx, q, terminal)
	}

	c.logger.Info().
		Str("queue", label).
		Int("received", summary.Received).
		Int("invalid", summary.Invalid).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("dropped", summary.Dropped).
		Int("retried", summary.Retried).
		Msg("Processed batch")

	return summary, nil
}

// applyResult records one result and reports whether its message must be deleted
func (c *Consumer) applyResult(ctx context.Context, source Source, vm validator.ValidMessage, result contracts.ProcessingResult, summary *Summary) bool {
	label := string(source)
	log := c.logger.With().
		Str("queue", label).
		Str("message_id", vm.Message.MessageID).
		Str("entity_id", result.Entity).
		Logger()

	if result.Success {
		summary.Succeeded++
		c.metrics.IncRenderOutcome(ctx, label, metrics.StatusSuccess)

		now := c.now()
		if published := vm.Event.PublishedAt(); published.Before(now) {
			c.metrics.ObservePublicationLatency(ctx, label, now.Sub(published).Seconds())
		}
		log.Debug().Msg("Entity processed")
		return true
	}

	summary.Failed++
	c.metrics.IncRenderOutcome(ctx, label, metrics.StatusFailure)

	action := Decide(source, result)
	receiveCount := ReceiveCount(vm.Message)

	if !ShouldDelete(action, receiveCount, c.opts.MaxDLQRetries) {
		summary.Retried++
		c.metrics.IncRetriedMessages(ctx, label)
		log.Warn().
			Str("action", action.String()).
			Int("receive_count", receiveCount).
			Str("error", result.Error).
			Msg("Processing failed, leaving message for redelivery")
		return false
	}

	reason := metrics.DropPermanentFailure
	if action == ActionNackBounded {
		reason = metrics.DropRetriesExhausted
	}
	summary.Dropped++
	c.metrics.IncDroppedMessages(ctx, label, reason)
	log.Warn().
		Str("action", action.String()).
		Str("reason", reason).
		Int("receive_count", receiveCount).
		Int("max_retries", c.opts.MaxDLQRetries).
		Str("error", result.Error).
		Msg("Processing failed, dropping message")
	return true
}

// RunOnce performs a single poll and process cycle
func (c *Consumer) RunOnce(ctx context.Context) (Summary, error) {
	polled, err := c.Poll(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(polled.Messages) == 0 {
		c.logger.Debug().Str("queue", string(polled.Queue)).Msg("No messages ready")
		return Summary{Queue: polled.Queue}, nil
	}

	c.logger.Debug().
		Str("queue", string(polled.Queue)).
		Int("count", len(polled.Messages)).
		Msg("Received messages")

	// A started batch finishes even if ctx is cancelled meanwhile.
	return c.ProcessMessages(context.WithoutCancel(ctx), polled.Queue, polled.Messages)
}

// Run loops poll and process until ctx is cancelled. Failed cycles are
// logged and followed by an exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	var totals Summary
	var consecutiveErr int

	c.logger.Info().
		Str("main_queue", c.main.Name()).
		Int("max_dlq_retries", c.opts.MaxDLQRetries).
		Msg("Consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().
				Int("total_received", totals.Received).
				Int("invalid", totals.Invalid).
				Int("succeeded", totals.Succeeded).
				Int("failed", totals.Failed).
				Int("dropped", totals.Dropped).
				Int("retried", totals.Retried).
				Msg("Consumer shutting down")
			return ctx.Err()
		default:
		}

		summary, err := c.RunOnce(ctx)
		totals.add(summary)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			consecutiveErr++
			delay := c.backoffDelay(consecutiveErr)
			c.logger.Error().
				Err(err).
				Str("error_type", contracts.ClassifyError(err).String()).
				Bool("transient", contracts.IsTransient(err)).
				Int("consecutive_errors", consecutiveErr).
				Dur("backoff", delay).
				Msg("Consumer cycle failed")

			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}

		consecutiveErr = 0
	}
}

func (c *Consumer) backoffDelay(consecutiveErr int) time.Duration {
	b := c.opts.Backoff
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(consecutiveErr-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

func (c *Consumer) queueFor(source Source) (*queue.Component, error) {
	switch source {
	case SourceMain:
		return c.main, nil
	case SourceDLQ:
		if c.dlq == nil {
			return nil, ErrNoDLQ
		}
		return c.dlq, nil
	default:
		return nil, fmt.Errorf("unknown queue source %q", source)
	}
}

// deleteMessages logs delete failures. Undeleted messages redeliver and
// processing is idempotent.
func (c *Consumer) deleteMessages(ctx context.Context, q *queue.Component, handles []string) {
	if err := q.DeleteMessages(ctx, handles); err != nil {
		c.logger.Error().
			Err(err).
			Str("queue", q.Name()).
			Int("count", len(handles)).
			Msg("Failed to delete messages")
	}
}

func (s *Summary) add(o Summary) {
	s.Received += o.Received
	s.Invalid += o.Invalid
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Dropped += o.Dropped
	s.Retried += o.Retried
}
