// Package profileimages renders avatar snapshots for profile deployments.
//
// A Worker consumes profile deployment events from an SQS queue and its
// dead-letter queue, resolves the referenced entities from the catalyst
// content servers, renders face and body images with an external renderer
// and uploads them to S3 or local disk:
//   - main queue polled first, the DLQ only when the main queue is empty
//   - invalid and unresolvable messages acknowledged and dropped
//   - retryable failures left for redelivery, bounded on the DLQ
//   - Redis queue URL caching and a Redis/database snapshot ledger
//   - CloudWatch and Prometheus metrics
//
// Basic Usage:
//
//	worker, err := profileimages.New(
//	    profileimages.WithConfig(config.Load()),
//	    profileimages.WithQueues("profile-images-queue", "profile-images-retry-queue"),
//	    profileimages.WithS3Storage("profile-images-bucket", ""),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer worker.Close()
//
//	// Blocks until ctx is cancelled
//	err = worker.Run(ctx)
package profileimages

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/consumer"
	"github.com/decentraland/profile-images/internal/contracts"
	sqsdriver "github.com/decentraland/profile-images/internal/drivers/sqs"
	"github.com/decentraland/profile-images/internal/entities"
	"github.com/decentraland/profile-images/internal/metrics"
	"github.com/decentraland/profile-images/internal/processor"
	"github.com/decentraland/profile-images/internal/queue"
	"github.com/decentraland/profile-images/internal/renderer"
	"github.com/decentraland/profile-images/internal/storage"
	"github.com/decentraland/profile-images/pkg/catalyst"
	"github.com/decentraland/profile-images/pkg/events"
)

const cachePrefix = "profile-images"

// Worker is the main entry point. It owns the queue pair, the processing
// pipeline and the infrastructure clients they share.
type Worker struct {
	config      *config.Config
	options     *Options
	logger      zerolog.Logger
	redisClient *redis.Client
	ownsRedis   bool
	db          *gorm.DB
	ownsDB      bool
	s3Client    storage.S3API
	sqsAPI      sqsdriver.API

	resolver *sqsdriver.Resolver
	metrics  metrics.Provider
	ledger   *storage.Ledger

	mu        sync.RWMutex
	closed    bool
	mainQueue *queue.Component
	dlq       *queue.Component
	consumer  *consumer.Consumer
}

// New creates a worker with the provided options. Queues are resolved and
// the processing pipeline is built on first use, so administrative calls do
// not need renderer or storage settings.
//
// Example:
//
//	worker, err := profileimages.New(
//	    profileimages.WithAWSRegion("us-east-1"),
//	    profileimages.WithQueuePrefix("prod"),
//	    profileimages.WithRedis("localhost", 6379, "", 0),
//	    profileimages.WithContentServers("https://peer.decentraland.org"),
//	)
func New(opts ...Option) (*Worker, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.config
	cfg.Normalize()

	logger := options.logger
	if !options.loggerSet {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	w := &Worker{
		config:      cfg,
		options:     options,
		logger:      logger,
		redisClient: options.redisClient,
		db:          options.db,
	}

	ctx := context.Background()

	if w.redisClient == nil && cfg.Redis.Host != "" {
		w.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		w.ownsRedis = true
	}
	if w.redisClient != nil {
		if err := w.redisClient.Ping(ctx).Err(); err != nil {
			w.Close()
			return nil, fmt.Errorf("%w: %v", ErrRedisConnectionFailed, err)
		}
		logger.Info().Msg("Redis connection verified")
	}

	if w.db == nil && cfg.Database.Driver != "" {
		db, err := storage.OpenDatabase(cfg.Database)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.db = db
		w.ownsDB = true
	}

	var sqsAPI sqsdriver.API
	var cwAPI metrics.CloudWatchAPI

	needSQS := options.mainQueue == nil
	needCloudWatch := cfg.SQS.CloudWatch.Enabled
	needS3 := options.blobStorage == nil && cfg.Storage.Driver == "s3"

	if needSQS || needCloudWatch || needS3 {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			w.Close()
			return nil, err
		}

		// Custom endpoint for LocalStack, etc.
		endpoint := cfg.AWS.Endpoint
		if needSQS {
			sqsAPI = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
		}
		if needCloudWatch {
			cwAPI = cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			})
		}
		if needS3 {
			w.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
					o.UsePathStyle = true
				}
			})
		}
	}

	if sqsAPI != nil {
		var cache contracts.Cache
		if w.redisClient != nil {
			cache = storage.NewRedisCache(w.redisClient, cachePrefix)
		} else {
			cache = storage.NewMemoryCache()
		}
		w.sqsAPI = sqsAPI
		w.resolver = sqsdriver.NewResolver(sqsAPI, cfg, cache, logger)
	}

	factory := metrics.NewFactoryFromConfig(cfg, cwAPI, logger)
	if options.prometheusRegistry != nil {
		factory.WithPrometheusRegistry(options.prometheusRegistry)
	}
	provider, err := factory.Create()
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	w.metrics = provider

	w.ledger = storage.NewLedger(w.redisClient, w.db, logger)
	if w.db != nil {
		if err := w.ledger.AutoMigrate(); err != nil {
			logger.Warn().Err(err).Msg("Failed to auto-migrate ledger tables")
		}
	}

	logger.Debug().
		Str("queue", cfg.SQS.QueueName).
		Str("dlq", cfg.SQS.DLQName).
		Str("region", cfg.AWS.Region).
		Str("prefix", cfg.SQS.Prefix).
		Str("metrics", provider.Name()).
		Msg("Worker created")

	return w, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// Close releases the clients the worker created.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ownsRedis && w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if w.ownsDB && w.db != nil {
		if sqlDB, err := w.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return nil
}

// Config returns the effective configuration.
func (w *Worker) Config() *config.Config {
	return w.config
}

// Metrics returns the metrics provider the worker reports to.
func (w *Worker) Metrics() metrics.Provider {
	return w.metrics
}

// Run consumes both queues until ctx is cancelled. A cycle in progress when
// ctx is cancelled runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	c, err := w.pipeline(ctx)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// RunOnce performs a single poll and process cycle.
func (w *Worker) RunOnce(ctx context.Context) (consumer.Summary, error) {
	c, err := w.pipeline(ctx)
	if err != nil {
		return consumer.Summary{}, err
	}
	return c.RunOnce(ctx)
}

// Status returns the counters of the main queue and, when configured, the
// DLQ. The queue depth gauges are refreshed as a side effect.
func (w *Worker) Status(ctx context.Context) (contracts.WorkerStatus, error) {
	mainQueue, dlq, err := w.queues(ctx)
	if err != nil {
		return contracts.WorkerStatus{}, err
	}

	mainStatus, err := mainQueue.Status(ctx)
	if err != nil {
		return contracts.WorkerStatus{}, fmt.Errorf("failed to get main queue status: %w", err)
	}
	w.recordQueueGauges(ctx, consumer.SourceMain, mainStatus)

	report := contracts.WorkerStatus{
		Main: contracts.QueueReport{Name: mainQueue.Name(), Status: mainStatus},
	}

	if dlq != nil {
		dlqStatus, err := dlq.Status(ctx)
		if err != nil {
			return contracts.WorkerStatus{}, fmt.Errorf("failed to get DLQ status: %w", err)
		}
		w.recordQueueGauges(ctx, consumer.SourceDLQ, dlqStatus)
		report.DLQ = &contracts.QueueReport{Name: dlq.Name(), Status: dlqStatus}
	}

	return report, nil
}

func (w *Worker) recordQueueGauges(ctx context.Context, source consumer.Source, status contracts.QueueStatus) {
	w.metrics.SetQueueDepth(ctx, string(source), float64(status.ApproximateNumberOfMessages))
	w.metrics.SetQueueInFlight(ctx, string(source), float64(status.ApproximateNumberOfMessagesNotVisible))
}

// Send publishes a deployment event for entity to the main queue and
// returns the message id.
//
// Example:
//
//	id, err := worker.Send(ctx, catalyst.Entity{ID: "bafy...", Type: catalyst.EntityTypeProfile})
func (w *Worker) Send(ctx context.Context, entity catalyst.Entity) (string, error) {
	if entity.ID == "" {
		return "", ErrMissingEntityID
	}
	mainQueue, _, err := w.queues(ctx)
	if err != nil {
		return "", err
	}
	return mainQueue.SendMessage(ctx, events.Wrap(entity))
}

// EnsureQueues creates the DLQ and the main queue with a redrive policy
// pointing at it, and returns both URLs.
func (w *Worker) EnsureQueues(ctx context.Context) (mainURL, dlqURL string, err error) {
	if err := w.checkClosed(); err != nil {
		return "", "", err
	}
	if w.resolver == nil {
		return "", "", ErrSQSNotConfigured
	}
	if w.config.SQS.QueueName == "" || w.config.SQS.DLQName == "" {
		return "", "", ErrQueueNotConfigured
	}

	mainURL, dlqURL, err = w.resolver.CreateQueueWithDLQ(ctx, w.config.SQS.QueueName, w.config.SQS.DLQName)
	if err != nil {
		return "", "", fmt.Errorf("failed to ensure queues: %w", err)
	}
	return mainURL, dlqURL, nil
}

// InspectDLQ returns up to limit DLQ messages without deleting them. The
// messages stay visible to consumers, but each receive increments their
// ApproximateReceiveCount: inspecting a message consumes one of the
// MaxDLQRetries receives it gets before the worker drops it.
func (w *Worker) InspectDLQ(ctx context.Context, limit int) ([]Message, error) {
	_, dlq, err := w.queues(ctx)
	if err != nil {
		return nil, err
	}
	if dlq == nil {
		return nil, ErrDLQNotConfigured
	}

	visibility, wait := 0, 0
	seen := make(map[string]bool)
	var result []Message

	for len(result) < limit {
		batch, err := dlq.ReceiveMessages(ctx, queue.ReceiveOptions{
			MaxNumberOfMessages: min(limit-len(result), config.MaxBatchSize),
			VisibilityTimeout:   &visibility,
			WaitTimeSeconds:     &wait,
			AttributeNames:      []string{contracts.AttributeApproximateReceiveCount, contracts.AttributeSentTimestamp},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to receive DLQ messages: %w", err)
		}

		fresh := 0
		for _, m := range batch {
			if seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			result = append(result, m)
			fresh++
		}
		if fresh == 0 {
			break
		}
	}
	return result, nil
}

// ReplayDLQ moves up to limit messages from the DLQ back to the main queue.
// A message is deleted from the DLQ only after it was sent.
func (w *Worker) ReplayDLQ(ctx context.Context, limit int) (int, error) {
	mainQueue, dlq, err := w.queues(ctx)
	if err != nil {
		return 0, err
	}
	if dlq == nil {
		return 0, ErrDLQNotConfigured
	}

	wait := 0
	replayed := 0
	for replayed < limit {
		batch, err := dlq.ReceiveMessages(ctx, queue.ReceiveOptions{
			MaxNumberOfMessages: min(limit-replayed, config.MaxBatchSize),
			VisibilityTimeout:   &w.config.SQS.VisibilityTimeout,
			WaitTimeSeconds:     &wait,
		})
		if err != nil {
			return replayed, fmt.Errorf("failed to receive DLQ messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, msg := range batch {
			if _, err := mainQueue.SendRaw(ctx, msg.Body); err != nil {
				w.logger.Error().
					Str("message_id", msg.MessageID).
					Err(err).
					Msg("Failed to replay message")
				continue
			}
			if err := dlq.DeleteMessage(ctx, msg.ReceiptHandle); err != nil {
				w.logger.Error().
					Str("message_id", msg.MessageID).
					Err(err).
					Msg("Replayed message could not be deleted from DLQ")
			}
			replayed++
		}
	}
	return replayed, nil
}

// TestConnection resolves both queues and reads their attributes.
func (w *Worker) TestConnection(ctx context.Context) error {
	_, err := w.Status(ctx)
	return err
}

// CleanupFailures removes render failure records older than olderThanDays.
func (w *Worker) CleanupFailures(ctx context.Context, olderThanDays int) (int64, error) {
	if err := w.checkClosed(); err != nil {
		return 0, err
	}
	if w.db == nil {
		return 0, ErrDatabaseNotConfigured
	}
	return w.ledger.Cleanup(ctx, olderThanDays)
}

// PrometheusHandler returns the HTTP handler for Prometheus metrics, or nil
// when Prometheus metrics are disabled.
//
// Example:
//
//	http.Handle("/metrics", worker.PrometheusHandler())
func (w *Worker) PrometheusHandler() http.Handler {
	if p, ok := w.metrics.(metrics.HTTPProvider); ok {
		return p.Handler()
	}
	return nil
}

// PrometheusEnabled returns true if Prometheus metrics are enabled.
func (w *Worker) PrometheusEnabled() bool {
	return w.PrometheusHandler() != nil
}

func (w *Worker) checkClosed() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	return nil
}

// queues resolves the queue pair once. dlq is nil when no DLQ is configured.
func (w *Worker) queues(ctx context.Context) (*queue.Component, *queue.Component, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, nil, ErrWorkerClosed
	}
	if w.mainQueue != nil {
		return w.mainQueue, w.dlq, nil
	}

	if w.options.mainQueue != nil {
		w.mainQueue = queue.NewComponent(w.options.mainQueue, w.logger)
		if w.options.dlq != nil {
			w.dlq = queue.NewComponent(w.options.dlq, w.logger)
		}
		return w.mainQueue, w.dlq, nil
	}

	if w.config.SQS.QueueName == "" {
		return nil, nil, ErrQueueNotConfigured
	}

	mainClient, err := w.resolveQueue(ctx, w.config.SQS.QueueName)
	if err != nil {
		return nil, nil, err
	}

	var dlq *queue.Component
	if w.config.SQS.DLQName != "" {
		dlqClient, err := w.resolveQueue(ctx, w.config.SQS.DLQName)
		if err != nil {
			return nil, nil, err
		}
		dlq = queue.NewComponent(dlqClient, w.logger)
	}

	w.mainQueue = queue.NewComponent(mainClient, w.logger)
	w.dlq = dlq
	return w.mainQueue, w.dlq, nil
}

func (w *Worker) resolveQueue(ctx context.Context, name string) (*sqsdriver.Client, error) {
	url, err := w.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve queue %s: %w", name, err)
	}
	return sqsdriver.NewClient(w.sqsAPI, w.config.GetPrefixedQueueName(name), url, w.logger), nil
}

// pipeline builds the consumer and its collaborators once.
func (w *Worker) pipeline(ctx context.Context) (*consumer.Consumer, error) {
	mainQueue, dlq, err := w.queues(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.consumer != nil {
		return w.consumer, nil
	}

	cfg := w.config

	fetcher := w.options.fetcher
	if fetcher == nil {
		if len(cfg.ContentServer.URLs) == 0 {
			return nil, ErrNoContentServers
		}
		fetcher = entities.NewFetcher(cfg.ContentServer.URLs, cfg.ContentServer.Timeout, w.logger)
	}

	render := w.options.renderer
	if render == nil {
		if cfg.Renderer.Command == "" {
			return nil, ErrRendererNotConfigured
		}
		render = renderer.NewExec(cfg.Renderer, w.logger)
	}

	blobs, err := w.blobStorage()
	if err != nil {
		return nil, err
	}

	proc := processor.New(render, blobs, w.ledger, cfg.Storage.Prefix, w.logger)

	w.consumer = consumer.New(mainQueue, dlq, fetcher, proc, w.metrics, consumer.Options{
		MainBatchSize:      cfg.SQS.MainBatchSize,
		DLQBatchSize:       cfg.SQS.DLQBatchSize,
		VisibilityTimeout:  cfg.SQS.VisibilityTimeout,
		WaitTimeSeconds:    cfg.SQS.WaitTimeSeconds,
		DLQWaitTimeSeconds: cfg.SQS.DLQWaitTimeSeconds,
		MaxDLQRetries:      cfg.SQS.MaxDLQRetries,
		FetchOptions: contracts.FetchOptions{
			Retries:  cfg.ContentServer.Retries,
			WaitTime: cfg.ContentServer.WaitTime,
		},
		Backoff: consumer.BackoffConfig{
			InitialDelay: w.options.errorBackoff.initialDelay,
			MaxDelay:     w.options.errorBackoff.maxDelay,
			Multiplier:   w.options.errorBackoff.multiplier,
		},
	}, w.logger)

	return w.consumer, nil
}

func (w *Worker) blobStorage() (contracts.BlobStorage, error) {
	if w.options.blobStorage != nil {
		return w.options.blobStorage, nil
	}

	switch w.config.Storage.Driver {
	case "s3":
		if w.config.Storage.Bucket == "" {
			return nil, ErrStorageNotConfigured
		}
		return storage.NewS3Storage(w.s3Client, w.config.Storage.Bucket), nil
	case "local":
		if w.config.Storage.LocalDir == "" {
			return nil, ErrStorageNotConfigured
		}
		return storage.NewLocalStorage(w.config.Storage.LocalDir), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrStorageNotConfigured, w.config.Storage.Driver)
	}
}
