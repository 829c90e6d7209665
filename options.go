package profileimages

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/contracts"
)

// Option is a function that configures the Worker.
type Option func(*Options)

// Options holds the configuration options for the Worker.
type Options struct {
	config             *config.Config
	logger             zerolog.Logger
	loggerSet          bool
	redisClient        *redis.Client
	db                 *gorm.DB
	prometheusRegistry prometheus.Registerer
	errorBackoff       errorBackoffConfig

	// Collaborators that replace the ones built from config
	mainQueue   contracts.QueueClient
	dlq         contracts.QueueClient
	fetcher     contracts.EntityFetcher
	renderer    contracts.Renderer
	blobStorage contracts.BlobStorage
}

// errorBackoffConfig configures exponential backoff after failed cycles
type errorBackoffConfig struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func defaultOptions() *Options {
	return &Options{
		config: config.DefaultConfig(),
		errorBackoff: errorBackoffConfig{
			initialDelay: time.Second,
			maxDelay:     30 * time.Second,
			multiplier:   2.0,
		},
	}
}

// WithConfig replaces the whole configuration, typically the result of
// config.Load(). Pass it before any option that adjusts single settings.
//
// Example:
//
//	worker, err := profileimages.New(
//	    profileimages.WithConfig(config.Load()),
//	    profileimages.WithMaxDLQRetries(3),
//	)
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithAWSCredentials sets the AWS access key and secret key.
// If not set, the default AWS credential chain will be used.
func WithAWSCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *Options) {
		o.config.AWS.AccessKeyID = accessKeyID
		o.config.AWS.SecretAccessKey = secretAccessKey
	}
}

// WithAWSRegion sets the AWS region.
func WithAWSRegion(region string) Option {
	return func(o *Options) {
		o.config.AWS.Region = region
	}
}

// WithAWSEndpoint sets a custom AWS endpoint (useful for LocalStack).
//
// Example:
//
//	profileimages.WithAWSEndpoint("http://localhost:4566")
func WithAWSEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.config.AWS.Endpoint = endpoint
	}
}

// WithQueuePrefix sets the queue name prefix (usually environment like dev, staging, prod).
func WithQueuePrefix(prefix string) Option {
	return func(o *Options) {
		o.config.SQS.Prefix = prefix
	}
}

// WithQueues sets the main queue and the DLQ. Both accept a queue name or a
// full queue URL. An empty dlq disables DLQ polling.
//
// Example:
//
//	profileimages.WithQueues("profile-images-queue", "profile-images-retry-queue")
func WithQueues(main, dlq string) Option {
	return func(o *Options) {
		o.config.SQS.QueueName = main
		o.config.SQS.DLQName = dlq
	}
}

// WithAutoEnsure creates missing queues when they are resolved.
func WithAutoEnsure(enabled bool) Option {
	return func(o *Options) {
		o.config.SQS.AutoEnsure = enabled
	}
}

// WithVisibilityTimeout sets the visibility timeout in seconds for received messages.
func WithVisibilityTimeout(seconds int) Option {
	return func(o *Options) {
		o.config.SQS.VisibilityTimeout = seconds
	}
}

// WithLongPollingWait sets the long polling wait time in seconds for the
// main queue and the DLQ. Values are clamped to 0..20 when the worker is built.
func WithLongPollingWait(mainSeconds, dlqSeconds int) Option {
	return func(o *Options) {
		o.config.SQS.WaitTimeSeconds = mainSeconds
		o.config.SQS.DLQWaitTimeSeconds = dlqSeconds
	}
}

// WithBatchSizes sets how many messages are received per poll from the main
// queue and the DLQ. Values are clamped to 1..10 when the worker is built.
func WithBatchSizes(main, dlq int) Option {
	return func(o *Options) {
		o.config.SQS.MainBatchSize = main
		o.config.SQS.DLQBatchSize = dlq
	}
}

// WithMaxDLQRetries sets the receive count at which a failing DLQ message is dropped.
func WithMaxDLQRetries(retries int) Option {
	return func(o *Options) {
		o.config.SQS.MaxDLQRetries = retries
	}
}

// WithRedis configures Redis for queue URL caching and the snapshot ledger.
//
// Example:
//
//	profileimages.WithRedis("localhost", 6379, "", 0)
func WithRedis(host string, port int, password string, db int) Option {
	return func(o *Options) {
		o.config.Redis.Host = host
		o.config.Redis.Port = port
		o.config.Redis.Password = password
		o.config.Redis.DB = db
	}
}

// WithRedisClient sets an existing Redis client.
// The worker does not close a client it did not create.
func WithRedisClient(client *redis.Client) Option {
	return func(o *Options) {
		o.redisClient = client
	}
}

// WithDatabase sets the GORM database used for the durable snapshot ledger.
//
// Example:
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	profileimages.WithDatabase(db)
func WithDatabase(db *gorm.DB) Option {
	return func(o *Options) {
		o.db = db
	}
}

// WithLogger sets a custom zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.logger = logger
		o.loggerSet = true
	}
}

// WithCloudWatchMetrics enables CloudWatch metrics with the given namespace.
func WithCloudWatchMetrics(namespace string) Option {
	return func(o *Options) {
		o.config.SQS.CloudWatch.Enabled = true
		if namespace != "" {
			o.config.SQS.CloudWatch.Namespace = namespace
		}
	}
}

// WithPrometheusMetrics enables Prometheus metrics. Empty namespace or
// subsystem keep the configured values.
//
// Example:
//
//	worker, _ := profileimages.New(profileimages.WithPrometheusMetrics("profile_images", ""))
//	http.Handle("/metrics", worker.PrometheusHandler())
func WithPrometheusMetrics(namespace, subsystem string) Option {
	return func(o *Options) {
		o.config.SQS.Prometheus.Enabled = true
		if namespace != "" {
			o.config.SQS.Prometheus.Namespace = namespace
		}
		if subsystem != "" {
			o.config.SQS.Prometheus.Subsystem = subsystem
		}
	}
}

// WithoutPrometheusMetrics disables the Prometheus provider.
func WithoutPrometheusMetrics() Option {
	return func(o *Options) {
		o.config.SQS.Prometheus.Enabled = false
	}
}

// WithPrometheusRegistry registers the worker collectors on registry instead
// of the default registerer.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(o *Options) {
		o.prometheusRegistry = registry
	}
}

// WithContentServers sets the catalyst content servers used to resolve entities.
func WithContentServers(urls ...string) Option {
	return func(o *Options) {
		o.config.ContentServer.URLs = urls
	}
}

// WithLocalStorage writes snapshots under dir instead of S3.
func WithLocalStorage(dir string) Option {
	return func(o *Options) {
		o.config.Storage.Driver = "local"
		o.config.Storage.LocalDir = dir
	}
}

// WithS3Storage writes snapshots to bucket, under prefix.
func WithS3Storage(bucket, prefix string) Option {
	return func(o *Options) {
		o.config.Storage.Driver = "s3"
		o.config.Storage.Bucket = bucket
		o.config.Storage.Prefix = prefix
	}
}

// WithRendererCommand sets the external renderer command. An argument equal
// to "{avatars}" is replaced by the job file path; otherwise the path is
// appended.
func WithRendererCommand(command string, args ...string) Option {
	return func(o *Options) {
		o.config.Renderer.Command = command
		o.config.Renderer.Args = args
	}
}

// WithErrorBackoff configures exponential backoff applied after failed cycles.
// Defaults: initialDelay=1s, maxDelay=30s, multiplier=2.0
//
// Example:
//
//	profileimages.WithErrorBackoff(500*time.Millisecond, time.Minute, 2.0)
func WithErrorBackoff(initialDelay, maxDelay time.Duration, multiplier float64) Option {
	return func(o *Options) {
		if initialDelay > 0 {
			o.errorBackoff.initialDelay = initialDelay
		}
		if maxDelay > 0 {
			o.errorBackoff.maxDelay = maxDelay
		}
		if multiplier >= 1 {
			o.errorBackoff.multiplier = multiplier
		}
	}
}

// WithQueueClients replaces the SQS-backed queues with the given clients.
// dlq may be nil.
func WithQueueClients(main, dlq contracts.QueueClient) Option {
	return func(o *Options) {
		o.mainQueue = main
		o.dlq = dlq
	}
}

// WithEntityFetcher replaces the content-server fetcher.
func WithEntityFetcher(fetcher contracts.EntityFetcher) Option {
	return func(o *Options) {
		o.fetcher = fetcher
	}
}

// WithRenderer replaces the external command renderer.
func WithRenderer(renderer contracts.Renderer) Option {
	return func(o *Options) {
		o.renderer = renderer
	}
}

// WithBlobStorage replaces the configured snapshot storage.
func WithBlobStorage(storage contracts.BlobStorage) Option {
	return func(o *Options) {
		o.blobStorage = storage
	}
}
