// Package config provides configuration management for the profile images worker.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SQS limits
const (
	MaxBatchSize       = 10
	MaxWaitTimeSeconds = 20
)

// Config holds all configuration for the worker
type Config struct {
	SQS           SQSConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	ContentServer ContentServerConfig
	Storage       StorageConfig
	Renderer      RendererConfig
	Server        ServerConfig
}

// SQSConfig holds the queue pair and polling settings
type SQSConfig struct {
	// Prefix for queue names (usually environment like dev, staging, prod)
	Prefix string `json:"prefix" yaml:"prefix"`
	// QueueName is the main queue name or URL
	QueueName string `json:"queue_name" yaml:"queue_name"`
	// DLQName is the dead-letter/retry queue name or URL
	DLQName string `json:"dlq_name" yaml:"dlq_name"`
	// AutoEnsure creates missing queues on resolution
	AutoEnsure bool `json:"auto_ensure" yaml:"auto_ensure"`
	// VisibilityTimeout is the receive visibility timeout in seconds
	VisibilityTimeout int `json:"visibility_timeout" yaml:"visibility_timeout"`
	// WaitTimeSeconds is the long polling wait for the main queue
	WaitTimeSeconds int `json:"wait_time_seconds" yaml:"wait_time_seconds"`
	// DLQWaitTimeSeconds is the long polling wait for the DLQ
	DLQWaitTimeSeconds int `json:"dlq_wait_time_seconds" yaml:"dlq_wait_time_seconds"`
	MainBatchSize      int `json:"main_batch_size" yaml:"main_batch_size"`
	DLQBatchSize       int `json:"dlq_batch_size" yaml:"dlq_batch_size"`
	// MaxDLQRetries is the receive count at which DLQ messages are dropped
	MaxDLQRetries int `json:"max_dlq_retries" yaml:"max_dlq_retries"`
	// MessageRetention is the message retention period in days
	MessageRetention int `json:"message_retention" yaml:"message_retention"`
	// RedriveMaxReceiveCount is the main queue redrive threshold used when creating queues
	RedriveMaxReceiveCount int              `json:"redrive_max_receive_count" yaml:"redrive_max_receive_count"`
	CloudWatch             CloudWatchConfig `json:"cloudwatch" yaml:"cloudwatch"`
	Prometheus             PrometheusConfig `json:"prometheus" yaml:"prometheus"`
}

// CloudWatchConfig holds CloudWatch metrics settings
type CloudWatchConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// PrometheusConfig holds Prometheus metrics settings
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
}

// AWSConfig holds AWS credentials and region
type AWSConfig struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Region          string `json:"region" yaml:"region"`
	// Endpoint overrides the AWS endpoint (LocalStack, etc.)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// RedisConfig holds Redis connection settings. An empty Host disables Redis.
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DatabaseConfig holds database connection settings. An empty Driver disables the database.
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // mysql, postgres
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// ContentServerConfig holds the catalyst content servers used to resolve entities
type ContentServerConfig struct {
	URLs     []string      `json:"urls" yaml:"urls"`
	Retries  int           `json:"retries" yaml:"retries"`
	WaitTime time.Duration `json:"wait_time" yaml:"wait_time"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// StorageConfig selects where rendered snapshots are written
type StorageConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // s3, local
	Bucket   string `json:"bucket" yaml:"bucket"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	LocalDir string `json:"local_dir" yaml:"local_dir"`
}

// RendererConfig holds the external renderer command settings
type RendererConfig struct {
	Command string        `json:"command" yaml:"command"`
	Args    []string      `json:"args" yaml:"args"`
	WorkDir string        `json:"work_dir" yaml:"work_dir"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
}

// ServerConfig holds the admin HTTP server settings
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SQS: SQSConfig{
			Prefix:                 "",
			QueueName:              "profile-images-queue",
			DLQName:                "profile-images-retry-queue",
			AutoEnsure:             false,
			VisibilityTimeout:      60,
			WaitTimeSeconds:        20,
			DLQWaitTimeSeconds:     0,
			MainBatchSize:          10,
			DLQBatchSize:           1,
			MaxDLQRetries:          5,
			MessageRetention:       14,
			RedriveMaxReceiveCount: 3,
			CloudWatch: CloudWatchConfig{
				Enabled:   false,
				Namespace: "ProfileImages",
			},
			Prometheus: PrometheusConfig{
				Enabled:   true,
				Namespace: "profile_images",
			},
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Redis: RedisConfig{
			Port: 6379,
		},
		Database: DatabaseConfig{
			Port:     5432,
			Database: "profile_images",
		},
		ContentServer: ContentServerConfig{
			URLs:     []string{"https://peer.decentraland.org"},
			Retries:  3,
			WaitTime: time.Second,
			Timeout:  10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   "s3",
			LocalDir: "./snapshots",
		},
		Renderer: RendererConfig{
			Command: "godot",
			WorkDir: "",
			Timeout: 2 * time.Minute,
			BaseURL: "https://peer.decentraland.org/content/",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// GetPrefixedQueueName returns the queue name with environment prefix
func (c *Config) GetPrefixedQueueName(queueName string) string {
	if c.SQS.Prefix == "" || IsQueueURL(queueName) {
		return queueName
	}
	return c.SQS.Prefix + "-" + queueName
}

// IsQueueURL reports whether a queue identifier is already a full URL
func IsQueueURL(queue string) bool {
	return strings.HasPrefix(queue, "https://") || strings.HasPrefix(queue, "http://")
}

// GetVisibilityTimeout returns the visibility timeout as a duration
func (c *Config) GetVisibilityTimeout() time.Duration {
	return time.Duration(c.SQS.VisibilityTimeout) * time.Second
}

// GetWaitTime returns the main queue long polling wait time as a duration
func (c *Config) GetWaitTime() time.Duration {
	return time.Duration(c.SQS.WaitTimeSeconds) * time.Second
}

// Normalize clamps polling settings to the SQS limits
func (c *Config) Normalize() {
	c.SQS.MainBatchSize = clamp(c.SQS.MainBatchSize, 1, MaxBatchSize)
	c.SQS.DLQBatchSize = clamp(c.SQS.DLQBatchSize, 1, MaxBatchSize)
	c.SQS.WaitTimeSeconds = clamp(c.SQS.WaitTimeSeconds, 0, MaxWaitTimeSeconds)
	c.SQS.DLQWaitTimeSeconds = clamp(c.SQS.DLQWaitTimeSeconds, 0, MaxWaitTimeSeconds)
	if c.SQS.MaxDLQRetries < 1 {
		c.SQS.MaxDLQRetries = 1
	}
	if c.ContentServer.Retries < 0 {
		c.ContentServer.Retries = 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Helper functions using Viper

func getViperString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getViperBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

func getViperInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

func getViperDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return defaultValue
}

func getViperList(key string, defaultValue []string) []string {
	raw := getViperString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// LoadDotEnv loads environment variables from .env file using Viper
func LoadDotEnv() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")

	viper.AutomaticEnv()

	// Read .env file - it's okay if it doesn't exist
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load loads configuration from .env file and environment variables
func Load() *Config {
	_ = LoadDotEnv()
	return LoadFromViper()
}

// LoadFromViper loads configuration from Viper (after .env is loaded)
func LoadFromViper() *Config {
	cfg := DefaultConfig()

	// AWS config
	cfg.AWS.AccessKeyID = getViperString("AWS_ACCESS_KEY_ID", cfg.AWS.AccessKeyID)
	cfg.AWS.SecretAccessKey = getViperString("AWS_SECRET_ACCESS_KEY", cfg.AWS.SecretAccessKey)
	cfg.AWS.Region = getViperString("AWS_REGION", cfg.AWS.Region)
	cfg.AWS.Endpoint = getViperString("AWS_ENDPOINT", cfg.AWS.Endpoint)

	// SQS config
	cfg.SQS.Prefix = getViperString("SQS_QUEUE_PREFIX", cfg.SQS.Prefix)
	cfg.SQS.QueueName = getViperString("SQS_QUEUE_NAME", cfg.SQS.QueueName)
	cfg.SQS.DLQName = getViperString("SQS_DLQ_NAME", cfg.SQS.DLQName)
	cfg.SQS.AutoEnsure = getViperBool("SQS_AUTO_ENSURE", cfg.SQS.AutoEnsure)
	cfg.SQS.VisibilityTimeout = getViperInt("SQS_VISIBILITY_TIMEOUT", cfg.SQS.VisibilityTimeout)
	cfg.SQS.WaitTimeSeconds = getViperInt("SQS_WAIT_TIME_SECONDS", cfg.SQS.WaitTimeSeconds)
	cfg.SQS.DLQWaitTimeSeconds = getViperInt("SQS_DLQ_WAIT_TIME_SECONDS", cfg.SQS.DLQWaitTimeSeconds)
	cfg.SQS.MainBatchSize = getViperInt("SQS_MAIN_BATCH_SIZE", cfg.SQS.MainBatchSize)
	cfg.SQS.DLQBatchSize = getViperInt("SQS_DLQ_BATCH_SIZE", cfg.SQS.DLQBatchSize)
	cfg.SQS.MaxDLQRetries = getViperInt("SQS_MAX_DLQ_RETRIES", cfg.SQS.MaxDLQRetries)
	cfg.SQS.MessageRetention = getViperInt("SQS_MESSAGE_RETENTION", cfg.SQS.MessageRetention)
	cfg.SQS.RedriveMaxReceiveCount = getViperInt("SQS_REDRIVE_MAX_RECEIVE_COUNT", cfg.SQS.RedriveMaxReceiveCount)

	// Metrics
	cfg.SQS.CloudWatch.Enabled = getViperBool("SQS_CLOUDWATCH_ENABLED", cfg.SQS.CloudWatch.Enabled)
	cfg.SQS.CloudWatch.Namespace = getViperString("SQS_CLOUDWATCH_NAMESPACE", cfg.SQS.CloudWatch.Namespace)
	cfg.SQS.Prometheus.Enabled = getViperBool("PROMETHEUS_ENABLED", cfg.SQS.Prometheus.Enabled)
	cfg.SQS.Prometheus.Namespace = getViperString("PROMETHEUS_NAMESPACE", cfg.SQS.Prometheus.Namespace)

	// Redis config
	cfg.Redis.Host = getViperString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getViperInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getViperString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getViperInt("REDIS_DB", cfg.Redis.DB)

	// Database config
	cfg.Database.Driver = getViperString("DB_CONNECTION", cfg.Database.Driver)
	cfg.Database.Host = getViperString("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getViperInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Database = getViperString("DB_DATABASE", cfg.Database.Database)
	cfg.Database.Username = getViperString("DB_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getViperString("DB_PASSWORD", cfg.Database.Password)

	// Content servers
	cfg.ContentServer.URLs = getViperList("CONTENT_SERVER_URLS", cfg.ContentServer.URLs)
	cfg.ContentServer.Retries = getViperInt("CONTENT_SERVER_RETRIES", cfg.ContentServer.Retries)
	cfg.ContentServer.WaitTime = getViperDuration("CONTENT_SERVER_WAIT_TIME", cfg.ContentServer.WaitTime)
	cfg.ContentServer.Timeout = getViperDuration("CONTENT_SERVER_TIMEOUT", cfg.ContentServer.Timeout)

	// Storage
	cfg.Storage.Driver = getViperString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Bucket = getViperString("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = getViperString("STORAGE_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.LocalDir = getViperString("STORAGE_LOCAL_DIR", cfg.Storage.LocalDir)

	// Renderer
	cfg.Renderer.Command = getViperString("RENDERER_COMMAND", cfg.Renderer.Command)
	if args := getViperString("RENDERER_ARGS", ""); args != "" {
		cfg.Renderer.Args = strings.Fields(args)
	}
	cfg.Renderer.WorkDir = getViperString("RENDERER_WORK_DIR", cfg.Renderer.WorkDir)
	cfg.Renderer.Timeout = getViperDuration("RENDERER_TIMEOUT", cfg.Renderer.Timeout)
	cfg.Renderer.BaseURL = getViperString("RENDERER_BASE_URL", cfg.Renderer.BaseURL)

	cfg.Server.Addr = getViperString("SERVER_ADDR", cfg.Server.Addr)

	cfg.Normalize()
	return cfg
}
