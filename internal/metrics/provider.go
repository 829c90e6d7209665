// Package metrics provides metrics integration for the profile images worker
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Render outcome statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Drop reasons for messages deleted without a successful render
const (
	DropUnresolvableEntity = "unresolvable_entity"
	DropPermanentFailure   = "permanent_failure"
	DropRetriesExhausted   = "retries_exhausted"
)

// Metric names used by the generic PutMetric path
const (
	MetricRenderOutcomes     = "render_outcomes"
	MetricValidationErrors   = "validation_errors"
	MetricDroppedMessages    = "dropped_messages"
	MetricRetriedMessages    = "retried_messages"
	MetricPublicationLatency = "publication_latency"
	MetricCycleDuration      = "cycle_duration"
	MetricQueueDepth         = "queue_depth"
	MetricQueueInFlight      = "queue_in_flight"
)

// Provider defines the unified interface for all metrics providers.
// Implementations include CloudWatch, Prometheus, Noop, and Composite providers.
type Provider interface {
	// Core metrics methods
	PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error
	Increment(ctx context.Context, name string, dimensions map[string]string) error
	RecordDuration(ctx context.Context, name string, seconds float64, dimensions map[string]string) error

	// Message outcomes
	IncRenderOutcome(ctx context.Context, queue, status string)
	IncValidationErrors(ctx context.Context, queue, reason string)
	IncDroppedMessages(ctx context.Context, queue, reason string)
	IncRetriedMessages(ctx context.Context, queue string)

	// Durations, in seconds
	ObservePublicationLatency(ctx context.Context, queue string, seconds float64)
	ObserveCycleDuration(ctx context.Context, queue string, seconds float64)

	// Gauges
	SetQueueDepth(ctx context.Context, queue string, depth float64)
	SetQueueInFlight(ctx context.Context, queue string, count float64)

	// Provider info
	Name() string
	Enabled() bool
}

// HTTPProvider is an optional interface for providers that expose HTTP handlers (e.g., Prometheus)
type HTTPProvider interface {
	Provider
	Handler() http.Handler
}

// CollectorProvider is an optional interface for providers that expose Prometheus collectors
type CollectorProvider interface {
	Provider
	Collectors() []prometheus.Collector
	Register() error
}

// ProviderType represents the type of metrics provider
type ProviderType string

const (
	ProviderTypeCloudWatch ProviderType = "cloudwatch"
	ProviderTypePrometheus ProviderType = "prometheus"
	ProviderTypeNoop       ProviderType = "noop"
	ProviderTypeComposite  ProviderType = "composite"
)
