package profileimages

import (
	"github.com/decentraland/profile-images/internal/metrics"
)

// Re-export metrics types for convenience

// MetricsProvider is the unified interface for all metrics providers.
type MetricsProvider = metrics.Provider

// HTTPMetricsProvider is an optional interface for providers that expose HTTP handlers.
type HTTPMetricsProvider = metrics.HTTPProvider

// CollectorMetricsProvider is an optional interface for providers that expose Prometheus collectors.
type CollectorMetricsProvider = metrics.CollectorProvider

// MetricsProviderType represents the type of metrics provider.
type MetricsProviderType = metrics.ProviderType

// Metrics provider type constants
const (
	MetricsProviderCloudWatch = metrics.ProviderTypeCloudWatch
	MetricsProviderPrometheus = metrics.ProviderTypePrometheus
	MetricsProviderNoop       = metrics.ProviderTypeNoop
	MetricsProviderComposite  = metrics.ProviderTypeComposite
)

// Metric names
const (
	MetricRenderOutcomes     = metrics.MetricRenderOutcomes
	MetricValidationErrors   = metrics.MetricValidationErrors
	MetricDroppedMessages    = metrics.MetricDroppedMessages
	MetricRetriedMessages    = metrics.MetricRetriedMessages
	MetricPublicationLatency = metrics.MetricPublicationLatency
	MetricCycleDuration      = metrics.MetricCycleDuration
	MetricQueueDepth         = metrics.MetricQueueDepth
	MetricQueueInFlight      = metrics.MetricQueueInFlight
)

// Drop reasons reported on the dropped messages metric
const (
	DropUnresolvableEntity = metrics.DropUnresolvableEntity
	DropPermanentFailure   = metrics.DropPermanentFailure
	DropRetriesExhausted   = metrics.DropRetriesExhausted
)
