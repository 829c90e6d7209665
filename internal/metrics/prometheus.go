package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PrometheusProvider handles exposing metrics to Prometheus
type PrometheusProvider struct {
	logger    zerolog.Logger
	namespace string
	subsystem string
	enabled   bool

	// Custom registry (if provided)
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	// Counters
	renderOutcomes   *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	droppedMessages  *prometheus.CounterVec
	retriedMessages  *prometheus.CounterVec

	// Gauges
	queueDepth    *prometheus.GaugeVec
	queueInFlight *prometheus.GaugeVec

	// Histograms
	publicationLatency *prometheus.HistogramVec
	cycleDuration      *prometheus.HistogramVec

	registered bool
	mu         sync.Mutex
}

// PrometheusConfig holds configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool                  // Whether Prometheus metrics are enabled
	Namespace string                // Metric namespace (e.g., "profile_images")
	Subsystem string                // Metric subsystem (optional)
	Registry  prometheus.Registerer // Custom registry (optional, defaults to prometheus.DefaultRegisterer)
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider(logger zerolog.Logger, cfg PrometheusConfig) *PrometheusProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "profile_images"
	}

	s := &PrometheusProvider{
		logger:    logger,
		namespace: cfg.Namespace,
		subsystem: cfg.Subsystem,
		registry:  cfg.Registry,
		enabled:   cfg.Enabled,
	}

	if reg, ok := cfg.Registry.(*prometheus.Registry); ok {
		s.gatherer = reg
	}

	s.initMetrics()
	return s
}

var (
	_ Provider          = (*PrometheusProvider)(nil)
	_ HTTPProvider      = (*PrometheusProvider)(nil)
	_ CollectorProvider = (*PrometheusProvider)(nil)
)

// Name returns the provider name
func (s *PrometheusProvider) Name() string {
	return string(ProviderTypePrometheus)
}

// Enabled returns whether Prometheus metrics are enabled
func (s *PrometheusProvider) Enabled() bool {
	return s.enabled
}

func (s *PrometheusProvider) initMetrics() {
	s.renderOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "render_outcomes_total",
			Help:      "Total number of processed entities by outcome",
		},
		[]string{"queue", "status"},
	)

	s.validationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "validation_errors_total",
			Help:      "Total number of rejected queue messages",
		},
		[]string{"queue", "reason"},
	)

	s.droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "dropped_messages_total",
			Help:      "Total number of messages deleted without a successful render",
		},
		[]string{"queue", "reason"},
	)

	s.retriedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "retried_messages_total",
			Help:      "Total number of messages left on the queue for redelivery",
		},
		[]string{"queue"},
	)

	s.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "queue_depth",
			Help:      "Current approximate number of visible messages in the queue",
		},
		[]string{"queue"},
	)

	s.queueInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "queue_in_flight",
			Help:      "Current approximate number of in-flight messages in the queue",
		},
		[]string{"queue"},
	)

	s.publicationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "publication_latency_seconds",
			Help:      "Time from deployment publication to snapshot completion",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"queue"},
	)

	s.cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a single process cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"queue"},
	)
}

// Register registers all metrics with the Prometheus registry.
// Without a custom registry the default registerer is used.
func (s *PrometheusProvider) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	registerer := s.registry
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	for _, c := range s.Collectors() {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	s.registered = true
	s.logger.Info().Msg("Prometheus metrics registered")
	return nil
}

// Collectors returns all Prometheus collectors used by this provider
func (s *PrometheusProvider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.renderOutcomes,
		s.validationErrors,
		s.droppedMessages,
		s.retriedMessages,
		s.queueDepth,
		s.queueInFlight,
		s.publicationLatency,
		s.cycleDuration,
	}
}

// Handler returns an http.Handler for the /metrics endpoint
func (s *PrometheusProvider) Handler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// PutMetric implements the Provider interface
func (s *PrometheusProvider) PutMetric(_ context.Context, name string, value float64, _ string, dimensions map[string]string) error {
	if !s.enabled {
		return nil
	}

	queue := dimensions["queue"]

	switch name {
	case MetricRenderOutcomes:
		s.renderOutcomes.WithLabelValues(queue, dimensions["status"]).Add(value)
	case MetricValidationErrors:
		s.validationErrors.WithLabelValues(queue, dimensions["reason"]).Add(value)
	case MetricDroppedMessages:
		s.droppedMessages.WithLabelValues(queue, dimensions["reason"]).Add(value)
	case MetricRetriedMessages:
		s.retriedMessages.WithLabelValues(queue).Add(value)
	case MetricPublicationLatency:
		s.publicationLatency.WithLabelValues(queue).Observe(value)
	case MetricCycleDuration:
		s.cycleDuration.WithLabelValues(queue).Observe(value)
	case MetricQueueDepth:
		s.queueDepth.WithLabelValues(queue).Set(value)
	case MetricQueueInFlight:
		s.queueInFlight.WithLabelValues(queue).Set(value)
	}
	return nil
}

// Increment implements the Provider interface
func (s *PrometheusProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, 1.0, "Count", dimensions)
}

// RecordDuration implements the Provider interface
func (s *PrometheusProvider) RecordDuration(ctx context.Context, name string, seconds float64, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, seconds, "Seconds", dimensions)
}

func (s *PrometheusProvider) IncRenderOutcome(_ context.Context, queue, status string) {
	if s.enabled {
		s.renderOutcomes.WithLabelValues(queue, status).Inc()
	}
}

func (s *PrometheusProvider) IncValidationErrors(_ context.Context, queue, reason string) {
	if s.enabled {
		s.validationErrors.WithLabelValues(queue, reason).Inc()
	}
}

func (s *PrometheusProvider) IncDroppedMessages(_ context.Context, queue, reason string) {
	if s.enabled {
		s.droppedMessages.WithLabelValues(queue, reason).Inc()
	}
}

func (s *PrometheusProvider) IncRetriedMessages(_ context.Context, queue string) {
	if s.enabled {
		s.retriedMessages.WithLabelValues(queue).Inc()
	}
}

func (s *PrometheusProvider) ObservePublicationLatency(_ context.Context, queue string, seconds float64) {
	if s.enabled {
		s.publicationLatency.WithLabelValues(queue).Observe(seconds)
	}
}

func (s *PrometheusProvider) ObserveCycleDuration(_ context.Context, queue string, seconds float64) {
	if s.enabled {
		s.cycleDuration.WithLabelValues(queue).Observe(seconds)
	}
}

func (s *PrometheusProvider) SetQueueDepth(_ context.Context, queue string, depth float64) {
	if s.enabled {
		s.queueDepth.WithLabelValues(queue).Set(depth)
	}
}

func (s *PrometheusProvider) SetQueueInFlight(_ context.Context, queue string, count float64) {
	if s.enabled {
		s.queueInFlight.WithLabelValues(queue).Set(count)
	}
}
