package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// CompositeProvider delegates every call to all of its providers, e.g. to
// send metrics to CloudWatch and Prometheus at once.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a composite of the given providers.
// Only enabled providers are included.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.Enabled() {
			enabled = append(enabled, p)
		}
	}
	return &CompositeProvider{providers: enabled}
}

var (
	_ Provider          = (*CompositeProvider)(nil)
	_ HTTPProvider      = (*CompositeProvider)(nil)
	_ CollectorProvider = (*CompositeProvider)(nil)
)

// Name returns the provider name
func (c *CompositeProvider) Name() string {
	return string(ProviderTypeComposite)
}

// Enabled returns true if at least one provider is enabled
func (c *CompositeProvider) Enabled() bool {
	return len(c.providers) > 0
}

// PutMetric sends a metric to all providers and returns the last error
func (c *CompositeProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.PutMetric(ctx, name, value, unit, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Increment increments a counter on all providers
func (c *CompositeProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Increment(ctx, name, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// RecordDuration records a duration on all providers
func (c *CompositeProvider) RecordDuration(ctx context.Context, name string, seconds float64, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.RecordDuration(ctx, name, seconds, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *CompositeProvider) IncRenderOutcome(ctx context.Context, queue, status string) {
	for _, p := range c.providers {
		p.IncRenderOutcome(ctx, queue, status)
	}
}

func (c *CompositeProvider) IncValidationErrors(ctx context.Context, queue, reason string) {
	for _, p := range c.providers {
		p.IncValidationErrors(ctx, queue, reason)
	}
}

func (c *CompositeProvider) IncDroppedMessages(ctx context.Context, queue, reason string) {
	for _, p := range c.providers {
		p.IncDroppedMessages(ctx, queue, reason)
	}
}

func (c *CompositeProvider) IncRetriedMessages(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncRetriedMessages(ctx, queue)
	}
}

func (c *CompositeProvider) ObservePublicationLatency(ctx context.Context, queue string, seconds float64) {
	for _, p := range c.providers {
		p.ObservePublicationLatency(ctx, queue, seconds)
	}
}

func (c *CompositeProvider) ObserveCycleDuration(ctx context.Context, queue string, seconds float64) {
	for _, p := range c.providers {
		p.ObserveCycleDuration(ctx, queue, seconds)
	}
}

func (c *CompositeProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {
	for _, p := range c.providers {
		p.SetQueueDepth(ctx, queue, depth)
	}
}

func (c *CompositeProvider) SetQueueInFlight(ctx context.Context, queue string, count float64) {
	for _, p := range c.providers {
		p.SetQueueInFlight(ctx, queue, count)
	}
}

// Handler returns the HTTP handler of the first HTTPProvider, or nil
func (c *CompositeProvider) Handler() http.Handler {
	for _, p := range c.providers {
		if hp, ok := p.(HTTPProvider); ok {
			return hp.Handler()
		}
	}
	return nil
}

// Collectors returns the collectors of every CollectorProvider
func (c *CompositeProvider) Collectors() []prometheus.Collector {
	var collectors []prometheus.Collector
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			collectors = append(collectors, cp.Collectors()...)
		}
	}
	return collectors
}

// Register registers every CollectorProvider
func (c *CompositeProvider) Register() error {
	var lastErr error
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			if err := cp.Register(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// Providers returns all underlying providers
func (c *CompositeProvider) Providers() []Provider {
	return c.providers
}
