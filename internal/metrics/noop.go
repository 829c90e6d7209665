package metrics

import (
	"context"
)

// NoopProvider is a no-operation metrics provider that does nothing.
// Used when metrics are disabled or as a fallback.
type NoopProvider struct{}

// NewNoopProvider creates a new no-operation metrics provider
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

var _ Provider = (*NoopProvider)(nil)

func (n *NoopProvider) Name() string  { return string(ProviderTypeNoop) }
func (n *NoopProvider) Enabled() bool { return false }

func (n *NoopProvider) PutMetric(context.Context, string, float64, string, map[string]string) error {
	return nil
}

func (n *NoopProvider) Increment(context.Context, string, map[string]string) error {
	return nil
}

func (n *NoopProvider) RecordDuration(context.Context, string, float64, map[string]string) error {
	return nil
}

func (n *NoopProvider) IncRenderOutcome(context.Context, string, string) {}
func (n *NoopProvider) IncValidationErrors(context.Context, string, string) {}
func (n *NoopProvider) IncDroppedMessages(context.Context, string, string) {}
func (n *NoopProvider) IncRetriedMessages(context.Context, string) {}
func (n *NoopProvider) ObservePublicationLatency(context.Context, string, float64) {}
func (n *NoopProvider) ObserveCycleDuration(context.Context, string, float64) {}
func (n *NoopProvider) SetQueueDepth(context.Context, string, float64) {}
func (n *NoopProvider) SetQueueInFlight(context.Context, string, float64) {}
