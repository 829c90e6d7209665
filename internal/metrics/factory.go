package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/config"
)

// FactoryConfig holds configuration for creating metrics providers
type FactoryConfig struct {
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchClient    CloudWatchAPI

	PrometheusEnabled   bool
	PrometheusNamespace string
	PrometheusSubsystem string
	PrometheusRegistry  prometheus.Registerer

	Logger zerolog.Logger
}

// Factory creates metrics providers based on configuration
type Factory struct {
	config FactoryConfig
}

// NewFactory creates a new metrics factory
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{config: cfg}
}

// NewFactoryFromConfig creates a factory from the application config
func NewFactoryFromConfig(cfg *config.Config, cwClient CloudWatchAPI, logger zerolog.Logger) *Factory {
	return &Factory{
		config: FactoryConfig{
			CloudWatchEnabled:   cfg.SQS.CloudWatch.Enabled,
			CloudWatchNamespace: cfg.SQS.CloudWatch.Namespace,
			CloudWatchClient:    cwClient,
			PrometheusEnabled:   cfg.SQS.Prometheus.Enabled,
			PrometheusNamespace: cfg.SQS.Prometheus.Namespace,
			PrometheusSubsystem: cfg.SQS.Prometheus.Subsystem,
			Logger:              logger,
		},
	}
}

// WithPrometheusRegistry sets a custom Prometheus registry
func (f *Factory) WithPrometheusRegistry(registry prometheus.Registerer) *Factory {
	f.config.PrometheusRegistry = registry
	return f
}

// Create builds the provider for the enabled backends: a single provider
// when one is enabled, a CompositeProvider for both, NoopProvider for none.
// Prometheus collectors are registered before returning.
func (f *Factory) Create() (Provider, error) {
	var providers []Provider

	if f.config.CloudWatchEnabled && f.config.CloudWatchClient != nil {
		providers = append(providers, NewCloudWatchProvider(
			f.config.CloudWatchClient,
			f.config.CloudWatchNamespace,
			f.config.Logger,
		))
		f.config.Logger.Debug().Msg("CloudWatch metrics provider created")
	}

	if f.config.PrometheusEnabled {
		prom := NewPrometheusProvider(f.config.Logger, PrometheusConfig{
			Enabled:   true,
			Namespace: f.config.PrometheusNamespace,
			Subsystem: f.config.PrometheusSubsystem,
			Registry:  f.config.PrometheusRegistry,
		})
		if err := prom.Register(); err != nil {
			return nil, err
		}
		providers = append(providers, prom)
		f.config.Logger.Debug().Msg("Prometheus metrics provider created")
	}

	switch len(providers) {
	case 0:
		f.config.Logger.Debug().Msg("No metrics providers enabled, using NoopProvider")
		return NewNoopProvider(), nil
	case 1:
		return providers[0], nil
	default:
		f.config.Logger.Debug().
			Int("provider_count", len(providers)).
			Msg("Multiple metrics providers enabled, using CompositeProvider")
		return NewCompositeProvider(providers...), nil
	}
}
