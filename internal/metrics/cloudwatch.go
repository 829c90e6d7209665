package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// CloudWatchAPI is the subset of the CloudWatch client used by the provider
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchProvider handles sending metrics to AWS CloudWatch
type CloudWatchProvider struct {
	client    CloudWatchAPI
	namespace string
	logger    zerolog.Logger
	enabled   bool
}

// NewCloudWatchProvider creates a new CloudWatch metrics provider
func NewCloudWatchProvider(client CloudWatchAPI, namespace string, logger zerolog.Logger) *CloudWatchProvider {
	return &CloudWatchProvider{
		client:    client,
		namespace: namespace,
		logger:    logger,
		enabled:   client != nil,
	}
}

var _ Provider = (*CloudWatchProvider)(nil)

// Name returns the provider name
func (s *CloudWatchProvider) Name() string {
	return string(ProviderTypeCloudWatch)
}

// Enabled returns whether CloudWatch metrics are enabled
func (s *CloudWatchProvider) Enabled() bool {
	return s.enabled
}

// PutMetric sends a single metric to CloudWatch
func (s *CloudWatchProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	if !s.enabled {
		return nil
	}

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: []types.MetricDatum{createMetricDatum(name, value, unit, dimensions)},
	})
	if err != nil {
		s.logger.Warn().
			Str("metric", name).
			Err(err).
			Msg("Failed to put CloudWatch metric")
		return err
	}
	return nil
}

// Increment increments a counter metric
func (s *CloudWatchProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, 1.0, string(types.StandardUnitCount), dimensions)
}

// RecordDuration records a duration metric in seconds
func (s *CloudWatchProvider) RecordDuration(ctx context.Context, name string, seconds float64, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, seconds, string(types.StandardUnitSeconds), dimensions)
}

func (s *CloudWatchProvider) IncRenderOutcome(ctx context.Context, queue, status string) {
	_ = s.Increment(ctx, MetricRenderOutcomes, map[string]string{"queue": queue, "status": status})
}

func (s *CloudWatchProvider) IncValidationErrors(ctx context.Context, queue, reason string) {
	_ = s.Increment(ctx, MetricValidationErrors, map[string]string{"queue": queue, "reason": reason})
}

func (s *CloudWatchProvider) IncDroppedMessages(ctx context.Context, queue, reason string) {
	_ = s.Increment(ctx, MetricDroppedMessages, map[string]string{"queue": queue, "reason": reason})
}

func (s *CloudWatchProvider) IncRetriedMessages(ctx context.Context, queue string) {
	_ = s.Increment(ctx, MetricRetriedMessages, map[string]string{"queue": queue})
}

func (s *CloudWatchProvider) ObservePublicationLatency(ctx context.Context, queue string, seconds float64) {
	_ = s.RecordDuration(ctx, MetricPublicationLatency, seconds, map[string]string{"queue": queue})
}

func (s *CloudWatchProvider) ObserveCycleDuration(ctx context.Context, queue string, seconds float64) {
	_ = s.RecordDuration(ctx, MetricCycleDuration, seconds, map[string]string{"queue": queue})
}

func (s *CloudWatchProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {
	_ = s.PutMetric(ctx, MetricQueueDepth, depth, string(types.StandardUnitCount), map[string]string{"queue": queue})
}

func (s *CloudWatchProvider) SetQueueInFlight(ctx context.Context, queue string, count float64) {
	_ = s.PutMetric(ctx, MetricQueueInFlight, count, string(types.StandardUnitCount), map[string]string{"queue": queue})
}

func createMetricDatum(name string, value float64, unit string, dimensions map[string]string) types.MetricDatum {
	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       types.StandardUnit(unit),
		Timestamp:  aws.Time(time.Now()),
	}

	if len(dimensions) > 0 {
		cwDimensions := make([]types.Dimension, 0, len(dimensions))
		for k, v := range dimensions {
			// CloudWatch rejects empty dimension values
			if v == "" {
				v = "unknown"
			}
			cwDimensions = append(cwDimensions, types.Dimension{
				Name:  aws.String(k),
				Value: aws.String(v),
			})
		}
		datum.Dimensions = cwDimensions
	}

	return datum
}
