package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func newTestPrometheus(t *testing.T) (*PrometheusProvider, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	p := NewPrometheusProvider(zerolog.Nop(), PrometheusConfig{Enabled: true, Namespace: "test", Registry: registry})
	require.NoError(t, p.Register())
	return p, registry
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider()
	assert.Equal(t, string(ProviderTypeNoop), p.Name())
	assert.False(t, p.Enabled())

	ctx := context.Background()
	assert.NoError(t, p.PutMetric(ctx, "x", 1, "Count", nil))
	assert.NoError(t, p.Increment(ctx, "x", nil))
	assert.NoError(t, p.RecordDuration(ctx, "x", 1, nil))
	p.IncRenderOutcome(ctx, "main", StatusSuccess)
	p.ObservePublicationLatency(ctx, "main", 3)
	p.SetQueueDepth(ctx, "main", 1)
}

func TestPrometheusProvider_Counters(t *testing.T) {
	p, _ := newTestPrometheus(t)
	ctx := context.Background()

	p.IncRenderOutcome(ctx, "main", StatusSuccess)
	p.IncRenderOutcome(ctx, "main", StatusSuccess)
	p.IncRenderOutcome(ctx, "dlq", StatusFailure)
	p.IncValidationErrors(ctx, "main", "invalid_json")
	p.IncDroppedMessages(ctx, "dlq", DropRetriesExhausted)
	p.IncRetriedMessages(ctx, "main")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.renderOutcomes.WithLabelValues("main", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.renderOutcomes.WithLabelValues("dlq", StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.validationErrors.WithLabelValues("main", "invalid_json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.droppedMessages.WithLabelValues("dlq", DropRetriesExhausted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.retriedMessages.WithLabelValues("main")))
}

func TestPrometheusProvider_HistogramsAndGauges(t *testing.T) {
	p, registry := newTestPrometheus(t)
	ctx := context.Background()

	p.ObservePublicationLatency(ctx, "main", 12)
	p.ObserveCycleDuration(ctx, "main", 0.5)
	p.SetQueueDepth(ctx, "main", 42)
	p.SetQueueInFlight(ctx, "main", 3)

	assert.Equal(t, 42.0, testutil.ToFloat64(p.queueDepth.WithLabelValues("main")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.queueInFlight.WithLabelValues("main")))

	count, err := testutil.GatherAndCount(registry, "test_publication_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusProvider_PutMetric(t *testing.T) {
	p, _ := newTestPrometheus(t)
	ctx := context.Background()

	require.NoError(t, p.Increment(ctx, MetricDroppedMessages, map[string]string{"queue": "main", "reason": DropPermanentFailure}))
	require.NoError(t, p.PutMetric(ctx, MetricQueueDepth, 7, "Count", map[string]string{"queue": "dlq"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.droppedMessages.WithLabelValues("main", DropPermanentFailure)))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.queueDepth.WithLabelValues("dlq")))
}

func TestPrometheusProvider_Disabled(t *testing.T) {
	p := NewPrometheusProvider(zerolog.Nop(), PrometheusConfig{Enabled: false, Registry: prometheus.NewRegistry()})
	p.IncRenderOutcome(context.Background(), "main", StatusSuccess)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.renderOutcomes.WithLabelValues("main", StatusSuccess)))
}

func TestPrometheusProvider_RegisterTwice(t *testing.T) {
	registry := prometheus.NewRegistry()
	p := NewPrometheusProvider(zerolog.Nop(), PrometheusConfig{Enabled: true, Registry: registry})
	require.NoError(t, p.Register())
	require.NoError(t, p.Register())
}

func TestPrometheusProvider_Handler(t *testing.T) {
	p, _ := newTestPrometheus(t)
	p.IncRenderOutcome(context.Background(), "main", StatusSuccess)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_render_outcomes_total{queue="main",status="success"} 1`))
}

func TestCloudWatchProvider(t *testing.T) {
	api := &fakeCloudWatch{}
	p := NewCloudWatchProvider(api, "ProfileImages", zerolog.Nop())
	assert.True(t, p.Enabled())

	p.IncDroppedMessages(context.Background(), "main", "")
	p.ObservePublicationLatency(context.Background(), "main", 2.5)

	require.Len(t, api.inputs, 2)
	assert.Equal(t, "ProfileImages", aws.ToString(api.inputs[0].Namespace))

	datum := api.inputs[0].MetricData[0]
	assert.Equal(t, MetricDroppedMessages, aws.ToString(datum.MetricName))
	dims := map[string]string{}
	for _, d := range datum.Dimensions {
		dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	assert.Equal(t, map[string]string{"queue": "main", "reason": "unknown"}, dims)

	latency := api.inputs[1].MetricData[0]
	assert.Equal(t, 2.5, aws.ToFloat64(latency.Value))
	assert.Equal(t, "Seconds", string(latency.Unit))
}

func TestCloudWatchProvider_Error(t *testing.T) {
	api := &fakeCloudWatch{err: errors.New("throttled")}
	p := NewCloudWatchProvider(api, "ns", zerolog.Nop())
	assert.Error(t, p.Increment(context.Background(), MetricRetriedMessages, nil))
}

func TestCompositeProvider(t *testing.T) {
	prom, _ := newTestPrometheus(t)
	cw := &fakeCloudWatch{}
	c := NewCompositeProvider(prom, NewCloudWatchProvider(cw, "ns", zerolog.Nop()), NewNoopProvider(), nil)

	assert.True(t, c.Enabled())
	assert.Len(t, c.Providers(), 2)
	assert.NotNil(t, c.Handler())
	assert.Len(t, c.Collectors(), len(prom.Collectors()))

	c.IncRenderOutcome(context.Background(), "main", StatusFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.renderOutcomes.WithLabelValues("main", StatusFailure)))
	assert.Len(t, cw.inputs, 1)
}

func TestCompositeProvider_Empty(t *testing.T) {
	c := NewCompositeProvider(nil, NewNoopProvider())
	assert.False(t, c.Enabled())
	assert.Nil(t, c.Handler())
	assert.Empty(t, c.Collectors())
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name       string
		cloudWatch bool
		prometheus bool
		expected   ProviderType
	}{
		{"none", false, false, ProviderTypeNoop},
		{"prometheus", false, true, ProviderTypePrometheus},
		{"cloudwatch", true, false, ProviderTypeCloudWatch},
		{"both", true, true, ProviderTypeComposite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(FactoryConfig{
				CloudWatchEnabled:  tt.cloudWatch,
				CloudWatchClient:   &fakeCloudWatch{},
				PrometheusEnabled:  tt.prometheus,
				PrometheusRegistry: prometheus.NewRegistry(),
				Logger:             zerolog.Nop(),
			})
			p, err := f.Create()
			require.NoError(t, err)
			assert.Equal(t, string(tt.expected), p.Name())
		})
	}
}
