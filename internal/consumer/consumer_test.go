package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/internal/metrics"
	"github.com/decentraland/profile-images/internal/queue"
	"github.com/decentraland/profile-images/internal/queue/queuetest"
	"github.com/decentraland/profile-images/pkg/catalyst"
	"github.com/decentraland/profile-images/pkg/events"
)

type fakeFetcher struct {
	mu       sync.Mutex
	entities map[string]catalyst.Entity
	err      error
	calls    [][]string
}

func (f *fakeFetcher) GetEntitiesByIds(_ context.Context, ids []string, _ contracts.FetchOptions) ([]catalyst.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	var out []catalyst.Entity
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	mu      sync.Mutex
	results func([]catalyst.Entity) []contracts.ProcessingResult
	err     error
	calls   [][]catalyst.Entity
	onCall  func()
}

func (f *fakeProcessor) ProcessEntities(_ context.Context, entities []catalyst.Entity) ([]contracts.ProcessingResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, entities)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results(entities), nil
	}
	out := make([]contracts.ProcessingResult, 0, len(entities))
	for _, e := range entities {
		out = append(out, contracts.ProcessingResult{Entity: e.ID, Success: true})
	}
	return out, nil
}

type recordingMetrics struct {
	*metrics.NoopProvider
	mu         sync.Mutex
	outcomes   map[string]int
	validation map[string]int
	drops      map[string]int
	retried    int
	latencies  []float64
	cycles     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		NoopProvider: metrics.NewNoopProvider(),
		outcomes:     map[string]int{},
		validation:   map[string]int{},
		drops:        map[string]int{},
	}
}

func (r *recordingMetrics) IncRenderOutcome(_ context.Context, queue, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[queue+"/"+status]++
}

func (r *recordingMetrics) IncValidationErrors(_ context.Context, _ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validation[reason]++
}

func (r *recordingMetrics) IncDroppedMessages(_ context.Context, _ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops[reason]++
}

func (r *recordingMetrics) IncRetriedMessages(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried++
}

func (r *recordingMetrics) ObservePublicationLatency(_ context.Context, _ string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, seconds)
}

func (r *recordingMetrics) ObserveCycleDuration(context.Context, string, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

type harness struct {
	main      *queuetest.FakeClient
	dlq       *queuetest.FakeClient
	fetcher   *fakeFetcher
	processor *fakeProcessor
	metrics   *recordingMetrics
	consumer  *Consumer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		main:      queuetest.NewFakeClient("main"),
		dlq:       queuetest.NewFakeClient("dlq"),
		fetcher:   &fakeFetcher{entities: map[string]catalyst.Entity{}},
		processor: &fakeProcessor{},
		metrics:   newRecordingMetrics(),
	}
	opts := DefaultOptions()
	opts.Backoff = BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	h.consumer = New(
		queue.NewComponent(h.main, zerolog.Nop()),
		queue.NewComponent(h.dlq, zerolog.Nop()),
		h.fetcher,
		h.processor,
		h.metrics,
		opts,
		zerolog.Nop(),
	)
	return h
}

func testAvatar() catalyst.AvatarDescriptor {
	return catalyst.AvatarDescriptor{
		BodyShape: "urn:decentraland:off-chain:base-avatars:BaseMale",
		Wearables: []string{"urn:decentraland:off-chain:base-avatars:eyebrows_00"},
	}
}

func profileEntity(id string, timestamp int64) catalyst.Entity {
	return catalyst.Entity{
		ID:        id,
		Type:      catalyst.EntityTypeProfile,
		Pointers:  []string{"0xabc"},
		Timestamp: timestamp,
		Metadata: &catalyst.ProfileMetadata{
			Avatars: []catalyst.AvatarInfo{{Name: "test", Avatar: testAvatar()}},
		},
	}
}

func inlineMessage(t *testing.T, id string, timestamp int64) contracts.Message {
	t.Helper()
	body, err := events.Wrap(profileEntity(id, timestamp)).ToJSON()
	require.NoError(t, err)
	return contracts.Message{MessageID: "m-" + id, ReceiptHandle: "rh-" + id, Body: body}
}

func bareMessage(t *testing.T, id string) contracts.Message {
	t.Helper()
	body, err := events.Wrap(catalyst.Entity{ID: id, Type: catalyst.EntityTypeProfile}).ToJSON()
	require.NoError(t, err)
	return contracts.Message{MessageID: "m-" + id, ReceiptHandle: "rh-" + id, Body: body}
}

func withReceiveCount(msg contracts.Message, count string) contracts.Message {
	msg.Attributes = map[string]string{contracts.AttributeApproximateReceiveCount: count}
	return msg
}

func pastTimestamp() int64 {
	return time.Now().Add(-time.Minute).UnixMilli()
}

func retryFailure(failing ...string) func([]catalyst.Entity) []contracts.ProcessingResult {
	fail := map[string]bool{}
	for _, id := range failing {
		fail[id] = true
	}
	return func(entities []catalyst.Entity) []contracts.ProcessingResult {
		var out []contracts.ProcessingResult
		for _, e := range entities {
			if fail[e.ID] {
				out = append(out, contracts.ProcessingResult{Entity: e.ID, ShouldRetry: true, Error: "render failed"})
			} else {
				out = append(out, contracts.ProcessingResult{Entity: e.ID, Success: true})
			}
		}
		return out
	}
}

func TestPoll_PrefersMainQueue(t *testing.T) {
	h := newHarness(t)
	h.main.Batches = [][]contracts.Message{{
		inlineMessage(t, "a", 0), inlineMessage(t, "b", 0), inlineMessage(t, "c", 0), inlineMessage(t, "d", 0),
	}}
	h.dlq.Batches = [][]contracts.Message{{inlineMessage(t, "x", 0), inlineMessage(t, "y", 0)}}

	result, err := h.consumer.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceMain, result.Queue)
	assert.Len(t, result.Messages, 4)
	assert.Equal(t, 0, h.dlq.ReceiveCount())

	req := h.main.Receives[0]
	assert.Equal(t, 10, req.MaxNumberOfMessages)
	assert.Equal(t, 60, req.VisibilityTimeout)
	assert.Equal(t, 20, req.WaitTimeSeconds)
	assert.Contains(t, req.AttributeNames, contracts.AttributeApproximateReceiveCount)
}

func TestPoll_FallsBackToDLQ(t *testing.T) {
	h := newHarness(t)
	h.dlq.Batches = [][]contracts.Message{{inlineMessage(t, "x", 0), inlineMessage(t, "y", 0)}}

	result, err := h.consumer.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceDLQ, result.Queue)
	assert.Len(t, result.Messages, 1)

	req := h.dlq.Receives[0]
	assert.Equal(t, 1, req.MaxNumberOfMessages)
	assert.Equal(t, 0, req.WaitTimeSeconds)
	assert.Contains(t, req.AttributeNames, contracts.AttributeApproximateReceiveCount)
}

func TestPoll_BothEmpty(t *testing.T) {
	h := newHarness(t)

	result, err := h.consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDLQ, result.Queue)
	assert.Empty(t, result.Messages)
}

func TestPoll_ReceiveError(t *testing.T) {
	h := newHarness(t)
	h.main.ReceiveErr = errors.New("connection refused")

	_, err := h.consumer.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main queue")
	assert.Equal(t, 0, h.dlq.ReceiveCount())
}

func TestPoll_WithoutDLQ(t *testing.T) {
	main := queuetest.NewFakeClient("main")
	c := New(queue.NewComponent(main, zerolog.Nop()), nil, &fakeFetcher{}, &fakeProcessor{}, nil, DefaultOptions(), zerolog.Nop())

	result, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceMain, result.Queue)
	assert.Empty(t, result.Messages)
}

func TestProcessMessages_DLQBatchWithoutDLQ(t *testing.T) {
	main := queuetest.NewFakeClient("main")
	processor := &fakeProcessor{}
	c := New(queue.NewComponent(main, zerolog.Nop()), nil, &fakeFetcher{}, processor, nil, DefaultOptions(), zerolog.Nop())

	msg := contracts.Message{MessageID: "m-1", ReceiptHandle: "rh-dlq-1"}
	_, err := c.ProcessMessages(context.Background(), SourceDLQ, []contracts.Message{msg})
	require.ErrorIs(t, err, ErrNoDLQ)

	// Nothing may be acknowledged against the main queue
	assert.Empty(t, main.DeleteCalls)
	assert.Empty(t, main.DeletedHandles())
	assert.Empty(t, processor.calls)

	_, err = c.ProcessMessages(context.Background(), Source("other"), []contracts.Message{msg})
	require.Error(t, err)
	assert.Empty(t, main.DeletedHandles())
}

func TestProcessMessages_UndefinedBody(t *testing.T) {
	h := newHarness(t)
	msg := contracts.Message{MessageID: "m-1", ReceiptHandle: "rh-1"}

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{msg})
	require.NoError(t, err)

	require.Len(t, h.main.DeleteCalls, 1)
	assert.Equal(t, []string{"rh-1"}, h.main.DeletedHandles())
	assert.Empty(t, h.fetcher.calls)
	assert.Empty(t, h.processor.calls)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, h.metrics.validation["undefined_body"])
}

func TestProcessMessages_SuccessAndRetryOnMain(t *testing.T) {
	h := newHarness(t)
	h.processor.results = retryFailure("b")

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", pastTimestamp()),
		inlineMessage(t, "b", pastTimestamp()),
	})
	require.NoError(t, err)

	require.Len(t, h.main.DeleteCalls, 1)
	assert.Equal(t, []string{"rh-a"}, h.main.DeletedHandles())
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, 1, h.metrics.outcomes["main/success"])
	assert.Equal(t, 1, h.metrics.outcomes["main/failure"])
	assert.Equal(t, 1, h.metrics.retried)
}

func TestProcessMessages_MainAllRetryable(t *testing.T) {
	h := newHarness(t)
	h.processor.results = retryFailure("a", "b", "c")

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		withReceiveCount(inlineMessage(t, "a", 0), "50"),
		inlineMessage(t, "b", 0),
		inlineMessage(t, "c", 0),
	})
	require.NoError(t, err)

	assert.Empty(t, h.main.DeleteCalls)
	assert.Equal(t, 3, h.metrics.retried)
}

func TestProcessMessages_DLQCeiling(t *testing.T) {
	tests := []struct {
		name         string
		receiveCount string
		deleted      bool
	}{
		{"no count", "", false},
		{"below ceiling", "4", false},
		{"at ceiling", "5", true},
		{"above ceiling", "7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.processor.results = retryFailure("a")

			msg := inlineMessage(t, "a", 0)
			if tt.receiveCount != "" {
				msg = withReceiveCount(msg, tt.receiveCount)
			}

			summary, err := h.consumer.ProcessMessages(context.Background(), SourceDLQ, []contracts.Message{msg})
			require.NoError(t, err)

			if tt.deleted {
				assert.Equal(t, []string{"rh-a"}, h.dlq.DeletedHandles())
				assert.Equal(t, 1, summary.Dropped)
				assert.Equal(t, 1, h.metrics.drops[metrics.DropRetriesExhausted])
			} else {
				assert.Empty(t, h.dlq.DeleteCalls)
				assert.Equal(t, 1, summary.Retried)
			}
			assert.Empty(t, h.main.DeleteCalls)
			assert.Equal(t, 0, h.metrics.outcomes["dlq/success"])
		})
	}
}

func TestProcessMessages_PermanentFailureDeleted(t *testing.T) {
	h := newHarness(t)
	h.processor.results = func(entities []catalyst.Entity) []contracts.ProcessingResult {
		return []contracts.ProcessingResult{{Entity: entities[0].ID, Error: "no avatar"}}
	}

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{inlineMessage(t, "a", 0)})
	require.NoError(t, err)

	assert.Equal(t, []string{"rh-a"}, h.main.DeletedHandles())
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 1, h.metrics.drops[metrics.DropPermanentFailure])
}

func TestProcessMessages_InlineEntitySkipsFetch(t *testing.T) {
	h := newHarness(t)

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{inlineMessage(t, "a", 0)})
	require.NoError(t, err)

	assert.Empty(t, h.fetcher.calls)
	require.Len(t, h.processor.calls, 1)
	assert.Equal(t, "a", h.processor.calls[0][0].ID)
}

func TestProcessMessages_ResolvesIncompleteEntities(t *testing.T) {
	h := newHarness(t)
	h.fetcher.entities["b"] = profileEntity("b", pastTimestamp())

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", 0),
		bareMessage(t, "b"),
		bareMessage(t, "gone"),
	})
	require.NoError(t, err)

	require.Len(t, h.fetcher.calls, 1)
	assert.Equal(t, []string{"b", "gone"}, h.fetcher.calls[0])

	require.Len(t, h.processor.calls, 1)
	var processed []string
	for _, e := range h.processor.calls[0] {
		processed = append(processed, e.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, processed)

	require.Len(t, h.main.DeleteCalls, 1)
	assert.ElementsMatch(t, []string{"rh-a", "rh-b", "rh-gone"}, h.main.DeletedHandles())
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 1, h.metrics.drops[metrics.DropUnresolvableEntity])
}

func TestProcessMessages_IgnoresUnrequestedFetchedEntities(t *testing.T) {
	h := newHarness(t)
	h.fetcher.entities["b"] = profileEntity("b", 0)
	h.fetcher.entities["a"] = profileEntity("a", 0)

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", 0),
		bareMessage(t, "b"),
	})
	require.NoError(t, err)

	require.Len(t, h.processor.calls, 1)
	assert.Len(t, h.processor.calls[0], 2)
}

func TestProcessMessages_AllUnresolvable(t *testing.T) {
	h := newHarness(t)

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{bareMessage(t, "gone")})
	require.NoError(t, err)

	assert.Empty(t, h.processor.calls)
	assert.Equal(t, []string{"rh-gone"}, h.main.DeletedHandles())
}

func TestProcessMessages_FetchErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("all servers failed")

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", 0),
		bareMessage(t, "b"),
	})
	require.Error(t, err)

	assert.Empty(t, h.main.DeleteCalls)
	assert.Empty(t, h.processor.calls)
}

func TestProcessMessages_ProcessorErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.processor.err = errors.New("storage unreachable")

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		{MessageID: "m-bad", ReceiptHandle: "rh-bad", Body: "not json"},
		inlineMessage(t, "a", 0),
		inlineMessage(t, "b", 0),
	})
	require.Error(t, err)

	// Only the invalid message is acknowledged.
	assert.Equal(t, []string{"rh-bad"}, h.main.DeletedHandles())
}

func TestProcessMessages_Duplicates(t *testing.T) {
	h := newHarness(t)

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", 0),
		{MessageID: "m-a2", ReceiptHandle: "rh-a2", Body: inlineMessage(t, "a", 0).Body},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, h.main.DeleteCalls, 2)
	assert.Equal(t, "rh-a2", h.main.DeleteCalls[0][0].ReceiptHandle)
	assert.Equal(t, "rh-a", h.main.DeleteCalls[1][0].ReceiptHandle)
	assert.Equal(t, 1, h.metrics.validation["duplicate_entity"])
}

func TestProcessMessages_Idempotent(t *testing.T) {
	h := newHarness(t)
	msg := inlineMessage(t, "a", 0)

	for i := 0; i < 2; i++ {
		_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{msg})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"rh-a", "rh-a"}, h.main.DeletedHandles())
}

func TestProcessMessages_Latency(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.consumer.now = func() time.Time { return now }

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "past", now.Add(-30*time.Second).UnixMilli()),
	})
	require.NoError(t, err)

	require.Len(t, h.metrics.latencies, 1)
	assert.InDelta(t, 30.0, h.metrics.latencies[0], 0.01)
}

func TestProcessMessages_FutureTimestampSkipsLatency(t *testing.T) {
	h := newHarness(t)

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "future", time.Now().Add(time.Hour).UnixMilli()),
	})
	require.NoError(t, err)

	assert.Empty(t, h.metrics.latencies)
	assert.Equal(t, []string{"rh-future"}, h.main.DeletedHandles())
	assert.Equal(t, 1, h.metrics.outcomes["main/success"])
}

func TestProcessMessages_MissingResultLeavesMessage(t *testing.T) {
	h := newHarness(t)
	h.processor.results = func([]catalyst.Entity) []contracts.ProcessingResult {
		return []contracts.ProcessingResult{
			{Entity: "a", Success: true},
			{Entity: "unknown", Success: true},
		}
	}

	_, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{
		inlineMessage(t, "a", 0),
		inlineMessage(t, "b", 0),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"rh-a"}, h.main.DeletedHandles())
}

func TestProcessMessages_DeleteFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.main.DeleteErr = errors.New("throttled")

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, []contracts.Message{inlineMessage(t, "a", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestProcessMessages_Empty(t *testing.T) {
	h := newHarness(t)

	summary, err := h.consumer.ProcessMessages(context.Background(), SourceMain, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Received)
	assert.Equal(t, 0, h.metrics.cycles)
}

func TestRunOnce(t *testing.T) {
	h := newHarness(t)
	h.dlq.Batches = [][]contracts.Message{{withReceiveCount(inlineMessage(t, "a", 0), "2")}}

	summary, err := h.consumer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceDLQ, summary.Queue)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"rh-a"}, h.dlq.DeletedHandles())
	assert.Equal(t, 1, h.metrics.outcomes["dlq/success"])
}

func TestRun_FinishesInFlightBatchOnCancel(t *testing.T) {
	h := newHarness(t)
	h.main.Batches = [][]contracts.Message{{inlineMessage(t, "a", 0)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.processor.onCall = cancel

	err := h.consumer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"rh-a"}, h.main.DeletedHandles())
}

func TestRun_BacksOffOnErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errorType string
		transient bool
	}{
		{"network", errors.New("connection reset"), "unknown", true},
		{"transient", contracts.NewTransientError("sqs throttled", nil), "transient", true},
		{"permanent", contracts.NewPermanentError("access denied", nil), "permanent", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := queuetest.NewFakeClient("main")
			main.ReceiveErr = tt.err

			var buf bytes.Buffer
			opts := DefaultOptions()
			opts.Backoff = BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
			c := New(queue.NewComponent(main, zerolog.Nop()), nil, &fakeFetcher{}, &fakeProcessor{}, nil, opts, zerolog.New(&buf))

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := c.Run(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.GreaterOrEqual(t, main.ReceiveCount(), 2)

			var failures int
			dec := json.NewDecoder(&buf)
			for dec.More() {
				var line map[string]any
				require.NoError(t, dec.Decode(&line))
				if line["message"] != "Consumer cycle failed" {
					continue
				}
				failures++
				assert.Equal(t, "error", line["level"])
				assert.Equal(t, tt.errorType, line["error_type"])
				assert.Equal(t, tt.transient, line["transient"])
				assert.NotEmpty(t, line["consecutive_errors"])
			}
			assert.GreaterOrEqual(t, failures, 2)
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	c := New(queue.NewComponent(queuetest.NewFakeClient("main"), zerolog.Nop()), nil, &fakeFetcher{}, &fakeProcessor{}, nil, DefaultOptions(), zerolog.Nop())

	assert.Equal(t, time.Second, c.backoffDelay(1))
	assert.Equal(t, 2*time.Second, c.backoffDelay(2))
	assert.Equal(t, 4*time.Second, c.backoffDelay(3))
	assert.Equal(t, 16*time.Second, c.backoffDelay(5))
	assert.Equal(t, 30*time.Second, c.backoffDelay(6))
	assert.Equal(t, 30*time.Second, c.backoffDelay(20))
}
