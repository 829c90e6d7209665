// Package queuetest provides an in-memory QueueClient for tests.
package queuetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/decentraland/profile-images/internal/contracts"
)

// FakeClient is a recording contracts.QueueClient. Receives pop from the
// Batches queue, one batch per call.
type FakeClient struct {
	mu sync.Mutex

	QueueName  string
	Batches    [][]contracts.Message
	Attributes map[string]string

	ReceiveErr error
	DeleteErr  error
	// FailDeleteIDs makes DeleteMessageBatch report these entry ids as failed
	FailDeleteIDs map[string]bool

	Sent           []string
	Receives       []contracts.ReceiveRequest
	DeleteCalls    [][]contracts.DeleteEntry
	SingleDeletes  []string
	AttributeCalls int
}

// NewFakeClient creates a fake bound to name
func NewFakeClient(name string, batches ...[]contracts.Message) *FakeClient {
	return &FakeClient{QueueName: name, Batches: batches}
}

func (f *FakeClient) Name() string { return f.QueueName }

func (f *FakeClient) SendMessage(_ context.Context, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, body)
	return "sent-" + strconv.Itoa(len(f.Sent)), nil
}

func (f *FakeClient) ReceiveMessages(_ context.Context, req contracts.ReceiveRequest) ([]contracts.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Receives = append(f.Receives, req)
	if f.ReceiveErr != nil {
		return nil, f.ReceiveErr
	}
	if len(f.Batches) == 0 {
		return nil, nil
	}
	batch := f.Batches[0]
	f.Batches = f.Batches[1:]
	if len(batch) > req.MaxNumberOfMessages {
		f.Batches = append([][]contracts.Message{batch[req.MaxNumberOfMessages:]}, f.Batches...)
		batch = batch[:req.MaxNumberOfMessages]
	}
	return batch, nil
}

func (f *FakeClient) DeleteMessage(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.SingleDeletes = append(f.SingleDeletes, receiptHandle)
	return nil
}

func (f *FakeClient) DeleteMessageBatch(_ context.Context, entries []contracts.DeleteEntry) ([]contracts.DeleteFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls = append(f.DeleteCalls, entries)
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	var failures []contracts.DeleteFailure
	for _, e := range entries {
		if f.FailDeleteIDs[e.ID] {
			failures = append(failures, contracts.DeleteFailure{ID: e.ID, Code: "InternalError"})
		}
	}
	return failures, nil
}

func (f *FakeClient) GetAttributes(_ context.Context, names []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AttributeCalls++
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := f.Attributes[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

// DeletedHandles returns every receipt handle deleted so far, in call order
func (f *FakeClient) DeletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.DeleteCalls {
		for _, e := range call {
			out = append(out, e.ReceiptHandle)
		}
	}
	return append(out, f.SingleDeletes...)
}

// ReceiveCount returns how many receive calls were made
func (f *FakeClient) ReceiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Receives)
}

var _ contracts.QueueClient = (*FakeClient)(nil)
