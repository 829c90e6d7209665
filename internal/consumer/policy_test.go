package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/decentraland/profile-images/internal/contracts"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		source   Source
		result   contracts.ProcessingResult
		expected Action
	}{
		{"main success", SourceMain, contracts.ProcessingResult{Success: true}, ActionAck},
		{"dlq success", SourceDLQ, contracts.ProcessingResult{Success: true}, ActionAck},
		{"success ignores retry flag", SourceMain, contracts.ProcessingResult{Success: true, ShouldRetry: true}, ActionAck},
		{"main permanent failure", SourceMain, contracts.ProcessingResult{}, ActionAck},
		{"dlq permanent failure", SourceDLQ, contracts.ProcessingResult{}, ActionAck},
		{"main retryable failure", SourceMain, contracts.ProcessingResult{ShouldRetry: true}, ActionNackUnbounded},
		{"dlq retryable failure", SourceDLQ, contracts.ProcessingResult{ShouldRetry: true}, ActionNackBounded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decide(tt.source, tt.result))
		})
	}
}

func TestShouldDelete(t *testing.T) {
	tests := []struct {
		name         string
		action       Action
		receiveCount int
		expected     bool
	}{
		{"ack always deletes", ActionAck, 0, true},
		{"bounded below ceiling", ActionNackBounded, 4, false},
		{"bounded at ceiling", ActionNackBounded, 5, true},
		{"bounded above ceiling", ActionNackBounded, 9, true},
		{"bounded without count", ActionNackBounded, 0, false},
		{"unbounded never deletes", ActionNackUnbounded, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShouldDelete(tt.action, tt.receiveCount, 5))
		})
	}
}

func TestReceiveCount(t *testing.T) {
	assert.Equal(t, 0, ReceiveCount(contracts.Message{}))
	assert.Equal(t, 0, ReceiveCount(contracts.Message{Attributes: map[string]string{
		contracts.AttributeApproximateReceiveCount: "many",
	}}))
	assert.Equal(t, 3, ReceiveCount(contracts.Message{Attributes: map[string]string{
		contracts.AttributeApproximateReceiveCount: "3",
	}}))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "ack", ActionAck.String())
	assert.Equal(t, "nack_bounded", ActionNackBounded.String())
	assert.Equal(t, "nack_unbounded", ActionNackUnbounded.String())
	assert.Equal(t, "unknown", Action(42).String())
}
