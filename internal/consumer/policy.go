package consumer

import (
	"strconv"

	"github.com/decentraland/profile-images/internal/contracts"
)

// Source identifies the queue a batch was received from
type Source string

const (
	SourceMain Source = "main"
	SourceDLQ  Source = "dlq"
)

// Action is the acknowledgment decision for one processed message
type Action int

const (
	// ActionAck deletes the message
	ActionAck Action = iota
	// ActionNackBounded leaves the message for redelivery until its receive
	// count reaches the retry ceiling, then deletes it
	ActionNackBounded
	// ActionNackUnbounded always leaves the message; the transport redrive
	// policy moves it to the DLQ eventually
	ActionNackUnbounded
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionNackBounded:
		return "nack_bounded"
	case ActionNackUnbounded:
		return "nack_unbounded"
	default:
		return "unknown"
	}
}

// Decide maps a processing result to an action for a message from source.
// Successes and permanent failures are acknowledged. Retryable failures are
// bounded on the DLQ and unbounded on the main queue.
func Decide(source Source, result contracts.ProcessingResult) Action {
	if result.Success || !result.ShouldRetry {
		return ActionAck
	}
	if source == SourceDLQ {
		return ActionNackBounded
	}
	return ActionNackUnbounded
}

// ShouldDelete reports whether a message with the given receive count must be
// deleted under action.
func ShouldDelete(action Action, receiveCount, maxRetries int) bool {
	switch action {
	case ActionAck:
		return true
	case ActionNackBounded:
		return receiveCount >= maxRetries
	default:
		return false
	}
}

// ReceiveCount returns the approximate receive count of msg, or 0 when the
// transport did not report it.
func ReceiveCount(msg contracts.Message) int {
	n, err := strconv.Atoi(msg.Attributes[contracts.AttributeApproximateReceiveCount])
	if err != nil {
		return 0
	}
	return n
}
