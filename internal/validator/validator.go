// Package validator turns raw queue messages into deployment events or typed
// rejections.
package validator

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
	"github.com/decentraland/profile-images/pkg/events"
)

// Reason is why a message was rejected
type Reason string

const (
	ReasonUndefinedBody     Reason = "undefined_body"
	ReasonInvalidJSON       Reason = "invalid_json"
	ReasonInvalidEntityType Reason = "invalid_entity_type"
	ReasonDuplicateEntity   Reason = "duplicate_entity"
)

// ValidMessage pairs an accepted message with its standardized event
type ValidMessage struct {
	Message contracts.Message
	Event   events.DeploymentEvent
}

// InvalidMessage pairs a rejected message with the rejection reason
type InvalidMessage struct {
	Message contracts.Message
	Reason  Reason
}

// Outcome partitions a batch. Every input message lands in exactly one of
// Valid or Invalid, and entity ids are unique within Valid.
type Outcome struct {
	Valid   []ValidMessage
	Invalid []InvalidMessage
}

// Validator parses and deduplicates message batches. It performs no I/O.
type Validator struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a validator
func New(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "validator").Logger(),
		now:    time.Now,
	}
}

// Validate partitions messages into valid and invalid, preserving input order
// within each partition. The first message for an entity id wins.
func (v *Validator) Validate(messages []contracts.Message) Outcome {
	var out Outcome
	seen := make(map[string]struct{}, len(messages))

	for _, msg := range messages {
		event, reason := v.parse(msg)
		if reason == "" {
			if _, dup := seen[event.EntityID]; dup {
				reason = ReasonDuplicateEntity
			}
		}

		if reason != "" {
			v.logger.Warn().
				Str("message_id", msg.MessageID).
				Str("receipt_handle", msg.ReceiptHandle).
				Str("entity_id", event.EntityID).
				Str("reason", string(reason)).
				Msg("Rejected message")
			out.Invalid = append(out.Invalid, InvalidMessage{Message: msg, Reason: reason})
			continue
		}

		seen[event.EntityID] = struct{}{}
		out.Valid = append(out.Valid, ValidMessage{Message: msg, Event: event})
	}

	return out
}

// rawMessage is the union of every accepted body shape
type rawMessage struct {
	Type      string              `json:"type"`
	SubType   string              `json:"subType"`
	Entity    json.RawMessage     `json:"entity"`
	Avatar    json.RawMessage     `json:"avatar"`
	AuthChain []catalyst.AuthLink `json:"authChain"`
}

type shape int

const (
	shapeUnknown shape = iota
	// entity is an object carrying entityId/entityType
	shapeObject
	// entity is an id string accompanied by an avatar
	shapeLegacy
)

// discriminate resolves which body shape a message uses
func discriminate(raw rawMessage) shape {
	entity := bytes.TrimSpace(raw.Entity)
	if len(entity) == 0 {
		return shapeUnknown
	}
	switch entity[0] {
	case '{':
		return shapeObject
	case '"':
		if isPresent(raw.Avatar) {
			return shapeLegacy
		}
	}
	return shapeUnknown
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (v *Validator) parse(msg contracts.Message) (events.DeploymentEvent, Reason) {
	if msg.Body == "" {
		return events.DeploymentEvent{}, ReasonUndefinedBody
	}

	body := []byte(msg.Body)
	if !json.Valid(body) {
		return events.DeploymentEvent{}, ReasonInvalidJSON
	}
	// Any other JSON value parses but carries no entity.
	if bytes.TrimSpace(body)[0] != '{' {
		return events.DeploymentEvent{}, ReasonInvalidEntityType
	}
	var raw rawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return events.DeploymentEvent{}, ReasonInvalidEntityType
	}

	var entity events.DeploymentEntity
	switch discriminate(raw) {
	case shapeObject:
		if err := json.Unmarshal(raw.Entity, &entity); err != nil || entity.EntityID == "" {
			return events.DeploymentEvent{}, ReasonInvalidEntityType
		}
	case shapeLegacy:
		var legacy events.LegacyDeployment
		if err := json.Unmarshal(raw.Entity, &legacy.Entity); err != nil || legacy.Entity == "" {
			return events.DeploymentEvent{}, ReasonInvalidEntityType
		}
		if err := json.Unmarshal(raw.Avatar, &legacy.Avatar); err != nil {
			return events.DeploymentEvent{}, ReasonInvalidEntityType
		}
		entity = events.DeploymentEntity{
			EntityID:   legacy.Entity,
			EntityType: string(catalyst.EntityTypeProfile),
			Metadata: &catalyst.ProfileMetadata{
				Avatars: []catalyst.AvatarInfo{{Avatar: legacy.Avatar}},
			},
		}
	default:
		return events.DeploymentEvent{}, ReasonInvalidEntityType
	}

	if !catalyst.ValidEntityID(entity.EntityID) {
		return events.DeploymentEvent{}, ReasonInvalidEntityType
	}
	if catalyst.EntityType(entity.EntityType) != catalyst.EntityTypeProfile {
		return events.DeploymentEvent{EntityID: entity.EntityID}, ReasonInvalidEntityType
	}

	return v.standardize(raw, entity), ""
}

func (v *Validator) standardize(raw rawMessage, entity events.DeploymentEntity) events.DeploymentEvent {
	event := events.DeploymentEvent{
		Type:           raw.Type,
		SubType:        raw.SubType,
		EntityID:       entity.EntityID,
		EntityType:     catalyst.EntityTypeProfile,
		Timestamp:      entity.EntityTimestamp,
		Version:        entity.Version,
		Pointers:       entity.Pointers,
		Content:        entity.Content,
		AuthChain:      raw.AuthChain,
		InlineMetadata: entity.Metadata,
	}

	if event.Type == "" {
		event.Type = events.TypeCatalystDeployment
	}
	if event.SubType == "" {
		event.SubType = string(catalyst.EntityTypeProfile)
	}
	if event.Timestamp <= 0 {
		event.Timestamp = v.now().UnixMilli()
	}
	if event.Version == "" {
		event.Version = events.DefaultVersion
	}
	if len(event.Pointers) == 0 {
		event.Pointers = []string{entity.EntityID}
	}
	if event.Content == nil {
		event.Content = []catalyst.ContentMapping{}
	}
	if event.AuthChain == nil {
		event.AuthChain = []catalyst.AuthLink{}
	}
	return event
}
