// Package events provides the deployment event formats exchanged over the
// profile queues: the wire shape published by catalysts and the standardized
// DeploymentEvent the worker operates on after validation.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/decentraland/profile-images/pkg/catalyst"
)

const (
	// TypeCatalystDeployment is the event type of catalyst deployments.
	TypeCatalystDeployment = "catalyst-deployment"

	// DefaultVersion is used when a deployment does not carry an entity version.
	DefaultVersion = "v3"
)

// DeploymentEntity is the inline entity section of a deployment message.
type DeploymentEntity struct {
	EntityID        string                    `json:"entityId"`
	EntityType      string                    `json:"entityType"`
	EntityTimestamp int64                     `json:"entityTimestamp,omitempty"`
	Version         string                    `json:"version,omitempty"`
	Pointers        []string                  `json:"pointers,omitempty"`
	Content         []catalyst.ContentMapping `json:"content,omitempty"`
	Metadata        *catalyst.ProfileMetadata `json:"metadata,omitempty"`
}

// Deployment is the message body published to the profile queue.
type Deployment struct {
	Type      string              `json:"type"`
	SubType   string              `json:"subType"`
	Key       string              `json:"key"`
	Timestamp int64               `json:"timestamp"`
	Entity    DeploymentEntity    `json:"entity"`
	AuthChain []catalyst.AuthLink `json:"authChain,omitempty"`
}

// Wrap creates a deployment message for the given entity.
func Wrap(entity catalyst.Entity) *Deployment {
	entityType := string(entity.Type)
	if entityType == "" {
		entityType = string(catalyst.EntityTypeProfile)
	}
	return &Deployment{
		Type:      TypeCatalystDeployment,
		SubType:   entityType,
		Key:       entity.ID,
		Timestamp: time.Now().UnixMilli(),
		Entity: DeploymentEntity{
			EntityID:        entity.ID,
			EntityType:      entityType,
			EntityTimestamp: entity.Timestamp,
			Version:         entity.Version,
			Pointers:        entity.Pointers,
			Content:         entity.Content,
			Metadata:        entity.Metadata,
		},
	}
}

// ToJSON serializes the deployment to a message body.
func (d *Deployment) ToJSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal deployment: %w", err)
	}
	return string(data), nil
}

// LegacyDeployment is the simplified message shape carrying an entity id and
// an avatar descriptor directly.
type LegacyDeployment struct {
	Entity string                    `json:"entity"`
	Avatar catalyst.AvatarDescriptor `json:"avatar"`
}

// DeploymentEvent is the standardized form of a validated queue message.
type DeploymentEvent struct {
	Type           string
	SubType        string
	EntityID       string
	EntityType     catalyst.EntityType
	Timestamp      int64 // milliseconds since epoch
	Version        string
	Pointers       []string
	Content        []catalyst.ContentMapping
	AuthChain      []catalyst.AuthLink
	InlineMetadata *catalyst.ProfileMetadata
}

// PublishedAt returns the event timestamp as a time.
func (e DeploymentEvent) PublishedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// InlineEntity builds a complete entity from the inline data of the event.
// It reports false when the event carries no renderable avatar.
func (e DeploymentEvent) InlineEntity() (catalyst.Entity, bool) {
	if _, ok := e.InlineMetadata.FirstAvatar(); !ok {
		return catalyst.Entity{}, false
	}
	return catalyst.Entity{
		ID:        e.EntityID,
		Type:      e.EntityType,
		Version:   e.Version,
		Pointers:  e.Pointers,
		Timestamp: e.Timestamp,
		Content:   e.Content,
		Metadata:  e.InlineMetadata,
	}, true
}
