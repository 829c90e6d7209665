package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentraland/profile-images/pkg/catalyst"
)

func testMetadata() *catalyst.ProfileMetadata {
	return &catalyst.ProfileMetadata{Avatars: []catalyst.AvatarInfo{{
		Avatar: catalyst.AvatarDescriptor{BodyShape: "urn:female", Wearables: []string{"urn:hat"}},
	}}}
}

func TestWrap(t *testing.T) {
	entity := catalyst.Entity{
		ID:        "bafy1",
		Type:      catalyst.EntityTypeProfile,
		Pointers:  []string{"0xabc"},
		Timestamp: 1700000000000,
		Metadata:  testMetadata(),
	}

	d := Wrap(entity)

	assert.Equal(t, TypeCatalystDeployment, d.Type)
	assert.Equal(t, "profile", d.SubType)
	assert.Equal(t, "bafy1", d.Key)
	assert.Equal(t, "bafy1", d.Entity.EntityID)
	assert.Equal(t, int64(1700000000000), d.Entity.EntityTimestamp)
	assert.NotZero(t, d.Timestamp)
}

func TestWrap_DefaultsEntityType(t *testing.T) {
	d := Wrap(catalyst.Entity{ID: "bafy1"})
	assert.Equal(t, "profile", d.Entity.EntityType)
}

func TestToJSON_UsesWireFieldNames(t *testing.T) {
	d := Wrap(catalyst.Entity{ID: "bafy1", Metadata: testMetadata()})

	body, err := d.ToJSON()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	assert.Contains(t, raw, "subType")

	var entity map[string]any
	require.NoError(t, json.Unmarshal(raw["entity"], &entity))
	assert.Equal(t, "bafy1", entity["entityId"])
	assert.Equal(t, "profile", entity["entityType"])
}

func TestInlineEntity(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		e := DeploymentEvent{
			EntityID:       "bafy1",
			EntityType:     catalyst.EntityTypeProfile,
			Timestamp:      42,
			Pointers:       []string{"bafy1"},
			InlineMetadata: testMetadata(),
		}
		entity, ok := e.InlineEntity()
		require.True(t, ok)
		assert.Equal(t, "bafy1", entity.ID)
		assert.Equal(t, int64(42), entity.Timestamp)
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, ok := DeploymentEvent{EntityID: "bafy1"}.InlineEntity()
		assert.False(t, ok)
	})

	t.Run("empty avatar", func(t *testing.T) {
		e := DeploymentEvent{
			EntityID:       "bafy1",
			InlineMetadata: &catalyst.ProfileMetadata{Avatars: []catalyst.AvatarInfo{{}}},
		}
		_, ok := e.InlineEntity()
		assert.False(t, ok)
	})
}

func TestPublishedAt(t *testing.T) {
	e := DeploymentEvent{Timestamp: 1700000000123}
	assert.Equal(t, time.UnixMilli(1700000000123), e.PublishedAt())
}
