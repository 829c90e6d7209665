// Package catalyst provides the wire types of catalyst content-server entities
// that the worker needs to render profile snapshots.
package catalyst

// EntityType identifies the kind of a catalyst entity.
type EntityType string

const (
	EntityTypeProfile  EntityType = "profile"
	EntityTypeScene    EntityType = "scene"
	EntityTypeWearable EntityType = "wearable"
	EntityTypeEmote    EntityType = "emote"
)

// MaxEntityIDLength bounds the length of an entity id.
const MaxEntityIDLength = 128

// ValidEntityID reports whether id looks like a content identifier: ASCII
// letters, digits, '-' and '_' only. Entity ids end up in storage keys and
// file names, so anything else is refused.
func ValidEntityID(id string) bool {
	if id == "" || len(id) > MaxEntityIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// ContentMapping maps a file name of an entity to its content hash.
type ContentMapping struct {
	File string `json:"file"`
	Hash string `json:"hash"`
}

// AuthLink is one link of a deployment auth chain.
type AuthLink struct {
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	Signature string `json:"signature,omitempty"`
}

// Entity is an active entity as returned by a content server.
type Entity struct {
	ID        string           `json:"id"`
	Type      EntityType       `json:"type"`
	Version   string           `json:"version,omitempty"`
	Pointers  []string         `json:"pointers"`
	Timestamp int64            `json:"timestamp"`
	Content   []ContentMapping `json:"content,omitempty"`
	Metadata  *ProfileMetadata `json:"metadata,omitempty"`
}

// ProfileMetadata is the metadata section of a profile entity.
type ProfileMetadata struct {
	Avatars []AvatarInfo `json:"avatars"`
}

// AvatarInfo is a single avatar entry of a profile.
type AvatarInfo struct {
	Name   string           `json:"name,omitempty"`
	UserID string           `json:"userId,omitempty"`
	Avatar AvatarDescriptor `json:"avatar"`
}

// Color is an RGBA color as used by avatar descriptors.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a,omitempty"`
}

// ColorHolder wraps a color the way profile metadata nests it.
type ColorHolder struct {
	Color Color `json:"color"`
}

// EmoteSlot binds an emote urn to a wheel slot.
type EmoteSlot struct {
	Slot int    `json:"slot"`
	Urn  string `json:"urn"`
}

// AvatarDescriptor is everything the renderer needs to draw an avatar.
type AvatarDescriptor struct {
	BodyShape string      `json:"bodyShape"`
	Eyes      ColorHolder `json:"eyes"`
	Hair      ColorHolder `json:"hair"`
	Skin      ColorHolder `json:"skin"`
	Wearables []string    `json:"wearables"`
	Emotes    []EmoteSlot `json:"emotes,omitempty"`
}

// IsZero reports whether the descriptor carries nothing renderable.
func (a AvatarDescriptor) IsZero() bool {
	return a.BodyShape == "" && len(a.Wearables) == 0
}

// FirstAvatar returns the first renderable avatar of the metadata.
func (m *ProfileMetadata) FirstAvatar() (AvatarDescriptor, bool) {
	if m == nil || len(m.Avatars) == 0 {
		return AvatarDescriptor{}, false
	}
	avatar := m.Avatars[0].Avatar
	if avatar.IsZero() {
		return AvatarDescriptor{}, false
	}
	return avatar, true
}
