package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a live stream session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

// Valid reports whether s is one of the known session states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionLive, SessionEnded:
		return true
	}
	return false
}

// Scene is a community space materialized from a live.subcurrent.scene record.
//
// RecordDID/RecordKey form the external record identity. Both are null for
// rows created through non-ingestion paths; once set they are immutable.
// The internal ID is never derived from the external identity.
type Scene struct {
	ID          uuid.UUID `json:"id"                    gorm:"primaryKey;type:uuid"`
	RecordDID   *string   `json:"recordDid,omitempty"   gorm:"column:record_did;uniqueIndex:ux_scenes_record_identity"`
	RecordKey   *string   `json:"recordKey,omitempty"   gorm:"uniqueIndex:ux_scenes_record_identity"`
	Name        string    `json:"name"                  gorm:"not null"`
	Description string    `json:"description"`

	// Location. Geohash is the coarse, always-permitted representation;
	// the precise point may only be stored when AllowPrecise is true.
	Geohash      string   `json:"geohash"`
	AllowPrecise bool     `json:"allowPrecise"          gorm:"not null;default:false"`
	PreciseLat   *float64 `json:"preciseLat,omitempty"`
	PreciseLng   *float64 `json:"preciseLng,omitempty"`

	CreatedAt time.Time  `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"             gorm:"not null"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (Scene) TableName() string { return "scenes" }

// Event is a gathering materialized from a live.subcurrent.event record.
type Event struct {
	ID        uuid.UUID `json:"id"                  gorm:"primaryKey;type:uuid"`
	RecordDID *string   `json:"recordDid,omitempty" gorm:"column:record_did;uniqueIndex:ux_events_record_identity"`
	RecordKey *string   `json:"recordKey,omitempty" gorm:"uniqueIndex:ux_events_record_identity"`

	Title       string     `json:"title"                 gorm:"not null"`
	Description string     `json:"description"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`

	// SceneID is resolved from the upstream scene ref when the referenced
	// scene has been ingested; the raw ref is kept so a later apply can
	// resolve it once the scene arrives.
	SceneID     *uuid.UUID `json:"sceneId,omitempty"     gorm:"type:uuid;index"`
	SceneRefDID *string    `json:"sceneRefDid,omitempty" gorm:"column:scene_ref_did"`
	SceneRefKey *string    `json:"sceneRefKey,omitempty"`

	Geohash      string   `json:"geohash"`
	AllowPrecise bool     `json:"allowPrecise"          gorm:"not null;default:false"`
	PreciseLat   *float64 `json:"preciseLat,omitempty"`
	PreciseLng   *float64 `json:"preciseLng,omitempty"`

	CreatedAt time.Time  `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"             gorm:"not null"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (Event) TableName() string { return "events" }

// Post is a feed entry materialized from a live.subcurrent.post record.
// A post must reference a scene or an event, or both.
type Post struct {
	ID        uuid.UUID `json:"id"                  gorm:"primaryKey;type:uuid"`
	RecordDID *string   `json:"recordDid,omitempty" gorm:"column:record_did;uniqueIndex:ux_posts_record_identity"`
	RecordKey *string   `json:"recordKey,omitempty" gorm:"uniqueIndex:ux_posts_record_identity"`

	AuthorDID string `json:"authorDid"             gorm:"column:author_did;not null;index"`
	Text      string `json:"text"                  gorm:"not null"`

	SceneID     *uuid.UUID `json:"sceneId,omitempty"     gorm:"type:uuid;index"`
	SceneRefDID *string    `json:"sceneRefDid,omitempty" gorm:"column:scene_ref_did"`
	SceneRefKey *string    `json:"sceneRefKey,omitempty"`
	EventID     *uuid.UUID `json:"eventId,omitempty"     gorm:"type:uuid;index"`
	EventRefDID *string    `json:"eventRefDid,omitempty" gorm:"column:event_ref_did"`
	EventRefKey *string    `json:"eventRefKey,omitempty"`

	CreatedAt time.Time  `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"             gorm:"not null"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (Post) TableName() string { return "posts" }

// SceneMembership joins a member DID to a scene with a trust weight in [0,1].
// Membership rows are hard-deleted on record deletion; they carry no tombstone.
type SceneMembership struct {
	ID        uuid.UUID `json:"id"                  gorm:"primaryKey;type:uuid"`
	RecordDID *string   `json:"recordDid,omitempty" gorm:"column:record_did;uniqueIndex:ux_memberships_record_identity"`
	RecordKey *string   `json:"recordKey,omitempty" gorm:"uniqueIndex:ux_memberships_record_identity"`

	MemberDID   string  `json:"memberDid"             gorm:"column:member_did;not null;index"`
	Role        string  `json:"role"                  gorm:"not null;default:'member'"`
	TrustWeight float64 `json:"trustWeight"           gorm:"not null;default:0"`

	SceneID     *uuid.UUID `json:"sceneId,omitempty"     gorm:"type:uuid;index"`
	SceneRefDID *string    `json:"sceneRefDid,omitempty" gorm:"column:scene_ref_did"`
	SceneRefKey *string    `json:"sceneRefKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt"             gorm:"not null"`
}

func (SceneMembership) TableName() string { return "scene_memberships" }

// SceneAlliance is a weighted edge between two scenes, used as input to
// trust computation. Alliance rows are hard-deleted on record deletion.
type SceneAlliance struct {
	ID        uuid.UUID `json:"id"                  gorm:"primaryKey;type:uuid"`
	RecordDID *string   `json:"recordDid,omitempty" gorm:"column:record_did;uniqueIndex:ux_alliances_record_identity"`
	RecordKey *string   `json:"recordKey,omitempty" gorm:"uniqueIndex:ux_alliances_record_identity"`

	Weight float64 `json:"weight"                gorm:"not null;default:0"`

	SceneID     *uuid.UUID `json:"sceneId,omitempty"     gorm:"type:uuid;index"`
	SceneRefDID *string    `json:"sceneRefDid,omitempty" gorm:"column:scene_ref_did"`
	SceneRefKey *string    `json:"sceneRefKey,omitempty"`

	AllySceneID     *uuid.UUID `json:"allySceneId,omitempty" gorm:"type:uuid;index"`
	AllySceneRefDID *string    `json:"allySceneRefDid,omitempty" gorm:"column:ally_scene_ref_did"`
	AllySceneRefKey *string    `json:"allySceneRefKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt"             gorm:"not null"`
}

func (SceneAlliance) TableName() string { return "scene_alliances" }

// StreamSession is a live-audio session materialized from a
// live.subcurrent.session record. The media plane lives elsewhere; this row
// only anchors discovery and history.
type StreamSession struct {
	ID        uuid.UUID `json:"id"                  gorm:"primaryKey;type:uuid"`
	RecordDID *string   `json:"recordDid,omitempty" gorm:"column:record_did;uniqueIndex:ux_sessions_record_identity"`
	RecordKey *string   `json:"recordKey,omitempty" gorm:"uniqueIndex:ux_sessions_record_identity"`

	Title     string        `json:"title"                 gorm:"not null"`
	Status    SessionStatus `json:"status"                gorm:"not null;default:'scheduled'"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`

	SceneID     *uuid.UUID `json:"sceneId,omitempty"     gorm:"type:uuid;index"`
	SceneRefDID *string    `json:"sceneRefDid,omitempty" gorm:"column:scene_ref_did"`
	SceneRefKey *string    `json:"sceneRefKey,omitempty"`
	EventID     *uuid.UUID `json:"eventId,omitempty"     gorm:"type:uuid;index"`
	EventRefDID *string    `json:"eventRefDid,omitempty" gorm:"column:event_ref_did"`
	EventRefKey *string    `json:"eventRefKey,omitempty"`

	CreatedAt time.Time  `json:"createdAt"             gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"             gorm:"not null"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (StreamSession) TableName() string { return "stream_sessions" }

// IngestCursor is the single-row resume position for the upstream
// subscription. Exactly one row exists (ID 1), created at bootstrap with
// position 0 and overwritten in place after each committed batch.
type IngestCursor struct {
	ID        int16     `gorm:"primaryKey"`
	Position  int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (IngestCursor) TableName() string { return "ingestion_cursor" }

// IngestIdempotency is a dedup marker for one applied mutation event.
// Key is the SHA-256 hex digest of (did, collection, record key, revision),
// so redeliveries of the same change collide on the primary key. Rows are
// written once, never updated, and removed only by the retention sweeper.
type IngestIdempotency struct {
	Key           string     `gorm:"primaryKey;column:idempotency_key;size:64"`
	DID           string     `gorm:"column:did;not null;index:ix_idempotency_did_collection"`
	Collection    string     `gorm:"not null;index:ix_idempotency_did_collection"`
	RecordKey     string     `gorm:"not null"`
	Revision      string     `gorm:"not null"`
	InternalRowID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time  `gorm:"not null;index:ix_idempotency_created_at"`
}

func (IngestIdempotency) TableName() string { return "ingestion_idempotency" }

// All returns every model the ingestion pipeline persists, in migration order.
func All() []any {
	return []any{
		&Scene{},
		&Event{},
		&Post{},
		&SceneMembership{},
		&SceneAlliance{},
		&StreamSession{},
		&IngestCursor{},
		&IngestIdempotency{},
	}
}
