// Package jetstream defines the boundary with the upstream firehose
// transport. The transport collaborator owns the websocket/wire protocol;
// this package only carries already-decoded record mutation events into the
// ingestion pipeline.
package jetstream

import (
	"encoding/json"
	"fmt"
)

// Operation is the mutation kind carried by an event.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known mutation kind.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Collection NSIDs ingested by the pipeline. Anything else is rejected as a
// configuration error before it reaches a worker.
const (
	CollectionScene      = "live.subcurrent.scene"
	CollectionEvent      = "live.subcurrent.event"
	CollectionPost       = "live.subcurrent.post"
	CollectionMembership = "live.subcurrent.membership"
	CollectionAlliance   = "live.subcurrent.alliance"
	CollectionSession    = "live.subcurrent.session"
)

// Event is one decoded record mutation. StreamPosition is the transport's
// monotonically-assigned position (Jetstream time_us); the cursor store
// resumes the subscription from it after restart.
//
// Record holds the collection-specific payload as decoded JSON. It is nil
// for deletes.
type Event struct {
	DID            string          `json:"did"`
	Collection     string          `json:"collection"`
	RecordKey      string          `json:"rkey"`
	Revision       string          `json:"rev"`
	Operation      Operation       `json:"operation"`
	Record         json.RawMessage `json:"record,omitempty"`
	StreamPosition int64           `json:"time_us"`
}

// Validate checks the fields the pipeline cannot work without.
func (e *Event) Validate() error {
	if e.DID == "" {
		return fmt.Errorf("event missing did")
	}
	if e.Collection == "" {
		return fmt.Errorf("event missing collection")
	}
	if e.RecordKey == "" {
		return fmt.Errorf("event missing rkey")
	}
	if e.Revision == "" {
		return fmt.Errorf("event missing rev")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("event has unknown operation %q", e.Operation)
	}
	return nil
}

// RecordRef points at another record by its external identity. Payloads use
// refs instead of internal IDs; the pipeline resolves them against the local
// tables and keeps the raw pair for refs that cannot be resolved yet.
type RecordRef struct {
	DID  string `json:"did"`
	RKey string `json:"rkey"`
}

// Set reports whether the ref names a record.
func (r *RecordRef) Set() bool {
	return r != nil && r.DID != "" && r.RKey != ""
}

// GeoPayload is the shared location shape of scene and event records.
type GeoPayload struct {
	Geohash      string    `json:"geohash,omitempty"`
	AllowPrecise bool      `json:"allowPrecise"`
	Precise      *GeoPoint `json:"precise,omitempty"`
}

// GeoPoint is a precise coordinate pair. Storing one requires explicit
// consent via AllowPrecise.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ScenePayload is the decoded live.subcurrent.scene record.
type ScenePayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GeoPayload
}

// EventPayload is the decoded live.subcurrent.event record.
type EventPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Scene       *RecordRef `json:"scene,omitempty"`
	StartsAt    *string    `json:"startsAt,omitempty"`
	EndsAt      *string    `json:"endsAt,omitempty"`
	GeoPayload
}

// PostPayload is the decoded live.subcurrent.post record. A post must
// reference a scene or an event, or both.
type PostPayload struct {
	Text  string     `json:"text"`
	Scene *RecordRef `json:"scene,omitempty"`
	Event *RecordRef `json:"event,omitempty"`
}

// MembershipPayload is the decoded live.subcurrent.membership record.
type MembershipPayload struct {
	Scene       *RecordRef `json:"scene"`
	Member      string     `json:"member"`
	Role        string     `json:"role,omitempty"`
	TrustWeight float64    `json:"trustWeight"`
}

// AlliancePayload is the decoded live.subcurrent.alliance record.
type AlliancePayload struct {
	Scene  *RecordRef `json:"scene"`
	Ally   *RecordRef `json:"ally"`
	Weight float64    `json:"weight"`
}

// SessionPayload is the decoded live.subcurrent.session record.
type SessionPayload struct {
	Title     string     `json:"title"`
	Status    string     `json:"status,omitempty"`
	Scene     *RecordRef `json:"scene,omitempty"`
	Event     *RecordRef `json:"event,omitempty"`
	StartedAt *string    `json:"startedAt,omitempty"`
	EndedAt   *string    `json:"endedAt,omitempty"`
}
