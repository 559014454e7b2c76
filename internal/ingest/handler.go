package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"gorm.io/gorm"
)

// Handler applies one collection's mutations. Apply runs inside the claiming
// transaction and must be a replayable function of (current row state, event):
// every side effect is gated behind the idempotency claim, so re-running a
// rolled-back apply is always safe.
//
// Apply returns the internal ID of the row it touched, or uuid.Nil when a
// delete found nothing to remove.
type Handler interface {
	Collection() string
	Apply(tx *gorm.DB, ev *jetstream.Event) (uuid.UUID, error)
}

// Registry is the closed set of collection handlers. Dispatch is a map
// lookup over known NSIDs, never reflection.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry wires one handler per ingested collection.
func NewRegistry(mapper *Mapper) *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	for _, h := range []Handler{
		&sceneHandler{mapper: mapper},
		&eventHandler{mapper: mapper},
		&postHandler{mapper: mapper},
		&membershipHandler{mapper: mapper},
		&allianceHandler{mapper: mapper},
		&sessionHandler{mapper: mapper},
	} {
		r.handlers[h.Collection()] = h
	}
	return r
}

// Lookup returns the handler for collection or an UnknownCollectionError.
func (r *Registry) Lookup(collection string) (Handler, error) {
	h, ok := r.handlers[collection]
	if !ok {
		return nil, &UnknownCollectionError{Collection: collection}
	}
	return h, nil
}

// decodePayload unmarshals the event record into out. Malformed upstream
// data is a permanent ValidationError, never retried.
func decodePayload(ev *jetstream.Event, out any) error {
	if len(ev.Record) == 0 {
		return &ValidationError{Collection: ev.Collection, Field: "record", Message: "missing payload"}
	}
	if err := json.Unmarshal(ev.Record, out); err != nil {
		return &ValidationError{Collection: ev.Collection, Field: "record", Message: fmt.Sprintf("malformed payload: %v", err)}
	}
	return nil
}

// parseTimestamp parses an optional RFC 3339 payload field.
func parseTimestamp(collection, field string, v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return nil, &ValidationError{Collection: collection, Field: field, Message: fmt.Sprintf("invalid timestamp %q", *v)}
	}
	return &t, nil
}

// refPair splits a record ref into nullable ref columns.
func refPair(ref *jetstream.RecordRef) (did, rkey *string) {
	if !ref.Set() {
		return nil, nil
	}
	return &ref.DID, &ref.RKey
}

// resolveRef resolves a payload ref against refCollection's table. An
// unresolved ref is not an error: the internal FK stays null and the raw ref
// columns let a later apply converge once the referenced record arrives.
func resolveRef(tx *gorm.DB, m *Mapper, refCollection string, ref *jetstream.RecordRef) (*uuid.UUID, error) {
	if !ref.Set() {
		return nil, nil
	}
	id, found, err := m.Resolve(tx, refCollection, ref.DID, ref.RKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &id, nil
}

// geoFields returns the location columns shared by scenes and events. The
// precise point is written only under consent; both columns are explicitly
// nulled otherwise so a consent flip can never leave an orphaned point.
func geoFields(p *jetstream.GeoPayload) map[string]any {
	fields := map[string]any{
		"geohash":       p.Geohash,
		"allow_precise": p.AllowPrecise,
		"precise_lat":   nil,
		"precise_lng":   nil,
	}
	if p.AllowPrecise && p.Precise != nil {
		fields["precise_lat"] = p.Precise.Lat
		fields["precise_lng"] = p.Precise.Lng
	}
	return fields
}

// reviveOnCreate clears the tombstone when an identity is re-created after a
// soft delete. Plain updates leave an existing tombstone in place.
func reviveOnCreate(ev *jetstream.Event, fields map[string]any) map[string]any {
	if ev.Operation == jetstream.OpCreate {
		fields["deleted_at"] = nil
	}
	return fields
}

// applyUpsert is the shared create-or-update path. Identity is resolved
// first; only on a miss does it create-and-bind, which is what prevents
// duplicate rows when two workers race on first sight of a record. An update
// event for a never-seen identity lands here too and becomes a create with
// the payload's fields, since redelivered streams do not guarantee create
// arrives first.
func applyUpsert(tx *gorm.DB, m *Mapper, ev *jetstream.Event, newRow func(id uuid.UUID, now time.Time) any, fields map[string]any) (uuid.UUID, error) {
	id, found, err := m.Resolve(tx, ev.Collection, ev.DID, ev.RecordKey)
	if err != nil {
		return uuid.Nil, err
	}
	if found {
		fields["updated_at"] = time.Now()
		err := tx.Table(collectionTables[ev.Collection]).
			Where("id = ?", id).
			Updates(fields).Error
		if err != nil {
			return uuid.Nil, classifyWriteError(ev, err)
		}
		return id, nil
	}

	now := time.Now()
	id = uuid.New()
	if err := tx.Create(newRow(id, now)).Error; err != nil {
		return uuid.Nil, classifyWriteError(ev, err)
	}
	if err := m.Bind(tx, ev.Collection, id, ev.DID, ev.RecordKey); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// classifyWriteError separates permanent constraint breakage from transient
// storage failures. CHECK violations mean the payload broke an invariant the
// handler validation should have caught; surfacing them as ValidationError
// keeps them out of the retry path.
func classifyWriteError(ev *jetstream.Event, err error) error {
	if store.IsCheckViolation(err) {
		return &ValidationError{Collection: ev.Collection, Field: "record", Message: fmt.Sprintf("storage constraint violated: %v", err)}
	}
	return fmt.Errorf("write %s row: %w", ev.Collection, err)
}

// applySoftDelete stamps the tombstone on a primary entity so existing
// references and historical feeds stay resolvable. Deleting a never-seen
// identity is a no-op, not an error.
func applySoftDelete(tx *gorm.DB, m *Mapper, ev *jetstream.Event) (uuid.UUID, error) {
	id, found, err := m.Resolve(tx, ev.Collection, ev.DID, ev.RecordKey)
	if err != nil {
		return uuid.Nil, err
	}
	if !found {
		return uuid.Nil, nil
	}
	now := time.Now()
	err = tx.Table(collectionTables[ev.Collection]).
		Where("id = ?", id).
		Updates(map[string]any{"deleted_at": now, "updated_at": now}).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("soft delete %s row: %w", ev.Collection, err)
	}
	return id, nil
}

// applyHardDelete removes a join-table row outright. RSVP-style rows carry
// no tombstone; nothing references them by internal ID.
func applyHardDelete(tx *gorm.DB, m *Mapper, ev *jetstream.Event) (uuid.UUID, error) {
	id, found, err := m.Resolve(tx, ev.Collection, ev.DID, ev.RecordKey)
	if err != nil {
		return uuid.Nil, err
	}
	if !found {
		return uuid.Nil, nil
	}
	// Table names come from the closed collection map, never from input.
	err = tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", collectionTables[ev.Collection]), id).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("hard delete %s row: %w", ev.Collection, err)
	}
	return id, nil
}
