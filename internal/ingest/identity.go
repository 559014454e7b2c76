package ingest

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"gorm.io/gorm"
)

// collectionTables maps each ingested collection NSID to the domain table
// holding its rows. A closed set: anything else is an UnknownCollectionError
// long before it reaches identity resolution.
var collectionTables = map[string]string{
	jetstream.CollectionScene:      "scenes",
	jetstream.CollectionEvent:      "events",
	jetstream.CollectionPost:       "posts",
	jetstream.CollectionMembership: "scene_memberships",
	jetstream.CollectionAlliance:   "scene_alliances",
	jetstream.CollectionSession:    "stream_sessions",
}

// Mapper resolves external (DID, record key) pairs to internal primary keys.
// The pair is a lookup key into each table's own UUID space, never a join key
// itself, so internal IDs stay stable regardless of the external identity
// scheme.
type Mapper struct{}

// Resolve looks up the row bound to (did, recordKey) in the collection's
// table. found=false is not an error: creation paths fall through to
// create-and-Bind, and delete paths treat it as already-gone.
func (m *Mapper) Resolve(tx *gorm.DB, collection, did, recordKey string) (uuid.UUID, bool, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return uuid.Nil, false, &UnknownCollectionError{Collection: collection}
	}
	var row struct{ ID uuid.UUID }
	res := tx.Table(table).
		Select("id").
		Where("record_did = ? AND record_key = ?", did, recordKey).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return uuid.Nil, false, fmt.Errorf("resolve %s identity: %w", collection, res.Error)
	}
	if res.RowsAffected == 0 {
		return uuid.Nil, false, nil
	}
	return row.ID, true, nil
}

// Bind sets the identity pair on a freshly created row. Identity is
// write-once: the update refuses rows that already carry one, and the unique
// index turns a concurrent first-sight race into an IdentityConflictError,
// on which the caller aborts its transaction and re-applies as an update
// against the winner's row.
func (m *Mapper) Bind(tx *gorm.DB, collection string, internalID uuid.UUID, did, recordKey string) error {
	table, ok := collectionTables[collection]
	if !ok {
		return &UnknownCollectionError{Collection: collection}
	}
	res := tx.Table(table).
		Where("id = ? AND record_did IS NULL AND record_key IS NULL", internalID).
		Updates(map[string]any{"record_did": did, "record_key": recordKey})
	if res.Error != nil {
		if store.IsUniqueViolation(res.Error) {
			return &IdentityConflictError{Collection: collection, DID: did, RecordKey: recordKey}
		}
		return fmt.Errorf("bind %s identity: %w", collection, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bind %s identity: row %s missing or already bound", collection, internalID)
	}
	return nil
}
