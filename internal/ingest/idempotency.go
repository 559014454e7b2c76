package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"gorm.io/gorm"
)

// IdempotencyKey returns the dedup key for one record revision: the SHA-256
// hex digest (64 chars) over the record's natural identity plus revision.
// Identical redeliveries collide on the same key; a genuine re-edit carries a
// new revision and hashes to new work. The digest is cryptographic because
// the dedup guarantee depends on collision resistance across an unbounded
// event history.
func IdempotencyKey(did, collection, recordKey, revision string) string {
	h := sha256.New()
	h.Write([]byte(did))
	h.Write([]byte{0})
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(recordKey))
	h.Write([]byte{0})
	h.Write([]byte(revision))
	return hex.EncodeToString(h.Sum(nil))
}

// Guard claims events exactly once. Correctness comes from the primary-key
// constraint on the idempotency table; the ristretto cache in front of it is
// purely an advisory fast path for redeliveries this process already applied.
type Guard struct {
	cache *ristretto.Cache[string, struct{}]
}

// NewGuard returns a guard with an in-process recent-duplicate cache sized
// for roughly size keys.
func NewGuard(size int64) (*Guard, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create duplicate cache: %w", err)
	}
	return &Guard{cache: cache}, nil
}

// Seen reports whether key was already applied by this process. A miss says
// nothing; the claim insert is the authority.
func (g *Guard) Seen(key string) bool {
	_, ok := g.cache.Get(key)
	return ok
}

// Remember marks key as applied. Called only after the claiming transaction
// committed; caching inside the transaction would poison the fast path on
// rollback.
func (g *Guard) Remember(key string) {
	g.cache.Set(key, struct{}{}, 1)
}

// Claim inserts the dedup marker for ev inside tx. claimed=false means a
// prior delivery already applied this exact revision and the caller must skip
// every side effect. On claimed=true the caller applies the mutation in the
// same transaction, so a crash between claim and domain write cannot happen:
// either both land or neither does.
func (g *Guard) Claim(tx *gorm.DB, key, did, collection, recordKey, revision string) (bool, error) {
	row := model.IngestIdempotency{
		Key:        key,
		DID:        did,
		Collection: collection,
		RecordKey:  recordKey,
		Revision:   revision,
	}
	if err := tx.Create(&row).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return true, nil
}

// BindRow records the internal row the claim materialized, inside the same
// creating transaction. Informational only; the domain row owns its own
// lifecycle.
func (g *Guard) BindRow(tx *gorm.DB, key string, rowID uuid.UUID) error {
	if rowID == uuid.Nil {
		return nil
	}
	err := tx.Model(&model.IngestIdempotency{}).
		Where("idempotency_key = ?", key).
		Update("internal_row_id", rowID).Error
	if err != nil {
		return fmt.Errorf("bind idempotency row id: %w", err)
	}
	return nil
}

// ActiveMarkers counts live idempotency rows, for the status command and the
// retention gauge.
func ActiveMarkers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&model.IngestIdempotency{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count idempotency rows: %w", err)
	}
	return n, nil
}
