package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

// CursorStore persists the stream resume position as a single row overwritten
// in place. The stored position may lag the highest committed event but never
// lead it: a crash after domain commits but before a cursor flush only causes
// redelivery, which the idempotency guard absorbs.
type CursorStore struct {
	db *gorm.DB
}

// NewCursorStore returns a cursor store over db. Migrate seeds the singleton
// row, so Load works immediately after bootstrap.
func NewCursorStore(db *gorm.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Load returns the last committed position. The transport collaborator calls
// this on startup to resume the upstream subscription.
func (c *CursorStore) Load(ctx context.Context) (int64, error) {
	var row model.IngestCursor
	if err := c.db.WithContext(ctx).First(&row, "id = ?", 1).Error; err != nil {
		return 0, fmt.Errorf("load ingestion cursor: %w", err)
	}
	return row.Position, nil
}

// Advance moves the cursor forward to position. Calls with a position at or
// behind the stored one are no-ops, so the cursor is monotonic even when a
// restarted process races a stale committer flush.
func (c *CursorStore) Advance(ctx context.Context, position int64) error {
	res := c.db.WithContext(ctx).
		Model(&model.IngestCursor{}).
		Where("id = ? AND position < ?", 1, position).
		Updates(map[string]any{"position": position, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("advance ingestion cursor: %w", res.Error)
	}
	if res.RowsAffected > 0 && metrics.CursorPosition != nil {
		metrics.CursorPosition.Set(float64(position))
	}
	return nil
}
