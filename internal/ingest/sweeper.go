package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"gorm.io/gorm"
)

// Sweeper prunes idempotency markers past the retention window. It only ever
// removes markers for already-applied events, so it is safe to run while
// ingestion continues. An event redelivered after its marker was swept is
// re-applied as if new: the replay window is bounded by the retention
// setting, and correctness beyond that window is explicitly not promised.
type Sweeper struct {
	db        *gorm.DB
	interval  time.Duration
	retention time.Duration
	batchSize int
}

// NewSweeper returns a sweeper over db.
func NewSweeper(db *gorm.DB, interval, retention time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Sweeper{db: db, interval: interval, retention: retention, batchSize: batchSize}
}

// Start begins the periodic sweep loop. Returns when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.retention); err != nil {
				log.Error("Sweeper: sweep failed", "err", err)
			}
		}
	}
}

// Sweep deletes idempotency rows older than olderThan, in batches so a large
// backlog never holds long row locks. Returns the number of rows removed.
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for {
		res := s.db.WithContext(ctx).Exec(`
			DELETE FROM ingestion_idempotency
			WHERE idempotency_key IN (
				SELECT idempotency_key FROM ingestion_idempotency
				WHERE created_at < ?
				LIMIT ?
			)`, cutoff, s.batchSize)
		if res.Error != nil {
			return deleted, fmt.Errorf("sweep idempotency rows: %w", res.Error)
		}
		deleted += res.RowsAffected
		if res.RowsAffected < int64(s.batchSize) {
			break
		}
	}

	if deleted > 0 {
		log.Info("Sweeper: removed expired idempotency markers", "deleted", deleted, "cutoff", cutoff)
	}
	if metrics.SweepDeletedTotal != nil {
		metrics.SweepDeletedTotal.Add(float64(deleted))
	}
	if remaining, err := ActiveMarkers(ctx, s.db); err == nil && metrics.IdempotencyRows != nil {
		metrics.IdempotencyRows.Set(float64(remaining))
	}
	return deleted, nil
}
