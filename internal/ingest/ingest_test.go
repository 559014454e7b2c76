package ingest_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"gorm.io/gorm"
)

// setupDB opens a migrated throwaway SQLite database. Postgres-specific
// behavior is covered by the container-backed tests.
func setupDB(t *testing.T) (*gorm.DB, context.Context) {
	t.Helper()
	metrics.Init(nil)

	cfg := config.DefaultConfig()
	cfg.DBURL = "sqlite:" + filepath.Join(t.TempDir(), "ingest.db") + "?_busy_timeout=5000"
	ctx := config.WithContext(context.Background(), &cfg)

	db, err := store.Open(ctx, &cfg)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx, &cfg, db))
	return db, ctx
}

func makeEvent(t *testing.T, op jetstream.Operation, collection, did, rkey, rev string, payload any, pos int64) *jetstream.Event {
	t.Helper()
	ev := &jetstream.Event{
		DID:            did,
		Collection:     collection,
		RecordKey:      rkey,
		Revision:       rev,
		Operation:      op,
		StreamPosition: pos,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		ev.Record = raw
	}
	return ev
}
