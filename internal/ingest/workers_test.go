package ingest_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
)

// TestPoolRunDrainsSource pushes a mixed event stream through a multi-worker
// pool and verifies every row landed and the cursor reached the final
// position.
func TestPoolRunDrainsSource(t *testing.T) {
	db, ctx := setupDB(t)
	pipeline, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)
	cursor := ingest.NewCursorStore(db)

	const scenes = 20
	events := make(chan *jetstream.Event, scenes+1)
	var pos int64
	for i := 0; i < scenes; i++ {
		pos++
		events <- makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene,
			"did:plc:alice", fmt.Sprintf("scene-%d", i), "rev1",
			jetstream.ScenePayload{Name: fmt.Sprintf("Scene %d", i)}, pos)
	}
	pos++
	events <- makeEvent(t, jetstream.OpCreate, jetstream.CollectionPost,
		"did:plc:bob", "3post", "rev1",
		jetstream.PostPayload{
			Text:  "last one",
			Scene: &jetstream.RecordRef{DID: "did:plc:alice", RKey: "scene-0"},
		}, pos)
	close(events)

	pool := ingest.NewPool(pipeline, cursor, ingest.PoolOptions{
		Workers:             3,
		QueueDepth:          8,
		CursorFlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, pool.Run(ctx, &jetstream.ChanSource{C: events}))

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(scenes), n)
	require.NoError(t, db.Model(&model.Post{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	final, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, pos, final)
}

// TestPoolRunPerRecordOrdering feeds several revisions of one record and
// checks the last revision's state wins; same-record events share a partition
// so they can never reorder.
func TestPoolRunPerRecordOrdering(t *testing.T) {
	db, ctx := setupDB(t)
	pipeline, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)
	cursor := ingest.NewCursorStore(db)

	const revisions = 10
	events := make(chan *jetstream.Event, revisions)
	for i := 1; i <= revisions; i++ {
		op := jetstream.OpUpdate
		if i == 1 {
			op = jetstream.OpCreate
		}
		events <- makeEvent(t, op, jetstream.CollectionScene,
			"did:plc:alice", "3ka", fmt.Sprintf("rev%d", i),
			jetstream.ScenePayload{Name: fmt.Sprintf("Name v%d", i)}, int64(i))
	}
	close(events)

	pool := ingest.NewPool(pipeline, cursor, ingest.PoolOptions{Workers: 4})
	require.NoError(t, pool.Run(ctx, &jetstream.ChanSource{C: events}))

	scene := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	assert.Equal(t, fmt.Sprintf("Name v%d", revisions), scene.Name)

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestPoolRunHaltsOnUnknownCollection(t *testing.T) {
	db, ctx := setupDB(t)
	pipeline, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)
	cursor := ingest.NewCursorStore(db)

	events := make(chan *jetstream.Event, 1)
	events <- makeEvent(t, jetstream.OpCreate, "live.subcurrent.bogus",
		"did:plc:alice", "3ka", "rev1", nil, 1)
	close(events)

	pool := ingest.NewPool(pipeline, cursor, ingest.PoolOptions{Workers: 2})
	err = pool.Run(ctx, &jetstream.ChanSource{C: events})
	require.Error(t, err)
	var unknown *ingest.UnknownCollectionError
	assert.ErrorAs(t, err, &unknown)
}
