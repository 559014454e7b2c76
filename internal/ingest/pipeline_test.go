package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

func findScene(t *testing.T, db *gorm.DB, did, rkey string) *model.Scene {
	t.Helper()
	var row model.Scene
	res := db.Where("record_did = ? AND record_key = ?", did, rkey).Limit(1).Find(&row)
	require.NoError(t, res.Error)
	if res.RowsAffected == 0 {
		return nil
	}
	return &row
}

func findPost(t *testing.T, db *gorm.DB, did, rkey string) *model.Post {
	t.Helper()
	var row model.Post
	res := db.Where("record_did = ? AND record_key = ?", did, rkey).Limit(1).Find(&row)
	require.NoError(t, res.Error)
	if res.RowsAffected == 0 {
		return nil
	}
	return &row
}

func TestProcessCreateScene(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	ev := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District", Description: "late night techno"}, 100)

	outcome, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	scene := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	assert.Equal(t, "Warehouse District", scene.Name)
	assert.Nil(t, scene.DeletedAt)

	markers, err := ingest.ActiveMarkers(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), markers)
}

// TestProcessRedelivery replays the identical event through the same
// pipeline: the second delivery is a duplicate with no second row or marker.
func TestProcessRedelivery(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	ev := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 100)

	outcome, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	outcome, err = p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeDuplicate, outcome)

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// TestProcessRedeliveryAcrossRestart uses a second pipeline with a cold
// duplicate cache, forcing the dedup decision down to the claim insert.
func TestProcessRedeliveryAcrossRestart(t *testing.T) {
	db, ctx := setupDB(t)
	ev := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 100)

	p1, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)
	outcome, err := p1.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	p2, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)
	outcome, err = p2.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeDuplicate, outcome)

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestProcessUpdateLastWriteWins(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)
	created := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, created)

	update := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev2",
		jetstream.ScenePayload{Name: "Warehouse District (renamed)"}, 101)
	outcome, err := p.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	updated := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, updated)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Warehouse District (renamed)", updated.Name)

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// TestProcessUpdateBeforeCreate: a redelivered stream does not guarantee the
// create arrives first. An update for a never-seen identity materializes the
// row from the update's payload.
func TestProcessUpdateBeforeCreate(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	update := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev2",
		jetstream.ScenePayload{Name: "Warehouse District"}, 101)
	outcome, err := p.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	scene := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	assert.Equal(t, "Warehouse District", scene.Name)
}

func TestProcessConsentViolationRejected(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	bad := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{
			Name: "Warehouse District",
			GeoPayload: jetstream.GeoPayload{
				AllowPrecise: false,
				Precise:      &jetstream.GeoPoint{Lat: 52.52, Lng: 13.405},
			},
		}, 100)

	outcome, err := p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
	assert.Nil(t, findScene(t, db, "did:plc:alice", "3ka"))
}

// TestProcessConsentViolationLeavesRowUntouched: a violating update fails
// alone; the previously stored state survives.
func TestProcessConsentViolationLeavesRowUntouched(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)

	bad := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev2",
		jetstream.ScenePayload{
			Name: "hijacked",
			GeoPayload: jetstream.GeoPayload{
				AllowPrecise: false,
				Precise:      &jetstream.GeoPoint{Lat: 52.52, Lng: 13.405},
			},
		}, 101)
	outcome, err := p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)

	scene := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	assert.Equal(t, "Warehouse District", scene.Name)
}

// TestProcessConsentRevocationNullsPoint: flipping allowPrecise off without a
// stale point is legal, and the same write nulls the stored coordinates.
func TestProcessConsentRevocationNullsPoint(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{
			Name: "Warehouse District",
			GeoPayload: jetstream.GeoPayload{
				Geohash:      "u33db",
				AllowPrecise: true,
				Precise:      &jetstream.GeoPoint{Lat: 52.52, Lng: 13.405},
			},
		}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)

	scene := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	require.NotNil(t, scene.PreciseLat)

	revoke := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev2",
		jetstream.ScenePayload{
			Name: "Warehouse District",
			GeoPayload: jetstream.GeoPayload{
				Geohash:      "u33db",
				AllowPrecise: false,
			},
		}, 101)
	outcome, err := p.Process(ctx, revoke)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	scene = findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, scene)
	assert.False(t, scene.AllowPrecise)
	assert.Nil(t, scene.PreciseLat)
	assert.Nil(t, scene.PreciseLng)
	assert.Equal(t, "u33db", scene.Geohash)
}

func TestProcessSoftDeleteAndRevive(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)
	created := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, created)

	del := makeEvent(t, jetstream.OpDelete, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev2", nil, 101)
	outcome, err := p.Process(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	deleted := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, deleted, "soft delete keeps the row")
	assert.NotNil(t, deleted.DeletedAt)

	recreate := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev3",
		jetstream.ScenePayload{Name: "Warehouse District v2"}, 102)
	_, err = p.Process(ctx, recreate)
	require.NoError(t, err)

	revived := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, revived)
	assert.Equal(t, created.ID, revived.ID, "revival reuses the tombstoned row")
	assert.Nil(t, revived.DeletedAt)
	assert.Equal(t, "Warehouse District v2", revived.Name)
}

func TestProcessDeleteUnknownIdentityIsNoop(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	del := makeEvent(t, jetstream.OpDelete, jetstream.CollectionScene, "did:plc:alice", "never-seen", "rev1", nil, 100)
	outcome, err := p.Process(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	var n int64
	require.NoError(t, db.Model(&model.Scene{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestProcessHardDeleteMembership(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionMembership, "did:plc:bob", "3mem", "rev1",
		jetstream.MembershipPayload{
			Scene:       &jetstream.RecordRef{DID: "did:plc:alice", RKey: "3ka"},
			TrustWeight: 0.5,
		}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&model.SceneMembership{}).Count(&n).Error)
	require.Equal(t, int64(1), n)

	del := makeEvent(t, jetstream.OpDelete, jetstream.CollectionMembership, "did:plc:bob", "3mem", "rev2", nil, 101)
	outcome, err := p.Process(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeApplied, outcome)

	require.NoError(t, db.Model(&model.SceneMembership{}).Count(&n).Error)
	assert.Equal(t, int64(0), n, "membership rows are removed outright")
}

func TestProcessMembershipDefaults(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionMembership, "did:plc:bob", "3mem", "rev1",
		jetstream.MembershipPayload{
			Scene:       &jetstream.RecordRef{DID: "did:plc:alice", RKey: "3ka"},
			TrustWeight: 0.5,
		}, 100)
	_, err = p.Process(ctx, create)
	require.NoError(t, err)

	var row model.SceneMembership
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "did:plc:bob", row.MemberDID, "member defaults to the record author")
	assert.Equal(t, "member", row.Role)
}

func TestProcessMembershipTrustWeightOutOfRange(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	bad := makeEvent(t, jetstream.OpCreate, jetstream.CollectionMembership, "did:plc:bob", "3mem", "rev1",
		jetstream.MembershipPayload{
			Scene:       &jetstream.RecordRef{DID: "did:plc:alice", RKey: "3ka"},
			TrustWeight: 1.5,
		}, 100)
	outcome, err := p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
}

func TestProcessPostRequiresRef(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	bad := makeEvent(t, jetstream.OpCreate, jetstream.CollectionPost, "did:plc:bob", "3post", "rev1",
		jetstream.PostPayload{Text: "floating in the void"}, 100)
	outcome, err := p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
	assert.Nil(t, findPost(t, db, "did:plc:bob", "3post"))
}

// TestProcessPostRefConvergence: a post may arrive before the scene it
// references. The raw ref is stored immediately; a later apply resolves the
// internal FK once the scene exists.
func TestProcessPostRefConvergence(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	sceneRef := &jetstream.RecordRef{DID: "did:plc:alice", RKey: "3ka"}

	post := makeEvent(t, jetstream.OpCreate, jetstream.CollectionPost, "did:plc:bob", "3post", "rev1",
		jetstream.PostPayload{Text: "see you there", Scene: sceneRef}, 100)
	_, err = p.Process(ctx, post)
	require.NoError(t, err)

	row := findPost(t, db, "did:plc:bob", "3post")
	require.NotNil(t, row)
	assert.Nil(t, row.SceneID, "scene not ingested yet")
	require.NotNil(t, row.SceneRefDID)
	assert.Equal(t, "did:plc:alice", *row.SceneRefDID)

	scene := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "Warehouse District"}, 101)
	_, err = p.Process(ctx, scene)
	require.NoError(t, err)
	sceneRow := findScene(t, db, "did:plc:alice", "3ka")
	require.NotNil(t, sceneRow)

	postUpdate := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionPost, "did:plc:bob", "3post", "rev2",
		jetstream.PostPayload{Text: "see you there", Scene: sceneRef}, 102)
	_, err = p.Process(ctx, postUpdate)
	require.NoError(t, err)

	row = findPost(t, db, "did:plc:bob", "3post")
	require.NotNil(t, row)
	require.NotNil(t, row.SceneID)
	assert.Equal(t, sceneRow.ID, *row.SceneID)
}

func TestProcessAllianceValidation(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	scene := &jetstream.RecordRef{DID: "did:plc:alice", RKey: "3ka"}
	ally := &jetstream.RecordRef{DID: "did:plc:dana", RKey: "3kb"}

	missing := makeEvent(t, jetstream.OpCreate, jetstream.CollectionAlliance, "did:plc:alice", "3all", "rev1",
		jetstream.AlliancePayload{Scene: scene, Weight: 0.5}, 100)
	outcome, err := p.Process(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome, "both refs are required")

	heavy := makeEvent(t, jetstream.OpCreate, jetstream.CollectionAlliance, "did:plc:alice", "3all", "rev2",
		jetstream.AlliancePayload{Scene: scene, Ally: ally, Weight: 2}, 101)
	outcome, err = p.Process(ctx, heavy)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)

	good := makeEvent(t, jetstream.OpCreate, jetstream.CollectionAlliance, "did:plc:alice", "3all", "rev3",
		jetstream.AlliancePayload{Scene: scene, Ally: ally, Weight: 0.75}, 102)
	outcome, err = p.Process(ctx, good)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeApplied, outcome)

	var row model.SceneAlliance
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, 0.75, row.Weight)
	require.NotNil(t, row.AllySceneRefDID)
	assert.Equal(t, "did:plc:dana", *row.AllySceneRefDID)
}

func TestProcessSessionStatus(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	// Empty status defaults to scheduled.
	create := makeEvent(t, jetstream.OpCreate, jetstream.CollectionSession, "did:plc:carol", "3sess", "rev1",
		jetstream.SessionPayload{Title: "Friday night set"}, 100)
	outcome, err := p.Process(ctx, create)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeApplied, outcome)

	var row model.StreamSession
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, model.SessionScheduled, row.Status)

	// An unknown status is a permanent reject.
	bad := makeEvent(t, jetstream.OpUpdate, jetstream.CollectionSession, "did:plc:carol", "3sess", "rev2",
		jetstream.SessionPayload{Title: "Friday night set", Status: "paused"}, 101)
	outcome, err = p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)

	// A malformed timestamp is a permanent reject.
	ts := "not-a-time"
	bad = makeEvent(t, jetstream.OpUpdate, jetstream.CollectionSession, "did:plc:carol", "3sess", "rev3",
		jetstream.SessionPayload{Title: "Friday night set", StartedAt: &ts}, 102)
	outcome, err = p.Process(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
}

func TestProcessMalformedPayload(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	ev := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1", nil, 100)
	ev.Record = []byte(`{"name": `)

	outcome, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
}

func TestProcessUnknownCollection(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	ev := makeEvent(t, jetstream.OpCreate, "live.subcurrent.bogus", "did:plc:alice", "3ka", "rev1", nil, 100)
	_, err = p.Process(ctx, ev)
	require.Error(t, err)
	var unknown *ingest.UnknownCollectionError
	assert.ErrorAs(t, err, &unknown)
}

func TestProcessInvalidEnvelope(t *testing.T) {
	db, ctx := setupDB(t)
	p, err := ingest.NewPipeline(db, 100)
	require.NoError(t, err)

	ev := makeEvent(t, jetstream.OpCreate, jetstream.CollectionScene, "did:plc:alice", "3ka", "rev1",
		jetstream.ScenePayload{Name: "x"}, 100)
	ev.Revision = ""

	outcome, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
}
