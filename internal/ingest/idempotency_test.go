package ingest_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	b := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	_, err := hex.DecodeString(a)
	require.NoError(t, err)
}

// TestIdempotencyKeyComponentBoundaries verifies that shifting bytes between
// adjacent components produces distinct keys; a plain concatenation would
// collide here.
func TestIdempotencyKeyComponentBoundaries(t *testing.T) {
	a := ingest.IdempotencyKey("ab", "c", "d", "e")
	b := ingest.IdempotencyKey("a", "bc", "d", "e")
	assert.NotEqual(t, a, b)
}

func TestIdempotencyKeyRevisionSensitive(t *testing.T) {
	a := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	b := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev2")
	assert.NotEqual(t, a, b)
}

func TestGuardSeenAfterRemember(t *testing.T) {
	guard, err := ingest.NewGuard(100)
	require.NoError(t, err)

	key := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	assert.False(t, guard.Seen(key))

	guard.Remember(key)
	// The cache admits writes asynchronously.
	require.Eventually(t, func() bool { return guard.Seen(key) }, time.Second, 10*time.Millisecond)
}

func TestClaimIsExactlyOnce(t *testing.T) {
	db, ctx := setupDB(t)
	guard, err := ingest.NewGuard(100)
	require.NoError(t, err)

	key := ingest.IdempotencyKey("did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")

	claimed, err := guard.Claim(db, key, "did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = guard.Claim(db, key, "did:plc:alice", "live.subcurrent.scene", "3kabc", "rev1")
	require.NoError(t, err)
	assert.False(t, claimed)

	n, err := ingest.ActiveMarkers(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
