package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
)

var jetstreamEventFixture = jetstream.Event{
	DID:        "did:plc:alice",
	Collection: jetstream.CollectionScene,
	RecordKey:  "3ka",
}

func TestLowWaterBeforeAnyCompletion(t *testing.T) {
	tr := newProgressTracker()
	_, ok := tr.LowWater()
	assert.False(t, ok)

	tr.Add(10)
	_, ok = tr.LowWater()
	assert.False(t, ok, "in-flight work alone does not establish a mark")
}

func TestLowWaterFollowsMaxDoneWhenDrained(t *testing.T) {
	tr := newProgressTracker()
	tr.Add(10)
	tr.Add(11)
	tr.Done(11)
	tr.Done(10)

	pos, ok := tr.LowWater()
	assert.True(t, ok)
	assert.Equal(t, int64(11), pos)
}

// TestLowWaterHeldBackByStraggler: the mark stops just short of the slowest
// in-flight position, regardless of how far faster partitions have run ahead.
func TestLowWaterHeldBackByStraggler(t *testing.T) {
	tr := newProgressTracker()
	tr.Add(10)
	tr.Add(11)
	tr.Add(12)
	tr.Done(11)
	tr.Done(12)

	pos, ok := tr.LowWater()
	assert.True(t, ok)
	assert.Equal(t, int64(9), pos)

	tr.Done(10)
	pos, ok = tr.LowWater()
	assert.True(t, ok)
	assert.Equal(t, int64(12), pos)
}

// TestLowWaterDuplicatePositions: time_us values are not guaranteed distinct,
// so a position stays in flight until every event carrying it completes.
func TestLowWaterDuplicatePositions(t *testing.T) {
	tr := newProgressTracker()
	tr.Add(10)
	tr.Add(10)
	tr.Done(10)

	pos, ok := tr.LowWater()
	assert.True(t, ok)
	assert.Equal(t, int64(9), pos)

	tr.Done(10)
	pos, ok = tr.LowWater()
	assert.True(t, ok)
	assert.Equal(t, int64(10), pos)
}

func TestPartitionIsStable(t *testing.T) {
	pool := NewPool(nil, nil, PoolOptions{Workers: 8})
	ev := &jetstreamEventFixture

	first := pool.partition(ev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, pool.partition(ev))
	}
}

func TestPartitionSpreadsDistinctRecords(t *testing.T) {
	pool := NewPool(nil, nil, PoolOptions{Workers: 8})

	seen := map[int]bool{}
	for _, rkey := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		ev := jetstreamEventFixture
		ev.RecordKey = rkey
		part := pool.partition(&ev)
		assert.GreaterOrEqual(t, part, 0)
		assert.Less(t, part, 8)
		seen[part] = true
	}
	assert.Greater(t, len(seen), 1, "distinct records should not all collapse onto one partition")
}
