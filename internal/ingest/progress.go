package ingest

import "sync"

// progressTracker computes the stream position the cursor may safely advance
// to. Partitions commit independently, so the cursor follows the minimum
// in-flight position minus one: a slow partition holds the low-water mark
// back for exactly the events it has not yet committed, and nothing else.
//
// Positions are reference-counted because Jetstream time_us values are only
// monotonic per emission, not guaranteed distinct.
type progressTracker struct {
	mu       sync.Mutex
	inflight map[int64]int
	maxDone  int64
	seen     bool
}

func newProgressTracker() *progressTracker {
	return &progressTracker{inflight: map[int64]int{}}
}

// Add marks pos as in flight. Called by the router before handing the event
// to a partition.
func (t *progressTracker) Add(pos int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[pos]++
}

// Done marks pos as fully handled: committed, skipped as duplicate, or
// permanently rejected.
func (t *progressTracker) Done(pos int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.inflight[pos]
	if n <= 1 {
		delete(t.inflight, pos)
	} else {
		t.inflight[pos] = n - 1
	}
	if pos > t.maxDone {
		t.maxDone = pos
	}
	t.seen = true
}

// LowWater returns the highest position the cursor may be advanced to.
// ok is false until at least one event has completed.
func (t *progressTracker) LowWater() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		return 0, false
	}
	if len(t.inflight) == 0 {
		return t.maxDone, true
	}
	min := int64(0)
	first := true
	for pos := range t.inflight {
		if first || pos < min {
			min = pos
			first = false
		}
	}
	return min - 1, true
}
