package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
)

// PoolOptions tunes the partitioned worker pool.
type PoolOptions struct {
	Workers             int
	QueueDepth          int
	CursorFlushInterval time.Duration
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	// RetryMaxAttempt is the attempt count after which transient failures
	// escalate from warning to error logging. Retrying never stops short
	// of shutdown: dropping an event silently would break exactly-once.
	RetryMaxAttempt int
}

func (o *PoolOptions) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	if o.CursorFlushInterval <= 0 {
		o.CursorFlushInterval = 2 * time.Second
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 250 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 30 * time.Second
	}
	if o.RetryMaxAttempt <= 0 {
		o.RetryMaxAttempt = 8
	}
}

// Pool fans events out to partitioned workers. Events with the same
// (did, collection, rkey) always hash to the same partition, so per-record
// stream order is preserved without any global lock; collections interleave
// freely across partitions.
type Pool struct {
	pipeline *Pipeline
	cursor   *CursorStore
	opts     PoolOptions
	progress *progressTracker
}

// NewPool builds a pool over pipeline, flushing committed progress to cursor.
func NewPool(pipeline *Pipeline, cursor *CursorStore, opts PoolOptions) *Pool {
	opts.applyDefaults()
	return &Pool{
		pipeline: pipeline,
		cursor:   cursor,
		opts:     opts,
		progress: newProgressTracker(),
	}
}

// Run consumes src until it is exhausted or ctx is cancelled. Cancellation is
// graceful: the router stops pulling, workers finish their current
// transaction, and the final low-water mark is flushed before returning.
// A worker hitting an unknown collection halts the whole pool and Run
// returns that error.
func (p *Pool) Run(ctx context.Context, src jetstream.Source) error {
	poolCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	chans := make([]chan *jetstream.Event, p.opts.Workers)
	var wg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan *jetstream.Event, p.opts.QueueDepth)
		wg.Add(1)
		go func(ch <-chan *jetstream.Event) {
			defer wg.Done()
			p.worker(poolCtx, cancel, ch)
		}(chans[i])
	}

	committerDone := make(chan struct{})
	go p.committer(poolCtx, committerDone)

	var srcErr error
route:
	for {
		ev, err := src.Next(poolCtx)
		if err != nil {
			if !errors.Is(err, io.EOF) && poolCtx.Err() == nil {
				srcErr = err
			}
			break
		}
		p.progress.Add(ev.StreamPosition)
		select {
		case chans[p.partition(ev)] <- ev:
		case <-poolCtx.Done():
			// The event was never handed off; leaving it in-flight
			// pins the low-water mark behind it so it replays on the
			// next start.
			break route
		}
	}

	for _, ch := range chans {
		close(ch)
	}
	wg.Wait()
	close(committerDone)

	// Final flush with a fresh context: the pool context is typically
	// cancelled by now, but the committed work still deserves a cursor.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	p.flushCursor(flushCtx)

	if cause := context.Cause(poolCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return srcErr
}

func (p *Pool) partition(ev *jetstream.Event) int {
	h := fnv.New64a()
	h.Write([]byte(ev.DID))
	h.Write([]byte{0})
	h.Write([]byte(ev.Collection))
	h.Write([]byte{0})
	h.Write([]byte(ev.RecordKey))
	return int(h.Sum64() % uint64(p.opts.Workers))
}

func (p *Pool) worker(ctx context.Context, cancel context.CancelCauseFunc, ch <-chan *jetstream.Event) {
	for ev := range ch {
		if err := p.applyWithRetry(ctx, ev); err != nil {
			var unknown *UnknownCollectionError
			if errors.As(err, &unknown) {
				log.Error("halting ingestion: unknown collection", "collection", ev.Collection, "err", err)
				cancel(err)
			}
			return
		}
		p.progress.Done(ev.StreamPosition)
	}
}

// applyWithRetry retries transient storage failures with exponential backoff
// until the event lands or the pool shuts down. The claim and domain write
// commit atomically, so re-running a failed attempt is always safe.
func (p *Pool) applyWithRetry(ctx context.Context, ev *jetstream.Event) error {
	delay := p.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		_, err := p.pipeline.Process(ctx, ev)
		if err == nil {
			return nil
		}
		var unknown *UnknownCollectionError
		if errors.As(err, &unknown) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= p.opts.RetryMaxAttempt {
			log.Error("event apply still failing",
				"collection", ev.Collection, "rkey", ev.RecordKey, "attempt", attempt, "err", err)
		} else {
			log.Warn("transient apply failure, retrying",
				"collection", ev.Collection, "rkey", ev.RecordKey, "delay", delay, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.opts.RetryMaxDelay {
			delay = p.opts.RetryMaxDelay
		}
	}
}

func (p *Pool) committer(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(p.opts.CursorFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flushCursor(ctx)
		}
	}
}

func (p *Pool) flushCursor(ctx context.Context) {
	pos, ok := p.progress.LowWater()
	if !ok {
		return
	}
	if err := p.cursor.Advance(ctx, pos); err != nil {
		log.Error("cursor flush failed", "position", pos, "err", err)
	}
}
