package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"gorm.io/gorm"
)

// Outcome classifies what Process did with an event.
type Outcome string

const (
	// OutcomeApplied: the event was claimed and its mutation committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate: a prior delivery already applied this revision.
	// Not an error; the normal short-circuit under at-least-once delivery.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected: the payload violates a domain invariant and was
	// permanently dropped. Logged and counted, never retried.
	OutcomeRejected Outcome = "rejected"
)

// errDuplicateEvent aborts the claiming transaction when the key already
// exists. Rolling back instead of committing an empty transaction keeps the
// Postgres aborted-transaction state out of the picture.
var errDuplicateEvent = errors.New("duplicate event")

// identityConflictAttempts bounds the resolve-create race loop. One retry is
// enough in principle (the second pass resolves the winner's row); the
// headroom covers a concurrent delete between attempts.
const identityConflictAttempts = 3

// Pipeline applies decoded stream events to the relational store exactly
// once. All coordination happens through database constraints, so multiple
// pipeline instances can ingest concurrently for availability.
type Pipeline struct {
	db       *gorm.DB
	guard    *Guard
	registry *Registry
}

// NewPipeline builds a pipeline over db with a duplicate fast-path cache of
// the given size.
func NewPipeline(db *gorm.DB, duplicateCacheSize int64) (*Pipeline, error) {
	guard, err := NewGuard(duplicateCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		db:       db,
		guard:    guard,
		registry: NewRegistry(&Mapper{}),
	}, nil
}

// Process applies one event. A non-nil error is either transient (retry with
// backoff) or an UnknownCollectionError (halt the partition); every
// data-dependent failure is absorbed here as OutcomeRejected.
func (p *Pipeline) Process(ctx context.Context, ev *jetstream.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return p.reject(ev, err), nil
	}
	handler, err := p.registry.Lookup(ev.Collection)
	if err != nil {
		return "", err
	}

	key := IdempotencyKey(ev.DID, ev.Collection, ev.RecordKey, ev.Revision)
	if p.guard.Seen(key) {
		metrics.EventsTotal.WithLabelValues(ev.Collection, metrics.OutcomeDuplicate).Inc()
		return OutcomeDuplicate, nil
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		var rowID uuid.UUID
		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			claimed, err := p.guard.Claim(tx, key, ev.DID, ev.Collection, ev.RecordKey, ev.Revision)
			if err != nil {
				return err
			}
			if !claimed {
				return errDuplicateEvent
			}
			rowID, err = handler.Apply(tx, ev)
			if err != nil {
				return err
			}
			return p.guard.BindRow(tx, key, rowID)
		})

		switch {
		case err == nil:
			p.guard.Remember(key)
			metrics.EventsTotal.WithLabelValues(ev.Collection, metrics.OutcomeApplied).Inc()
			metrics.ApplyLatency.WithLabelValues(ev.Collection).Observe(time.Since(start).Seconds())
			return OutcomeApplied, nil

		case errors.Is(err, errDuplicateEvent):
			p.guard.Remember(key)
			metrics.EventsTotal.WithLabelValues(ev.Collection, metrics.OutcomeDuplicate).Inc()
			return OutcomeDuplicate, nil

		case isIdentityConflict(err):
			// Lost a first-sight race; the whole transaction rolled
			// back, so re-applying resolves the winner's row and
			// converts to an update.
			metrics.EventsTotal.WithLabelValues(ev.Collection, metrics.OutcomeConflictRetried).Inc()
			if attempt < identityConflictAttempts {
				continue
			}
			return "", err

		case isPermanent(err):
			return p.reject(ev, err), nil

		default:
			return "", err
		}
	}
}

// Guard exposes the idempotency guard, mainly for tests and the status
// command.
func (p *Pipeline) Guard() *Guard { return p.guard }

func (p *Pipeline) reject(ev *jetstream.Event, err error) Outcome {
	log.Warn("rejecting event",
		"did", ev.DID,
		"collection", ev.Collection,
		"rkey", ev.RecordKey,
		"rev", ev.Revision,
		"err", err)
	metrics.EventsTotal.WithLabelValues(ev.Collection, metrics.OutcomeRejected).Inc()
	return OutcomeRejected
}

func isIdentityConflict(err error) bool {
	var conflict *IdentityConflictError
	return errors.As(err, &conflict)
}

// isPermanent separates payload faults from transient storage failures.
// These two classes must never be conflated: permanent faults are dropped,
// everything else is retried.
func isPermanent(err error) bool {
	var validation *ValidationError
	var consent *ConsentViolationError
	return errors.As(err, &validation) || errors.As(err, &consent)
}
