package ingest

import "github.com/subcurrent-live/subcurrent/internal/jetstream"

// EnforceLocationConsent rejects a precise point supplied without consent.
// Every handler that writes a location field calls this on every apply,
// including updates: flipping allowPrecise to false while the payload still
// carries a point fails the single event, never the batch, and the stored
// point is nulled by the same write that records the flip.
//
// The storage layer repeats this as a CHECK constraint; the handler-level
// gate exists so one malformed event fails alone instead of aborting a whole
// batch transaction at commit.
func EnforceLocationConsent(collection string, allowPrecise bool, precise *jetstream.GeoPoint) error {
	if precise != nil && !allowPrecise {
		return &ConsentViolationError{Collection: collection}
	}
	return nil
}
