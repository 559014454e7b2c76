package ingest

import "fmt"

// ValidationError indicates the event payload violates a domain invariant.
// The event is permanently rejected; retrying the same payload can never
// succeed. Never conflate this with a transient storage failure.
type ValidationError struct {
	Collection string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation error on %s: %s", e.Collection, e.Field, e.Message)
}

// ConsentViolationError indicates a precise location was supplied without
// location consent. A consent flip with a stale precise point is rejected
// whole; the prior row state stays untouched.
type ConsentViolationError struct {
	Collection string
}

func (e *ConsentViolationError) Error() string {
	return fmt.Sprintf("%s: precise location present without allowPrecise consent", e.Collection)
}

// UnknownCollectionError indicates an event for a collection the pipeline has
// no handler for. This is a configuration fault, not bad data: it halts the
// affected partition and surfaces to process-level alerting.
type UnknownCollectionError struct {
	Collection string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("no handler registered for collection %q", e.Collection)
}

// IdentityConflictError indicates a concurrent create raced us to bind the
// same external record identity. The losing transaction rolls back and the
// event is re-applied as an update against the winner's row.
type IdentityConflictError struct {
	Collection string
	DID        string
	RecordKey  string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("record identity (%s, %s) already bound in %s", e.DID, e.RecordKey, e.Collection)
}
