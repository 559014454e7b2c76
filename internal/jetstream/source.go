package jetstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Source delivers decoded events to the pipeline. Delivery is at-least-once:
// after a restart the transport re-plays from the persisted cursor, so
// consumers must tolerate duplicates.
type Source interface {
	// Next blocks until an event is available. It returns io.EOF when the
	// source is exhausted and ctx.Err() when the context is cancelled.
	Next(ctx context.Context) (*Event, error)
}

// ChanSource adapts a channel of events into a Source. Used by tests and by
// embedders that own their own transport loop.
type ChanSource struct {
	C <-chan *Event
}

func (s *ChanSource) Next(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.C:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	}
}

// ReaderSource reads newline-delimited JSON events, one per line. It backs
// the replay path of the ingest command: operators feed captured Jetstream
// dumps (or a live relay piped through stdin) straight into the pipeline.
type ReaderSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewReaderSource wraps r in a line-oriented event decoder.
func NewReaderSource(r io.Reader) *ReaderSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ReaderSource{scanner: sc}
}

func (s *ReaderSource) Next(ctx context.Context) (*Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read event stream: %w", err)
			}
			return nil, io.EOF
		}
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event at line %d: %w", s.line, err)
		}
		return &ev, nil
	}
}
