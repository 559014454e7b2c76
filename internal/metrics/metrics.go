// Package metrics registers the Prometheus instruments exposed on the
// management listener. Failures never surface to users directly; ingestion
// lag and rejected-event counts here are the operational signal.
package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts processed events by collection and outcome
	// (applied, duplicate, rejected, conflict_retried).
	EventsTotal *prometheus.CounterVec

	// ApplyLatency records the end-to-end transaction latency per collection.
	ApplyLatency *prometheus.HistogramVec

	// CursorPosition is the last committed stream position.
	CursorPosition prometheus.Gauge

	// IdempotencyRows is the current count of active dedup markers,
	// refreshed by the retention sweeper.
	IdempotencyRows prometheus.Gauge

	// SweepDeletedTotal counts idempotency rows removed by the sweeper.
	SweepDeletedTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable
// expansion. Label values may not contain commas. Returns nil for an empty
// string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// Init registers all Prometheus metrics with the given constant labels.
// Must be called before the management listener or the worker pool starts.
// Safe to call multiple times; only the first call registers.
func Init(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	EventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subcurrent_ingest_events_total",
			Help: "Total number of stream events processed, by collection and outcome",
		},
		[]string{"collection", "outcome"},
	)

	ApplyLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subcurrent_ingest_apply_latency_seconds",
			Help:    "Event apply transaction latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	CursorPosition = f.NewGauge(prometheus.GaugeOpts{
		Name: "subcurrent_ingest_cursor_position",
		Help: "Last committed stream cursor position (Jetstream time_us)",
	})

	IdempotencyRows = f.NewGauge(prometheus.GaugeOpts{
		Name: "subcurrent_ingest_idempotency_rows",
		Help: "Active idempotency marker rows",
	})

	SweepDeletedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "subcurrent_ingest_sweep_deleted_total",
		Help: "Idempotency rows removed by the retention sweeper",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "subcurrent_ingest_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "subcurrent_ingest_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// Outcome labels for EventsTotal.
const (
	OutcomeApplied         = "applied"
	OutcomeDuplicate       = "duplicate"
	OutcomeRejected        = "rejected"
	OutcomeConflictRetried = "conflict_retried"
)
