package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the ingestion service.
type Config struct {
	// Database DSN. postgres:// URLs use the Postgres driver; sqlite: or
	// file: DSNs use the embedded SQLite driver (dev and test only).
	DBURL string

	// Run datastore migrations on startup.
	MigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Number of ingestion worker partitions. Events for the same record
	// always land on the same partition.
	Workers int

	// Per-partition queue depth before the router blocks.
	QueueDepth int

	// How often the committed low-water mark is flushed to the cursor row.
	CursorFlushInterval time.Duration

	// Retry policy for transient storage failures.
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryMaxAttempt int

	// Idempotency retention. Rows older than Retention are swept; events
	// redelivered after their marker was swept are re-applied as new work.
	SweepInterval time.Duration
	Retention     time.Duration
	SweepBatch    int

	// Size of the in-process recent-duplicate cache (number of keys).
	DuplicateCacheSize int64

	// Management listener (health, readiness, metrics). 0 disables it.
	ManagementPort int
	// ManagementAccessLog enables HTTP access logging for management
	// endpoints. Disabled by default to suppress probe noise.
	ManagementAccessLog bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=subcurrent-ingest".
	MetricsLabels string

	// Replay input for the ingest command: path to a newline-delimited
	// JSON event dump, or "-" for stdin.
	ReplayFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MigrateAtStart:      true,
		DBMaxOpenConns:      25,
		DBMaxIdleConns:      5,
		Workers:             4,
		QueueDepth:          256,
		CursorFlushInterval: 2 * time.Second,
		RetryBaseDelay:      250 * time.Millisecond,
		RetryMaxDelay:       30 * time.Second,
		RetryMaxAttempt:     8,
		SweepInterval:       time.Hour,
		Retention:           7 * 24 * time.Hour,
		SweepBatch:          5000,
		DuplicateCacheSize:  100_000,
		ManagementPort:      0,
		MetricsLabels:       "service=subcurrent-ingest",
		ReplayFile:          "-",
	}
}
