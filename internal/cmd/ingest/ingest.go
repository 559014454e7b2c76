package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
	"github.com/subcurrent-live/subcurrent/internal/jetstream"
	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"github.com/urfave/cli/v3"
)

// Command returns the ingest sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "ingest",
		Usage: "Consume a Jetstream event dump and materialize it into the datastore",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Datastore ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("SUBCURRENT_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres://... or sqlite:path)",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("SUBCURRENT_MIGRATE_AT_START"),
			Destination: &cfg.MigrateAtStart,
			Value:       cfg.MigrateAtStart,
			Usage:       "Run schema migrations before ingesting",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("SUBCURRENT_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("SUBCURRENT_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},

		// ── Pipeline ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "replay-file",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("SUBCURRENT_REPLAY_FILE"),
			Destination: &cfg.ReplayFile,
			Value:       cfg.ReplayFile,
			Usage:       "Newline-delimited JSON event dump to ingest; '-' reads stdin",
		},
		&cli.IntFlag{
			Name:        "workers",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("SUBCURRENT_WORKERS"),
			Destination: &cfg.Workers,
			Value:       cfg.Workers,
			Usage:       "Ingestion worker partitions; same-record events always share a partition",
		},
		&cli.IntFlag{
			Name:        "queue-depth",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("SUBCURRENT_QUEUE_DEPTH"),
			Destination: &cfg.QueueDepth,
			Value:       cfg.QueueDepth,
			Usage:       "Per-partition event queue depth",
		},
		&cli.DurationFlag{
			Name:        "cursor-flush-interval",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("SUBCURRENT_CURSOR_FLUSH_INTERVAL"),
			Destination: &cfg.CursorFlushInterval,
			Value:       cfg.CursorFlushInterval,
			Usage:       "How often the committed low-water mark is flushed to the cursor row",
		},

		// ── Retention ─────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "retention",
			Category:    "Retention:",
			Sources:     cli.EnvVars("SUBCURRENT_RETENTION"),
			Destination: &cfg.Retention,
			Value:       cfg.Retention,
			Usage:       "Idempotency marker retention window (also the bounded replay window)",
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Category:    "Retention:",
			Sources:     cli.EnvVars("SUBCURRENT_SWEEP_INTERVAL"),
			Destination: &cfg.SweepInterval,
			Value:       cfg.SweepInterval,
			Usage:       "How often expired idempotency markers are swept",
		},

		// ── Management ────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management:",
			Sources:     cli.EnvVars("SUBCURRENT_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementPort,
			Value:       cfg.ManagementPort,
			Usage:       "Port for /health, /ready and /metrics (0 disables the listener)",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Management:",
			Sources:     cli.EnvVars("SUBCURRENT_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Management:",
			Sources:     cli.EnvVars("SUBCURRENT_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Constant key=value labels added to all Prometheus metrics",
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	labels, err := metrics.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return err
	}
	metrics.Init(labels)

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.MigrateAtStart {
		if err := store.Migrate(ctx, cfg, db); err != nil {
			return err
		}
	}

	pipeline, err := ingest.NewPipeline(db, cfg.DuplicateCacheSize)
	if err != nil {
		return err
	}
	cursor := ingest.NewCursorStore(db)
	resumeAt, err := cursor.Load(ctx)
	if err != nil {
		return err
	}
	log.Info("Starting ingestion", "resumePosition", resumeAt, "workers", cfg.Workers)

	if cfg.ManagementPort > 0 {
		shutdownMgmt, err := startManagementServer(cfg, db)
		if err != nil {
			return err
		}
		defer shutdownMgmt()
	}

	sweeper := ingest.NewSweeper(db, cfg.SweepInterval, cfg.Retention, cfg.SweepBatch)
	go sweeper.Start(ctx)

	src, closeSrc, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	pool := ingest.NewPool(pipeline, cursor, ingest.PoolOptions{
		Workers:             cfg.Workers,
		QueueDepth:          cfg.QueueDepth,
		CursorFlushInterval: cfg.CursorFlushInterval,
		RetryBaseDelay:      cfg.RetryBaseDelay,
		RetryMaxDelay:       cfg.RetryMaxDelay,
		RetryMaxAttempt:     cfg.RetryMaxAttempt,
	})
	if err := pool.Run(ctx, src); err != nil {
		return err
	}

	final, err := cursor.Load(context.Background())
	if err == nil {
		log.Info("Ingestion stopped", "cursorPosition", final)
	}
	return nil
}

func openSource(cfg *config.Config) (jetstream.Source, func(), error) {
	if cfg.ReplayFile == "" || cfg.ReplayFile == "-" {
		return jetstream.NewReaderSource(os.Stdin), func() {}, nil
	}
	f, err := os.Open(cfg.ReplayFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open replay file: %w", err)
	}
	var closer io.Closer = f
	return jetstream.NewReaderSource(f), func() { _ = closer.Close() }, nil
}
