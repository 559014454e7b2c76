package sweep

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"github.com/urfave/cli/v3"
)

// Command returns the sweep sub-command. It runs a single retention pass and
// exits, for operators who schedule sweeps externally instead of relying on
// the ingest process's background sweeper.
func Command() *cli.Command {
	var olderThan time.Duration
	var batchSize int
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete idempotency markers past the retention window and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("SUBCURRENT_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.DurationFlag{
				Name:        "older-than",
				Sources:     cli.EnvVars("SUBCURRENT_RETENTION"),
				Destination: &olderThan,
				Value:       config.DefaultConfig().Retention,
				Usage:       "Delete markers created before now minus this duration",
			},
			&cli.IntFlag{
				Name:        "batch-size",
				Destination: &batchSize,
				Value:       config.DefaultConfig().SweepBatch,
				Usage:       "Rows deleted per batch",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			ctx = config.WithContext(ctx, &cfg)

			db, err := store.Open(ctx, &cfg)
			if err != nil {
				return err
			}
			sweeper := ingest.NewSweeper(db, cfg.SweepInterval, olderThan, batchSize)
			deleted, err := sweeper.Sweep(ctx, olderThan)
			if err != nil {
				return err
			}
			log.Info("Sweep complete", "deleted", deleted, "olderThan", olderThan)
			return nil
		},
	}
}
