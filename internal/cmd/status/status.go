package status

import (
	"context"
	"fmt"

	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/ingest"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"github.com/urfave/cli/v3"
)

// Command returns the status sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the ingestion cursor position and idempotency marker count",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("SUBCURRENT_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
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
			cursor := ingest.NewCursorStore(db)
			position, err := cursor.Load(ctx)
			if err != nil {
				return err
			}
			markers, err := ingest.ActiveMarkers(ctx, db)
			if err != nil {
				return err
			}
			fmt.Printf("cursor position:      %d\n", position)
			fmt.Printf("idempotency markers:  %d\n", markers)
			return nil
		},
	}
}
