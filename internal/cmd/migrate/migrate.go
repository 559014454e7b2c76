package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/store"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
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
			log.Info("Running migrations...")
			if err := store.Migrate(ctx, &cfg, db); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
