package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/cmd/ingest"
	"github.com/subcurrent-live/subcurrent/internal/cmd/migrate"
	"github.com/subcurrent-live/subcurrent/internal/cmd/status"
	"github.com/subcurrent-live/subcurrent/internal/cmd/sweep"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "subcurrent",
		Usage: "Jetstream ingestion service for the subcurrent scene network",
		Commands: []*cli.Command{
			ingest.Command(),
			migrate.Command(),
			sweep.Command(),
			status.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
