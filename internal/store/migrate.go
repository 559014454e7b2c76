package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/model"
	"gorm.io/gorm"
)

//go:embed db/schema.sql
var schemaSQL string

// Migrate brings the datastore schema up to date. Postgres executes the
// embedded schema (idempotent, IF NOT EXISTS throughout); SQLite auto-migrates
// from the gorm models since it is only used for development and tests.
// Both paths guarantee the cursor bootstrap row exists afterwards.
func Migrate(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if IsPostgres(cfg.DBURL) {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("migration: failed to execute schema: %w", err)
		}
		log.Info("Postgres schema migration complete")
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("migration: auto-migrate failed: %w", err)
	}
	// AutoMigrate creates tables only; seed the singleton cursor row.
	seed := model.IngestCursor{ID: 1, Position: 0}
	if err := db.WithContext(ctx).
		Where(model.IngestCursor{ID: 1}).
		FirstOrCreate(&seed).Error; err != nil {
		return fmt.Errorf("migration: seed cursor row: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
