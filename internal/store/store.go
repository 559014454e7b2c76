// Package store opens and migrates the relational datastore backing the
// ingestion pipeline. Postgres is the production backend; SQLite is kept for
// development and fast tests.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/subcurrent-live/subcurrent/internal/config"
	"github.com/subcurrent-live/subcurrent/internal/metrics"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the datastore named by cfg.DBURL and applies pool limits.
// The returned DB is safe for concurrent use by the worker pool.
func Open(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var dial gorm.Dialector
	if IsPostgres(cfg.DBURL) {
		dial = postgres.Open(cfg.DBURL)
	} else {
		dial = sqlite.Open(sqliteDSN(cfg.DBURL))
	}
	db, err := gorm.Open(dial, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to datastore: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if metrics.DBPoolMaxConnections != nil {
		metrics.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if metrics.DBPoolOpenConnections != nil {
					metrics.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	return db, nil
}

// IsPostgres reports whether dsn selects the Postgres backend.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

func sqliteDSN(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite:")
}
