// Package testpg provides a disposable Postgres backend for tests that need
// the production dialect: partial unique indexes, CHECK constraints, and real
// transaction isolation for the concurrency suites.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres runs a throwaway Postgres container, terminated when the test
// ends, and returns a DSN accepted by store.Open.
func StartPostgres(tb testing.TB) string {
	tb.Helper()

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:18",
		postgres.WithDatabase("subcurrent"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2),
			).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil || dsn == "" {
		tb.Fatalf("build postgres connection string: %v", err)
	}

	// The ready log line can precede the server actually accepting
	// connections, so probe until a ping succeeds.
	if err := waitForReady(ctx, dsn); err != nil {
		tb.Fatalf("postgres never became connectable: %v", err)
	}
	return dsn
}

func waitForReady(ctx context.Context, dsn string) error {
	deadline := time.Now().Add(20 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = tryPing(ctx, dsn)
		if lastErr == nil {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return lastErr
}

func tryPing(ctx context.Context, dsn string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := pgx.Connect(attemptCtx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(attemptCtx)
	return conn.Ping(attemptCtx)
}
