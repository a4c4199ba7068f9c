package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/panelsweep/internal/store"
)

// startPostgresContainer starts a PostgreSQL container and returns a DSN for
// the pgx stdlib driver. The test is skipped if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sweep"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/sweep?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()
	waitForPostgres(t, dsn)

	db, err := New(store.Config{DSN: dsn, MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	inactive := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	suspended := time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)
	if err := db.Save(ctx, store.Snapshot{
		"100": {InactiveSince: &inactive},
		"101": {SuspendedAt: &suspended},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %+v", got)
	}
	if !got["100"].InactiveSince.Equal(inactive) {
		t.Fatalf("inactive_since mismatch: %+v", got["100"])
	}
	if !got["101"].External() {
		t.Fatalf("origin should be empty (external): %+v", got["101"])
	}

	if err := db.Save(ctx, store.Snapshot{}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	got, err = db.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", got)
	}
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New(store.Config{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
