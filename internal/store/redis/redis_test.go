package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loykin/panelsweep/internal/store"
)

// Set PANELSWEEP_TEST_REDIS_DSN (e.g. redis://localhost:6379/15) to run.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PANELSWEEP_TEST_REDIS_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("PANELSWEEP_TEST_REDIS_DSN not set")
	}
	return dsn
}

func TestRedisRoundTrip(t *testing.T) {
	dsn := testDSN(t)
	key := "panelsweep:test:" + uuid.NewString()
	db, err := New(store.Config{DSN: dsn, Key: key})
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = db.rdb.Del(ctx, key).Err()
		_ = db.Close()
	})

	at := time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC)
	require.NoError(t, db.Save(ctx, store.Snapshot{
		"1": {InactiveSince: &at},
		"2": {SuspendedAt: &at, SuspendedBy: store.OriginSweep},
	}))
	got, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got["1"].InactiveSince.Equal(at))

	require.NoError(t, db.Save(ctx, store.Snapshot{}))
	got, err = db.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNewValidatesDSN(t *testing.T) {
	_, err := New(store.Config{})
	require.Error(t, err)
	_, err = New(store.Config{DSN: "http://not-redis"})
	require.Error(t, err)
}
