package snapshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/platecost/internal/db"
	"github.com/Simplici0/platecost/internal/migrations"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrations.Up(conn))

	return NewSQLiteStore(conn)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	points, err := store.Load(ctx, "bread")
	require.NoError(t, err)
	assert.Empty(t, points)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	saved := []Point{{ID: "p1", CreatedAt: at, TotalCost: 1.5, CostPerPortion: 0.375, Portions: 4, Currency: "EUR"}}
	require.NoError(t, store.Save(ctx, "bread", saved))
	require.NoError(t, store.Save(ctx, "bread", saved))

	loaded, err := store.Load(ctx, "bread")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "p1", loaded[0].ID)
	assert.True(t, at.Equal(loaded[0].CreatedAt))
	assert.Equal(t, 1.5, loaded[0].TotalCost)

	require.NoError(t, store.Delete(ctx, "bread"))
	loaded, err = store.Load(ctx, "bread")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newSQLiteStore(t))
}

func TestSQLiteStore_BacksLog(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(newSQLiteStore(t))

	for _, total := range []float64{1, 1, 2} {
		_, err := l.Add(ctx, "bread", point(total))
		require.NoError(t, err)
	}

	points, err := l.List(ctx, "bread")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 2.0, points[0].TotalCost)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	exerciseStore(t, NewRedisStore(rdb))

	l := newTestLog(NewRedisStore(rdb))
	l.locker = NewRedisLocker(rdb)
	_, err := l.Add(context.Background(), "bread", point(1))
	require.NoError(t, err)
	require.NoError(t, l.Clear(context.Background(), "bread"))
}
