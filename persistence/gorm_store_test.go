package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()
	store, err := NewDatabaseStore(DatabaseStoreConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDatabaseStore_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabaseStore(DatabaseStoreConfig{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDatabaseStore_SaveAndHistory(t *testing.T) {
	store := newTestDatabaseStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-1", "sess-a", "responded", base)))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-2", "sess-a", "timeout", base.Add(time.Second))))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-3", "sess-b", "responded", base.Add(2*time.Second))))

	t.Run("history is newest first and scoped to session", func(t *testing.T) {
		records, err := store.GetInteractionHistory(ctx, "sess-a", 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "i-2", records[0].ID)
		assert.Equal(t, "i-1", records[1].ID)
	})

	t.Run("record fields survive the round trip", func(t *testing.T) {
		records, err := store.GetInteractionHistory(ctx, "sess-b", 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, "approval", rec.Type)
		assert.Equal(t, "Deploy to production?", rec.Prompt)
		assert.Equal(t, true, rec.Response)
		assert.Equal(t, 2*time.Second, rec.ResponseLatency)
		assert.Equal(t, "prod", rec.Metadata["env"])
	})

	t.Run("saving the same id twice upserts", func(t *testing.T) {
		updated := testRecord("i-1", "sess-a", "cancelled", base)
		require.NoError(t, store.SaveInteraction(ctx, updated))

		records, err := store.ExportInteractionData(ctx, Filter{SessionID: "sess-a"})
		require.NoError(t, err)
		require.Len(t, records, 2)
	})
}

func TestDatabaseStore_SaveValidation(t *testing.T) {
	store := newTestDatabaseStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SaveInteraction(ctx, nil), ErrInvalidInput)
	assert.ErrorIs(t, store.SaveInteraction(ctx, &Record{}), ErrInvalidInput)
}

func TestDatabaseStore_Export(t *testing.T) {
	store := newTestDatabaseStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-1", "sess-a", "responded", base)))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-2", "sess-a", "timeout", base.Add(time.Second))))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-3", "sess-b", "responded", base.Add(2*time.Second))))

	t.Run("filter by status", func(t *testing.T) {
		records, err := store.ExportInteractionData(ctx, Filter{Status: "responded"})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "i-3", records[0].ID)
	})

	t.Run("filter by time range", func(t *testing.T) {
		records, err := store.ExportInteractionData(ctx, Filter{
			Since: base.Add(500 * time.Millisecond),
			Until: base.Add(1500 * time.Millisecond),
		})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "i-2", records[0].ID)
	})

	t.Run("limit caps the result set", func(t *testing.T) {
		records, err := store.ExportInteractionData(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, records, 2)
	})
}

func TestDatabaseStore_Cleanup(t *testing.T) {
	store := newTestDatabaseStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveInteraction(ctx, testRecord("old-1", "sess-a", "responded", now.Add(-48*time.Hour))))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("old-2", "sess-a", "timeout", now.Add(-25*time.Hour))))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("fresh", "sess-a", "responded", now)))

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestDatabaseStore_Stats(t *testing.T) {
	store := newTestDatabaseStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-1", "sess-a", "responded", base)))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-2", "sess-a", "responded", base)))
	require.NoError(t, store.SaveInteraction(ctx, testRecord("i-3", "sess-b", "timeout", base)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["responded"])
	assert.Equal(t, 1, stats.ByStatus["timeout"])
}

func TestNewStore_Factory(t *testing.T) {
	t.Run("empty type disables persistence", func(t *testing.T) {
		store, err := NewStore(StoreConfig{})
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeMemory})
		require.NoError(t, err)
		require.NotNil(t, store)
		_ = store.Close()
	})

	t.Run("database", func(t *testing.T) {
		store, err := NewStore(StoreConfig{
			Type:     StoreTypeDatabase,
			Database: DatabaseStoreConfig{Driver: "sqlite", DSN: ":memory:"},
		})
		require.NoError(t, err)
		require.NotNil(t, store)
		_ = store.Close()
	})

	t.Run("unknown type fails", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: "etcd"})
		require.Error(t, err)
	})
}
