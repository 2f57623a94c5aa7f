package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryAddAndCount(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	id, err := store.Add(context.Background(), "the deploy finished at noon", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSearchRanksByTermOverlap(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	ctx := context.Background()
	_, err := store.Add(ctx, "database backup completed", nil)
	require.NoError(t, err)
	_, err = store.Add(ctx, "database migration failed on staging", nil)
	require.NoError(t, err)
	_, err = store.Add(ctx, "unrelated note about lunch", nil)
	require.NoError(t, err)

	results, err := store.Search(ctx, "database migration", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "zero-overlap entries must be excluded")
	require.Equal(t, "database migration failed on staging", results[0].Content)
}

func TestSearchTiesBreakNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, fmt.Sprintf("release note %d", i), nil)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	results, err := store.Search(ctx, "release", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "release note 2", results[0].Content)
	require.Equal(t, "release note 1", results[1].Content)
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	_, err := store.Add(context.Background(), "something", nil)
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	id, err := store.Add(ctx, "service restarted after the incident", []float64{0.1, 0.2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	results, err := store.Search(ctx, "incident", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
	require.Equal(t, []float64{0.1, 0.2}, results[0].Embedding)
}

func TestBoltStoreRespectsCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Add(ctx, "never stored", nil)
	require.ErrorIs(t, err, context.Canceled)
}
