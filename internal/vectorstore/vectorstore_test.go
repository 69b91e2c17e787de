package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxgraph/ctxgraph/internal/storage"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := New(context.Background(), db)
	require.NoError(t, err)
	return store
}

func row(chunkID, path string, vector []float32) types.ChunkEmbedding {
	return types.ChunkEmbedding{ChunkID: chunkID, FilePath: path, Vector: vector}
}

func TestInsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0, 0}),
		row("a:1:22222222", "a.go", []float32{0, 1, 0}),
		row("b:0:33333333", "b.go", []float32{0.9, 0.1, 0}),
	}))

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a:0:11111111", matches[0].ChunkID)
	assert.Equal(t, "b:0:33333333", matches[1].ChunkID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestQueryEmptyStore(t *testing.T) {
	store := newTestStore(t)
	matches, err := store.Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQueryZeroTopK(t *testing.T) {
	store := newTestStore(t)
	matches, err := store.Query(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestInsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0}),
	}))
	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{0, 1}),
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := store.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
}

func TestInsertRejectsEmptyVector(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertBatch(context.Background(), []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", nil),
	})
	assert.Error(t, err)
}

func TestDeleteByFilePath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0}),
		row("a:1:22222222", "a.go", []float32{0, 1}),
		row("b:0:33333333", "b.go", []float32{1, 1}),
	}))

	require.NoError(t, store.DeleteByFilePath(ctx, "a.go"))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := store.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b.go", matches[0].FilePath)
}

func TestDeleteByChunkIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0}),
		row("a:1:22222222", "a.go", []float32{0, 1}),
	}))
	require.NoError(t, store.DeleteByChunkIDs(ctx, []string{"a:0:11111111"}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDestroyDropsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0}),
	}))
	require.NoError(t, store.Destroy(ctx))

	// A fresh store over the same handle starts empty.
	rebuilt, err := New(ctx, store.db)
	require.NoError(t, err)
	n, err := rebuilt.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDimensionMismatchExcluded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []types.ChunkEmbedding{
		row("a:0:11111111", "a.go", []float32{1, 0, 0}),
		row("b:0:22222222", "b.go", []float32{1, 0}),
	}))

	matches, err := store.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b:0:22222222", matches[0].ChunkID)
}

func TestSerializeRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out := deserializeVector(serializeVector(in))
	assert.Equal(t, in, out)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
