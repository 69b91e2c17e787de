package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewMetadataStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func testFile(path, content string, modOffset time.Duration) types.FileMetadata {
	return types.FileMetadata{
		Path:        path,
		ContentHash: types.HashContent(content),
		SizeBytes:   int64(len(content)),
		ModTime:     time.Now().Add(modOffset).Truncate(time.Second),
		Language:    types.LangGo,
	}
}

func testChunk(path string, seq int, content string) types.Chunk {
	hash := types.HashContent(content)
	return types.Chunk{
		ID:          types.ChunkID(path, seq, hash),
		FilePath:    path,
		StartLine:   seq*10 + 1,
		EndLine:     seq*10 + 9,
		Seq:         seq,
		ContentHash: hash,
		Content:     content,
		Kind:        types.ChunkFunction,
		Metadata:    map[string]string{"language": "go"},
	}
}

func TestUpsertAndGetFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := testFile("a.go", "package a", 0)
	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{f}))

	got, err := store.GetFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, f.ContentHash, got.ContentHash)
	assert.Equal(t, types.LangGo, got.Language)

	// Replace on conflict.
	f2 := testFile("a.go", "package a // v2", 0)
	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{f2}))
	got, err = store.GetFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, f2.ContentHash, got.ContentHash)

	all, err := store.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetFileNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetFile(context.Background(), "missing.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertAndFetchChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{testFile("a.go", "x", 0)}))
	chunks := []types.Chunk{
		testChunk("a.go", 0, "func Alpha() {}"),
		testChunk("a.go", 1, "func Beta() {}"),
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))

	// Input order preserved, unknown ids skipped.
	got, err := store.GetChunksByIDs(ctx, []string{chunks[1].ID, "nope", chunks[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[1].ID, got[0].ID)
	assert.Equal(t, chunks[0].ID, got[1].ID)

	byFile, err := store.GetChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, byFile, 2)
	assert.Equal(t, 0, byFile[0].Seq)
}

func TestDeleteByFilePathsCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{
		testFile("a.go", "x", 0),
		testFile("b.go", "y", 0),
	}))
	require.NoError(t, store.InsertChunks(ctx, []types.Chunk{
		testChunk("a.go", 0, "func A() {}"),
		testChunk("b.go", 0, "func B() {}"),
	}))

	require.NoError(t, store.DeleteByFilePaths(ctx, []string{"a.go"}))

	files, chunks, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, 1, chunks)

	remaining, err := store.GetChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSearchFTS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{testFile("auth.go", "x", 0)}))
	require.NoError(t, store.InsertChunks(ctx, []types.Chunk{
		testChunk("auth.go", 0, "func ValidateToken(token string) error { return checkSignature(token) }"),
		testChunk("auth.go", 1, "func ParseConfig(path string) (*Config, error) { return nil, nil }"),
	}))

	results, err := store.SearchFTS(ctx, "validate token", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.Content, "ValidateToken")
	assert.Equal(t, types.SourceBM25, results[0].Source)
	assert.Equal(t, 1, results[0].Rank)

	// Deleted chunks leave the index.
	require.NoError(t, store.DeleteByFilePaths(ctx, []string{"auth.go"}))
	results, err = store.SearchFTS(ctx, "validate token", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchFTSEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	results, err := store.SearchFTS(context.Background(), "  \t ", 10)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRecentFileChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFiles(ctx, []types.FileMetadata{
		testFile("old.go", "o", -2*time.Hour),
		testFile("new.go", "n", 0),
		testFile("mid.go", "m", -time.Hour),
	}))
	require.NoError(t, store.InsertChunks(ctx, []types.Chunk{
		testChunk("old.go", 0, "func Old() {}"),
		testChunk("new.go", 0, "func New() {}"),
		testChunk("mid.go", 0, "func Mid() {}"),
	}))

	chunks, err := store.RecentFileChunks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "new.go", chunks[0].FilePath)
	assert.Equal(t, "mid.go", chunks[1].FilePath)
}

func TestProgressRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetProgress(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	p := types.Progress{
		RunID:           "run-1",
		Status:          types.StatusRunning,
		Phase:           types.PhaseEmbed,
		PhaseProgress:   40,
		OverallProgress: 55,
		Message:         "embedding",
		FilesTotal:      10,
		FilesDone:       4,
		ChunksIndexed:   80,
		FailedFiles:     []string{"broken.go"},
	}
	require.NoError(t, store.SaveProgress(ctx, p))

	got, err := store.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.Equal(t, types.PhaseEmbed, got.Phase)
	assert.Equal(t, []string{"broken.go"}, got.FailedFiles)

	// Single row: a later save replaces the earlier one.
	p.Status = types.StatusCompleted
	p.RunID = "run-2"
	require.NoError(t, store.SaveProgress(ctx, p))
	got, err = store.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetCheckpoint(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	cp := types.BuildCheckpoint{
		Phase:             types.PhaseEmbed,
		LastProcessedPath: "src/b.go",
		PendingChunkIDs:   []string{"a.go:0:abc12345"},
	}
	require.NoError(t, store.SaveCheckpoint(ctx, "run-1", cp))

	got, err := store.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseEmbed, got.Phase)
	assert.Equal(t, "src/b.go", got.LastProcessedPath)
	assert.Equal(t, cp.PendingChunkIDs, got.PendingChunkIDs)

	cp.Phase = types.PhaseStore
	require.NoError(t, store.SaveCheckpoint(ctx, "run-1", cp))
	got, err = store.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseStore, got.Phase)

	require.NoError(t, store.DeleteCheckpoint(ctx, "run-1"))
	_, err = store.GetCheckpoint(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFTSMatchQuery(t *testing.T) {
	assert.Equal(t, `"validate" OR "token"`, ftsMatchQuery("validate token"))
	assert.Equal(t, `"parse_config"`, ftsMatchQuery(`parse_config()`))
	assert.Equal(t, "", ftsMatchQuery("  ...  "))
}
