package graphstore

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

func sym(filePath, name string, exported bool) types.Symbol {
	return types.Symbol{
		ID:            types.SymbolID(filePath, name),
		Name:          name,
		QualifiedName: name,
		Kind:          types.SymFunction,
		FilePath:      filePath,
		StartLine:     1,
		EndLine:       5,
		Exported:      exported,
	}
}

func symWithChunk(filePath, name, chunkID string) types.Symbol {
	s := sym(filePath, name, true)
	s.ChunkID = chunkID
	return s
}

func callEdge(sourceID string, target types.EdgeTarget, filePath string) types.SymbolEdge {
	return types.SymbolEdge{
		SourceID: sourceID,
		Target:   target,
		Type:     types.EdgeCalls,
		FilePath: filePath,
		Line:     3,
	}
}

func TestInsertSymbolsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sym("a.go", "Run", true)
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{first}))

	// Re-insert with a new line range replaces, never duplicates.
	second := first
	second.StartLine = 10
	second.EndLine = 20
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{second}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Symbols)

	got, err := store.GetSymbolsByIDs(ctx, []string{first.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].StartLine)
}

func TestInsertEdgesDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := callEdge("a.go#Run", types.BareTarget("Helper"), "a.go")
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{e, e}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{e}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 1, stats.UnresolvedEdges)
}

func TestDeleteByFilePaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.go", "A", true), sym("b.go", "B", true),
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.go#A", types.ResolvedTarget("b.go#B"), "a.go"),
		callEdge("b.go#B", types.BareTarget("C"), "b.go"),
	}))
	require.NoError(t, store.InsertImports(ctx, []types.ImportMapping{
		{FilePath: "a.go", LocalName: "b", SourceModule: "pkg/b", ImportedName: "*"},
	}))

	require.NoError(t, store.DeleteByFilePaths(ctx, []string{"a.go"}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Symbols)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 0, stats.Imports)
}

func TestResolveSingleCandidate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.ts", "f", true),
		sym("b.ts", "g", true),
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.ts#f", types.BareTarget("g"), "a.ts"),
	}))

	n, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edges, err := store.GetEdgesBetweenSymbols(ctx, []string{"a.ts#f", "b.ts#g"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "b.ts#g", edges[0].Target.String())
	assert.True(t, edges[0].Target.IsResolved())
}

func TestResolveZeroCandidatesDeletesEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{sym("a.ts", "f", true)}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.ts#f", types.ScopedTarget("lodash", "map"), "a.ts"),
	}))

	n, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Edges)
	assert.Equal(t, 0, stats.UnresolvedEdges)
}

func TestResolveImportMappingDisambiguates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two exported candidates named "handler"; the import mapping points
	// at the second.
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.ts", "f", true),
		sym("x/handler.ts", "handler", true),
		sym("y/handler.ts", "handler", true),
	}))
	require.NoError(t, store.InsertImports(ctx, []types.ImportMapping{
		{FilePath: "a.ts", LocalName: "h", SourceModule: "./y/handler", ImportedName: "handler", ResolvedPath: "y/handler.ts"},
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.ts#f", types.ScopedTarget("./y/handler", "handler"), "a.ts"),
	}))

	n, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edges, err := store.GetEdgesBetweenSymbols(ctx, []string{"a.ts#f", "y/handler.ts#handler"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "y/handler.ts#handler", edges[0].Target.String())
}

func TestResolveModuleSpecifierWithoutResolvedPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No resolved path recorded; the relative specifier still pins the
	// candidate by file location.
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("src/a.ts", "f", true),
		sym("src/util.ts", "parse", true),
		sym("other/util.ts", "parse", true),
	}))
	require.NoError(t, store.InsertImports(ctx, []types.ImportMapping{
		{FilePath: "src/a.ts", LocalName: "u", SourceModule: "./util", ImportedName: "*"},
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("src/a.ts#f", types.ScopedTarget("./util", "parse"), "src/a.ts"),
	}))

	n, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edges, err := store.GetEdgesBetweenSymbols(ctx, []string{"src/a.ts#f", "src/util.ts#parse"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
}

func TestResolvePrefersExportedThenLexicographic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.py", "caller", true),
		sym("m/run.py", "run", false),
		sym("z/run.py", "run", true),
		sym("q/run.py", "run", true),
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.py#caller", types.BareTarget("run"), "a.py"),
	}))

	n, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exported beats unexported; q/ beats z/ lexicographically.
	edges, err := store.GetEdgesBetweenSymbols(ctx, []string{"a.py#caller", "q/run.py#run"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "q/run.py#run", edges[0].Target.String())
}

func TestResolveRewriteCollapsesIntoExistingEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.go", "f", true),
		sym("b.go", "g", true),
	}))
	// A placeholder and an already-resolved edge to the same target.
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.go#f", types.BareTarget("g"), "a.go"),
		callEdge("a.go#f", types.ResolvedTarget("b.go#g"), "a.go"),
	}))

	_, err := store.ResolveEdgesByName(ctx)
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 0, stats.UnresolvedEdges)
}

func seedGraph(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	// A -> B -> C, A -> D; one chunk per symbol.
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		symWithChunk("a.go", "A", "chunk-1"),
		symWithChunk("b.go", "B", "chunk-2"),
		symWithChunk("c.go", "C", "chunk-3"),
		symWithChunk("d.go", "D", "chunk-4"),
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.go#A", types.ResolvedTarget("b.go#B"), "a.go"),
		callEdge("b.go#B", types.ResolvedTarget("c.go#C"), "b.go"),
		callEdge("a.go#A", types.ResolvedTarget("d.go#D"), "a.go"),
	}))
}

func TestExpandDepthOne(t *testing.T) {
	store := newTestStore(t)
	seedGraph(t, store)

	sub, err := store.ExpandFromChunks(context.Background(), []string{"chunk-1"}, ExpandOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk-2", "chunk-4"}, sub.RelatedChunkIDs)
	assert.Equal(t, []string{"chunk-1"}, sub.SeedChunkIDs)
	assert.Equal(t, 1, sub.Depth)
	assert.NotContains(t, sub.RelatedChunkIDs, "chunk-1")
	assert.NotContains(t, sub.RelatedChunkIDs, "chunk-3")
}

func TestExpandDepthTwo(t *testing.T) {
	store := newTestStore(t)
	seedGraph(t, store)

	sub, err := store.ExpandFromChunks(context.Background(), []string{"chunk-1"}, ExpandOptions{MaxDepth: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk-2", "chunk-3", "chunk-4"}, sub.RelatedChunkIDs)
}

func TestExpandBidirectional(t *testing.T) {
	store := newTestStore(t)
	seedGraph(t, store)

	// Seeding at C: outgoing-only finds nothing, bidirectional walks back
	// to B.
	forward, err := store.ExpandFromChunks(context.Background(), []string{"chunk-3"}, ExpandOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Empty(t, forward.RelatedChunkIDs)

	back, err := store.ExpandFromChunks(context.Background(), []string{"chunk-3"}, ExpandOptions{MaxDepth: 1, Bidirectional: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk-2"}, back.RelatedChunkIDs)
}

func TestExpandEdgeTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		symWithChunk("a.go", "A", "chunk-1"),
		symWithChunk("b.go", "B", "chunk-2"),
		symWithChunk("c.go", "C", "chunk-3"),
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.go#A", types.ResolvedTarget("b.go#B"), "a.go"),
		{SourceID: "a.go#A", Target: types.ResolvedTarget("c.go#C"), Type: types.EdgeExtends, FilePath: "a.go", Line: 1},
	}))

	sub, err := store.ExpandFromChunks(ctx, []string{"chunk-1"}, ExpandOptions{
		MaxDepth:  1,
		EdgeTypes: []types.EdgeType{types.EdgeExtends},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chunk-3"}, sub.RelatedChunkIDs)
}

func TestExpandMaxChunksKeepsClosest(t *testing.T) {
	store := newTestStore(t)
	seedGraph(t, store)

	sub, err := store.ExpandFromChunks(context.Background(), []string{"chunk-1"}, ExpandOptions{MaxDepth: 2, MaxChunks: 2})
	require.NoError(t, err)
	require.Len(t, sub.RelatedChunkIDs, 2)
	// Hop-1 results survive truncation; the depth-2 chunk is dropped.
	assert.NotContains(t, sub.RelatedChunkIDs, "chunk-3")
}

func TestExpandEmptySeeds(t *testing.T) {
	store := newTestStore(t)
	sub, err := store.ExpandFromChunks(context.Background(), nil, ExpandOptions{})
	require.NoError(t, err)
	assert.True(t, sub.Empty())
	assert.Empty(t, sub.RelatedChunkIDs)
}

func TestExpandUnknownChunk(t *testing.T) {
	store := newTestStore(t)
	seedGraph(t, store)
	sub, err := store.ExpandFromChunks(context.Background(), []string{"nope"}, ExpandOptions{})
	require.NoError(t, err)
	assert.Empty(t, sub.RelatedChunkIDs)
	assert.Empty(t, sub.Symbols)
}

func TestUpdateChunkMappings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{sym("a.go", "A", true)}))
	require.NoError(t, store.UpdateChunkMappings(ctx, map[string]string{"a.go#A": "chunk-9"}))

	got, err := store.GetSymbolsByChunkIDs(ctx, []string{"chunk-9"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.go#A", got[0].ID)
}

func TestGetDetailedStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSymbols(ctx, []types.Symbol{
		sym("a.go", "A", true),
		{ID: "a.go#T", Name: "T", QualifiedName: "T", Kind: types.SymClass, FilePath: "a.go", StartLine: 1, EndLine: 2},
	}))
	require.NoError(t, store.InsertEdges(ctx, []types.SymbolEdge{
		callEdge("a.go#A", types.BareTarget("X"), "a.go"),
	}))

	stats, err := store.GetDetailedStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Symbols)
	assert.Equal(t, 1, stats.SymbolsByKind["function"])
	assert.Equal(t, 1, stats.SymbolsByKind["class"])
	assert.Equal(t, 1, stats.EdgesByType["CALLS"])
}
