package types

// SearchSource tags which retrieval primitive produced a scored chunk.
type SearchSource string

const (
	SourceBM25   SearchSource = "bm25"
	SourceVector SearchSource = "vector"
	SourceRecent SearchSource = "recent"
)

// ScoredChunk is the transient retrieval-time projection of a chunk: its
// identity and content plus a per-source score, rank, and source tag. Never
// persisted; produced per query.
type ScoredChunk struct {
	Chunk  Chunk
	Score  float64
	Rank   int // 1-based position within the source list
	Source SearchSource
}

// Subgraph is the transient result of a graph expansion: the seed chunk
// ids, the related chunks discovered by traversal, and the symbols/edges
// actually visited, for rendering.
type Subgraph struct {
	SeedChunkIDs    []string
	RelatedChunkIDs []string
	Symbols         []Symbol
	Edges           []SymbolEdge
	Depth           int // traversal depth actually reached
}

// Empty reports whether the subgraph holds nothing renderable.
func (g *Subgraph) Empty() bool {
	return g == nil || (len(g.Symbols) == 0 && len(g.Edges) == 0)
}
