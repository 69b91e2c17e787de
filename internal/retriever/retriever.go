// Package retriever executes hybrid code retrieval: lexical, vector, and
// recency searches run independently, their ranked lists are fused with
// Reciprocal Rank Fusion, and the fused top results optionally seed a graph
// expansion.
package retriever

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ctxgraph/ctxgraph/internal/graphstore"
	"github.com/ctxgraph/ctxgraph/internal/vectorstore"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

const (
	// DefaultRRFConstant is the k smoothing constant of the fusion formula.
	DefaultRRFConstant = 60.0

	// DefaultRecencyDecay is the per-position score decay of the recency
	// source.
	DefaultRecencyDecay = 0.1

	defaultTopK      = 10
	defaultCacheLen  = 1000
	defaultCacheTTL  = time.Hour
	sourceOverfetch  = 2 // each source fetches topK*2 so fusion has depth
	recentFileWindow = 10
)

// MetadataSearcher is the slice of the metadata store retrieval reads.
type MetadataSearcher interface {
	SearchFTS(ctx context.Context, query string, limit int) ([]types.ScoredChunk, error)
	RecentFileChunks(ctx context.Context, fileLimit int) ([]types.Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]types.Chunk, error)
}

// VectorSearcher answers nearest-neighbour queries.
type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, topK int) ([]vectorstore.Match, error)
}

// GraphExpander walks the symbol graph outward from seed chunks.
type GraphExpander interface {
	ExpandFromChunks(ctx context.Context, seedChunkIDs []string, opts graphstore.ExpandOptions) (*types.Subgraph, error)
}

// QueryEmbedder embeds query text for vector search.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Weights sets the per-source contribution to the fused score.
type Weights struct {
	BM25   float64
	Vector float64
	Recent float64
}

// DefaultWeights favors the semantic sources; recency is a weak prior.
func DefaultWeights() Weights {
	return Weights{BM25: 1.0, Vector: 1.0, Recent: 0.5}
}

// Options tunes one retrieval call.
type Options struct {
	TopK        int
	EnableGraph bool
	Graph       graphstore.ExpandOptions
	Weights     Weights
	RRFConstant float64
	UseCache    bool
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.RRFConstant <= 0 {
		o.RRFConstant = DefaultRRFConstant
	}
	if o.Weights == (Weights{}) {
		o.Weights = DefaultWeights()
	}
}

// Result is the output of one retrieval: fused chunks and, when graph
// expansion ran, the discovered subgraph.
type Result struct {
	Chunks   []FusedChunk
	Subgraph *types.Subgraph
	Duration time.Duration
	CacheHit bool
}

// cacheEntry pairs a cached result with its expiry.
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Service coordinates the retrieval sources and fusion.
type Service struct {
	meta    MetadataSearcher
	vectors VectorSearcher
	graph   GraphExpander
	embed   QueryEmbedder

	recencyDecay float64

	cacheMu  sync.Mutex
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL time.Duration
}

// New creates a retrieval service with a query cache of the default size.
func New(meta MetadataSearcher, vectors VectorSearcher, graph GraphExpander, embed QueryEmbedder) *Service {
	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheLen)
	if err != nil {
		panic(fmt.Sprintf("lru cache: %v", err))
	}
	return &Service{
		meta:         meta,
		vectors:      vectors,
		graph:        graph,
		embed:        embed,
		recencyDecay: DefaultRecencyDecay,
		cache:        cache,
		cacheTTL:     defaultCacheTTL,
	}
}

// SetRecencyDecay overrides the recency score decay.
func (s *Service) SetRecencyDecay(decay float64) {
	if decay > 0 {
		s.recencyDecay = decay
	}
}

// Retrieve runs every source concurrently, fuses the lists, truncates to
// TopK, and optionally expands the symbol graph from the surviving chunks.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	started := time.Now()
	opts.applyDefaults()

	if opts.UseCache {
		if hit := s.fromCache(query, opts); hit != nil {
			hit.CacheHit = true
			hit.Duration = time.Since(started)
			return hit, nil
		}
	}

	fetchLimit := opts.TopK * sourceOverfetch

	var bm25, vector, recent []types.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25, err = s.BM25Search(gctx, query, fetchLimit)
		return err
	})
	g.Go(func() error {
		var err error
		vector, err = s.VectorSearch(gctx, query, fetchLimit)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.RecentFilesSearch(gctx, fetchLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := RRFFusion([]WeightedList{
		{Weight: opts.Weights.BM25, Items: bm25},
		{Weight: opts.Weights.Vector, Items: vector},
		{Weight: opts.Weights.Recent, Items: recent},
	}, opts.RRFConstant)

	// Truncation happens after fusion so a chunk ranked low in every
	// source can still win on combined evidence.
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	res := &Result{Chunks: fused, Duration: time.Since(started)}

	if opts.EnableGraph && len(fused) > 0 {
		seeds := make([]string, len(fused))
		for i, fc := range fused {
			seeds[i] = fc.Chunk.ID
		}
		sub, err := s.graph.ExpandFromChunks(ctx, seeds, opts.Graph)
		if err != nil {
			return nil, fmt.Errorf("graph expansion: %w", err)
		}
		res.Subgraph = sub
	}

	if opts.UseCache {
		s.toCache(query, opts, res)
	}
	return res, nil
}

// RetrieveWithGraph is Retrieve with graph expansion forced on.
func (s *Service) RetrieveWithGraph(ctx context.Context, query string, opts Options) (*Result, error) {
	opts.EnableGraph = true
	return s.Retrieve(ctx, query, opts)
}

// SimpleRetrieve returns only the fused chunk list: no subgraph, no
// formatting.
func (s *Service) SimpleRetrieve(ctx context.Context, query string, topK int) ([]FusedChunk, error) {
	res, err := s.Retrieve(ctx, query, Options{TopK: topK})
	if err != nil {
		return nil, err
	}
	return res.Chunks, nil
}

// RelatedChunks loads the chunk rows behind a subgraph's related ids, for
// callers that render expanded context.
func (s *Service) RelatedChunks(ctx context.Context, sub *types.Subgraph) ([]types.Chunk, error) {
	if sub == nil || len(sub.RelatedChunkIDs) == 0 {
		return nil, nil
	}
	return s.meta.GetChunksByIDs(ctx, sub.RelatedChunkIDs)
}

// InvalidateCache drops every cached query. Called after index mutations.
func (s *Service) InvalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Purge()
}

// ResizeCache replaces the query cache with one of the given capacity. The
// lru package cannot resize in place, so existing entries are dropped.
func (s *Service) ResizeCache(n int) {
	if n <= 0 {
		return
	}
	cache, err := lru.New[[32]byte, *cacheEntry](n)
	if err != nil {
		return
	}
	s.cacheMu.Lock()
	s.cache = cache
	s.cacheMu.Unlock()
}

func (s *Service) fromCache(query string, opts Options) *Result {
	key := cacheKey(query, opts)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	cp := *entry.result
	cp.Chunks = append([]FusedChunk{}, entry.result.Chunks...)
	return &cp
}

func (s *Service) toCache(query string, opts Options, res *Result) {
	cp := *res
	cp.Chunks = append([]FusedChunk{}, res.Chunks...)
	entry := &cacheEntry{result: &cp, expiresAt: time.Now().Add(s.cacheTTL)}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Add(cacheKey(query, opts), entry)
}

func cacheKey(query string, opts Options) [32]byte {
	var b strings.Builder
	b.WriteString(query)
	fmt.Fprintf(&b, "|%d|%t|%.2f|%.2f|%.2f|%.2f|%d|%t|%d",
		opts.TopK, opts.EnableGraph,
		opts.Weights.BM25, opts.Weights.Vector, opts.Weights.Recent,
		opts.RRFConstant,
		opts.Graph.MaxDepth, opts.Graph.Bidirectional, opts.Graph.MaxChunks)
	for _, t := range opts.Graph.EdgeTypes {
		b.WriteString("|")
		b.WriteString(string(t))
	}
	return sha256.Sum256([]byte(b.String()))
}
