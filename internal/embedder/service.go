package embedder

import (
	"context"
	"fmt"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Service embeds chunks in provider-sized batches with a cache keyed by
// chunk content hash. Unchanged chunks from a previous run embed for free;
// provider failures are never masked by cache hits.
type Service struct {
	embedder Embedder
	cache    *Cache
}

// NewService wraps an embedder. The cache may be nil to disable reuse
// across calls.
func NewService(e Embedder, cache *Cache) *Service {
	return &Service{embedder: e, cache: cache}
}

// EmbedChunks returns one embedding row per chunk, in chunk order. Chunks
// whose content hash is cached skip the provider entirely; the rest go out
// in batches of at most MaxBatchSize.
func (s *Service) EmbedChunks(ctx context.Context, chunks []types.Chunk) ([]types.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]types.ChunkEmbedding, len(chunks))
	var missIdx []int
	for i, chunk := range chunks {
		if s.cache != nil {
			if emb, ok := s.cache.Get(chunk.ContentHash); ok {
				out[i] = types.ChunkEmbedding{
					ChunkID:  chunk.ID,
					FilePath: chunk.FilePath,
					Vector:   emb.Vector,
				}
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = chunks[idx].Content
		}

		embeddings, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrProviderFailed, len(embeddings), len(batch))
		}

		for j, idx := range batch {
			chunk := chunks[idx]
			out[idx] = types.ChunkEmbedding{
				ChunkID:  chunk.ID,
				FilePath: chunk.FilePath,
				Vector:   embeddings[j].Vector,
			}
			if s.cache != nil {
				embeddings[j].Hash = chunk.ContentHash
				s.cache.Set(chunk.ContentHash, embeddings[j])
			}
		}
	}

	return out, nil
}

// EmbedQuery embeds a retrieval query with the same provider the index was
// built with.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return emb.Vector, nil
}

// Dimension exposes the underlying provider dimension.
func (s *Service) Dimension() int {
	return s.embedder.Dimension()
}

// Provider exposes the underlying provider name.
func (s *Service) Provider() string {
	return s.embedder.Provider()
}

// Close releases provider resources.
func (s *Service) Close() error {
	return s.embedder.Close()
}
