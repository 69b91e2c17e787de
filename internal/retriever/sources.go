package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// BM25Search runs lexical search over the FTS index. An empty query is an
// empty result, not an error.
func (s *Service) BM25Search(ctx context.Context, query string, limit int) ([]types.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	out, err := s.meta.SearchFTS(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	return out, nil
}

// VectorSearch embeds the query and runs nearest-neighbour search. An empty
// query returns empty without spending an embedding call.
func (s *Service) VectorSearch(ctx context.Context, query string, limit int) ([]types.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec, err := s.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.vectors.Query(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := s.meta.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load vector chunks: %w", err)
	}
	byID := make(map[string]types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]types.ScoredChunk, 0, len(matches))
	for _, m := range matches {
		chunk, ok := byID[m.ChunkID]
		if !ok {
			// Vector row outlived its chunk; skip rather than fail.
			continue
		}
		out = append(out, types.ScoredChunk{
			Chunk:  chunk,
			Score:  m.Similarity,
			Rank:   len(out) + 1,
			Source: types.SourceVector,
		})
	}
	return out, nil
}

// RecentFilesSearch returns one representative chunk per recently modified
// file, scored by position: max(0, 1 - index*decay).
func (s *Service) RecentFilesSearch(ctx context.Context, limit int) ([]types.ScoredChunk, error) {
	fileLimit := limit
	if fileLimit <= 0 || fileLimit > recentFileWindow {
		fileLimit = recentFileWindow
	}
	chunks, err := s.meta.RecentFileChunks(ctx, fileLimit)
	if err != nil {
		return nil, fmt.Errorf("recent files: %w", err)
	}

	// One representative chunk per file: the store returns chunks in
	// file-recency then sequence order, so the first chunk per path wins.
	seen := make(map[string]bool)
	var out []types.ScoredChunk
	for _, c := range chunks {
		if seen[c.FilePath] {
			continue
		}
		seen[c.FilePath] = true
		score := 1.0 - float64(len(out))*s.recencyDecay
		if score < 0 {
			score = 0
		}
		out = append(out, types.ScoredChunk{
			Chunk:  c,
			Score:  score,
			Rank:   len(out) + 1,
			Source: types.SourceRecent,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
