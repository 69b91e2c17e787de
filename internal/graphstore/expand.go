package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// ExpandOptions tunes a graph expansion.
type ExpandOptions struct {
	MaxDepth      int              // hops from the seed set; default 2
	Bidirectional bool             // follow incoming edges too
	EdgeTypes     []types.EdgeType // nil means every type
	MaxChunks     int              // cap on related chunks, applied after traversal; default 20
}

const (
	defaultMaxDepth  = 2
	defaultMaxChunks = 20
)

// ExpandFromChunks maps seed chunks to their symbols and walks the graph
// breadth first up to MaxDepth hops. Traversal is hop-ordered, so the
// MaxChunks truncation keeps the closest results. Seed chunks never appear
// in the related set.
func (s *Store) ExpandFromChunks(ctx context.Context, seedChunkIDs []string, opts ExpandOptions) (*types.Subgraph, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = defaultMaxChunks
	}

	sub := &types.Subgraph{SeedChunkIDs: seedChunkIDs}
	if len(seedChunkIDs) == 0 {
		return sub, nil
	}

	seedSymbols, err := s.GetSymbolsByChunkIDs(ctx, seedChunkIDs)
	if err != nil {
		return nil, fmt.Errorf("seed symbols: %w", err)
	}
	if len(seedSymbols) == 0 {
		return sub, nil
	}

	seedChunks := make(map[string]bool, len(seedChunkIDs))
	for _, id := range seedChunkIDs {
		seedChunks[id] = true
	}

	visited := make(map[string]bool, len(seedSymbols))
	frontier := make([]string, 0, len(seedSymbols))
	for _, sym := range seedSymbols {
		visited[sym.ID] = true
		frontier = append(frontier, sym.ID)
	}
	sub.Symbols = append(sub.Symbols, seedSymbols...)

	seenEdges := make(map[string]bool)
	var relatedChunkIDs []string
	relatedSeen := make(map[string]bool)

	for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		edges, err := s.edgesTouching(ctx, frontier, opts)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, edge := range edges {
			key := edge.SourceID + "\x00" + edge.Target.String() + "\x00" + string(edge.Type)
			if !seenEdges[key] {
				seenEdges[key] = true
				sub.Edges = append(sub.Edges, edge)
			}
			for _, id := range []string{edge.SourceID, edge.Target.String()} {
				if !visited[id] {
					visited[id] = true
					next = append(next, id)
				}
			}
		}
		if len(next) == 0 {
			frontier = nil
			sub.Depth = depth
			break
		}

		discovered, err := s.GetSymbolsByIDs(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("expand symbols: %w", err)
		}
		sub.Symbols = append(sub.Symbols, discovered...)
		for _, sym := range discovered {
			if sym.ChunkID == "" || seedChunks[sym.ChunkID] || relatedSeen[sym.ChunkID] {
				continue
			}
			relatedSeen[sym.ChunkID] = true
			relatedChunkIDs = append(relatedChunkIDs, sym.ChunkID)
		}

		frontier = next
		sub.Depth = depth
	}

	if len(relatedChunkIDs) > opts.MaxChunks {
		relatedChunkIDs = relatedChunkIDs[:opts.MaxChunks]
	}
	sub.RelatedChunkIDs = relatedChunkIDs
	return sub, nil
}

// edgesTouching returns resolved edges leaving the frontier, plus edges
// entering it when the expansion is bidirectional.
func (s *Store) edgesTouching(ctx context.Context, frontier []string, opts ExpandOptions) ([]types.SymbolEdge, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(frontier)), ",")

	var query strings.Builder
	query.WriteString("SELECT source_id, target, type, file_path, line FROM edges WHERE target NOT LIKE '?%' AND (source_id IN (")
	query.WriteString(placeholders)
	query.WriteString(")")
	args := make([]any, 0, len(frontier)*2+len(opts.EdgeTypes))
	for _, id := range frontier {
		args = append(args, id)
	}
	if opts.Bidirectional {
		query.WriteString(" OR target IN (")
		query.WriteString(placeholders)
		query.WriteString(")")
		for _, id := range frontier {
			args = append(args, id)
		}
	}
	query.WriteString(")")

	if len(opts.EdgeTypes) > 0 {
		query.WriteString(" AND type IN (")
		query.WriteString(strings.TrimSuffix(strings.Repeat("?,", len(opts.EdgeTypes)), ","))
		query.WriteString(")")
		for _, t := range opts.EdgeTypes {
			args = append(args, string(t))
		}
	}

	edges, err := s.queryEdges(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("traverse edges: %w", err)
	}
	return edges, nil
}
