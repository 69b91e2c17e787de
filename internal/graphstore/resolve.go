package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// ResolveEdgesByName binds unresolved placeholder edges to concrete symbol
// ids. Per edge: with zero candidate definitions the edge is deleted, with
// one it is rewritten, and with several the import table then the
// exported/lexicographic preference decide. All mutations happen in one
// transaction; the return value counts rewritten edges.
func (s *Store) ResolveEdgesByName(ctx context.Context) (int, error) {
	unresolved, err := s.queryEdges(ctx,
		"SELECT source_id, target, type, file_path, line FROM edges WHERE target LIKE '?%'")
	if err != nil {
		return 0, fmt.Errorf("load unresolved edges: %w", err)
	}
	if len(unresolved) == 0 {
		return 0, nil
	}

	byName, err := s.symbolsByName(ctx)
	if err != nil {
		return 0, err
	}
	imports, err := s.importsBySource(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	resolved := 0
	for _, edge := range unresolved {
		candidates := byName[edge.Target.Name()]
		target, ok := pickCandidate(edge, candidates, imports)
		if !ok {
			// Nothing resolvable project-wide, typically an external
			// package reference. Drop the edge, not an error.
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM edges WHERE source_id = ? AND target = ? AND type = ?",
				edge.SourceID, edge.Target.String(), string(edge.Type)); err != nil {
				return 0, fmt.Errorf("delete edge: %w", err)
			}
			continue
		}

		// Self-edges can surface when a placeholder resolves back to its
		// own source; they carry no information.
		if target == edge.SourceID {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM edges WHERE source_id = ? AND target = ? AND type = ?",
				edge.SourceID, edge.Target.String(), string(edge.Type)); err != nil {
				return 0, fmt.Errorf("delete self edge: %w", err)
			}
			continue
		}

		// Rewrite as delete+insert so landing on an already-present
		// resolved edge dedupes instead of violating the primary key.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE source_id = ? AND target = ? AND type = ?",
			edge.SourceID, edge.Target.String(), string(edge.Type)); err != nil {
			return 0, fmt.Errorf("delete placeholder edge: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO edges (source_id, target, type, file_path, line) VALUES (?, ?, ?, ?, ?)",
			edge.SourceID, target, string(edge.Type), edge.FilePath, edge.Line); err != nil {
			return 0, fmt.Errorf("rewrite edge: %w", err)
		}
		resolved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Debug("edge resolution complete",
		"unresolved", len(unresolved), "resolved", resolved)
	return resolved, nil
}

// pickCandidate applies the resolution preference order and returns the
// winning symbol id, or false when the edge should be deleted.
func pickCandidate(edge types.SymbolEdge, candidates []types.Symbol, imports map[importKey]types.ImportMapping) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) == 1 {
		return candidates[0].ID, true
	}

	// Module-scoped placeholders consult the source file's import mapping.
	if module := edge.Target.Module(); module != "" {
		if imp, ok := imports[importKey{edge.FilePath, module}]; ok {
			hintPath := imp.ResolvedPath
			for _, cand := range candidates {
				if hintPath != "" && cand.FilePath == hintPath {
					return cand.ID, true
				}
				if hintPath == "" && moduleMatchesFile(edge.FilePath, module, cand.FilePath) {
					return cand.ID, true
				}
			}
		} else {
			for _, cand := range candidates {
				if moduleMatchesFile(edge.FilePath, module, cand.FilePath) {
					return cand.ID, true
				}
			}
		}
	}

	// No usable hint: exported wins over unexported, then smallest id.
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Exported != best.Exported {
			if cand.Exported {
				best = cand
			}
			continue
		}
		if cand.ID < best.ID {
			best = cand
		}
	}
	return best.ID, true
}

type importKey struct {
	filePath string
	module   string
}

func (s *Store) symbolsByName(ctx context.Context) (map[string][]types.Symbol, error) {
	symbols, err := s.querySymbols(ctx, "SELECT "+symbolColumns+" FROM symbols")
	if err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	byName := make(map[string][]types.Symbol)
	for _, sym := range symbols {
		byName[sym.Name] = append(byName[sym.Name], sym)
	}
	// Deterministic candidate order regardless of insertion order.
	for name := range byName {
		list := byName[name]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return byName, nil
}

func (s *Store) importsBySource(ctx context.Context) (map[importKey]types.ImportMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path, local_name, source_module, imported_name, resolved_path FROM imports")
	if err != nil {
		return nil, fmt.Errorf("load imports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[importKey]types.ImportMapping)
	for rows.Next() {
		var imp types.ImportMapping
		var importedName, resolvedPath *string
		if err := rows.Scan(&imp.FilePath, &imp.LocalName, &imp.SourceModule, &importedName, &resolvedPath); err != nil {
			return nil, err
		}
		if importedName != nil {
			imp.ImportedName = *importedName
		}
		if resolvedPath != nil {
			imp.ResolvedPath = *resolvedPath
		}
		// Keyed by module specifier; a file importing the same module
		// under several aliases maps to the same specifier anyway.
		out[importKey{imp.FilePath, imp.SourceModule}] = imp
	}
	return out, rows.Err()
}

// moduleMatchesFile guesses whether a module specifier written in
// sourceFile denotes candidatePath. Relative specifiers resolve against the
// importing file's directory; package-style specifiers match on trailing
// path segments.
func moduleMatchesFile(sourceFile, module, candidatePath string) bool {
	stem := strings.TrimSuffix(candidatePath, path.Ext(candidatePath))
	if strings.HasPrefix(module, ".") {
		resolved := path.Clean(path.Join(path.Dir(sourceFile), module))
		return stem == resolved || path.Dir(candidatePath) == resolved
	}
	if path.Base(stem) == path.Base(module) {
		return true
	}
	dir := path.Dir(candidatePath)
	return dir != "." && strings.HasSuffix(module, dir)
}
