// Package graphstore persists the symbol graph: named code entities, typed
// directed edges between them, and the import mappings used to
// disambiguate cross-file name resolution. It shares the SQLite handle
// with the other stores.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Store is the embedded symbol graph.
type Store struct {
	db *sql.DB
}

// New wraps an open database and creates the graph schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS symbols (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			chunk_id TEXT,
			signature TEXT,
			exported INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
		CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
		CREATE INDEX IF NOT EXISTS idx_symbols_chunk ON symbols(chunk_id);

		CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			file_path TEXT NOT NULL,
			line INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (source_id, target, type)
		);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);
		CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_path);

		CREATE TABLE IF NOT EXISTS imports (
			file_path TEXT NOT NULL,
			local_name TEXT NOT NULL,
			source_module TEXT NOT NULL,
			imported_name TEXT,
			resolved_path TEXT,
			PRIMARY KEY (file_path, local_name)
		);
		CREATE INDEX IF NOT EXISTS idx_imports_module ON imports(source_module);
	`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create graph schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertSymbols upserts symbols by id; a later insert replaces the line
// range and signature of an earlier one.
func (s *Store) InsertSymbols(ctx context.Context, symbols []types.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO symbols (id, name, qualified_name, kind, file_path, start_line, end_line, chunk_id, signature, exported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			kind = excluded.kind,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			chunk_id = excluded.chunk_id,
			signature = excluded.signature,
			exported = excluded.exported
	`
	for _, sym := range symbols {
		if _, err := tx.ExecContext(ctx, query,
			sym.ID, sym.Name, sym.QualifiedName, string(sym.Kind), sym.FilePath,
			sym.StartLine, sym.EndLine, sym.ChunkID, sym.Signature, boolToInt(sym.Exported)); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
		}
	}
	return tx.Commit()
}

// InsertEdges writes edges, silently absorbing duplicates on
// (source, target, type).
func (s *Store) InsertEdges(ctx context.Context, edges []types.SymbolEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT OR IGNORE INTO edges (source_id, target, type, file_path, line)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, e := range edges {
		if !e.Target.Valid() {
			return fmt.Errorf("invalid edge target %q from %s", e.Target.String(), e.SourceID)
		}
		if _, err := tx.ExecContext(ctx, query,
			e.SourceID, e.Target.String(), string(e.Type), e.FilePath, e.Line); err != nil {
			return fmt.Errorf("insert edge %s -> %s: %w", e.SourceID, e.Target.String(), err)
		}
	}
	return tx.Commit()
}

// InsertImports upserts import mappings keyed by (file, local alias).
func (s *Store) InsertImports(ctx context.Context, imports []types.ImportMapping) error {
	if len(imports) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO imports (file_path, local_name, source_module, imported_name, resolved_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_path, local_name) DO UPDATE SET
			source_module = excluded.source_module,
			imported_name = excluded.imported_name,
			resolved_path = excluded.resolved_path
	`
	for _, imp := range imports {
		if _, err := tx.ExecContext(ctx, query,
			imp.FilePath, imp.LocalName, imp.SourceModule, imp.ImportedName, imp.ResolvedPath); err != nil {
			return fmt.Errorf("upsert import %s/%s: %w", imp.FilePath, imp.LocalName, err)
		}
	}
	return tx.Commit()
}

// DeleteByFilePaths removes all symbols, edges, and imports owned by the
// given files in one transaction.
func (s *Store) DeleteByFilePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	for _, table := range []string{"symbols", "edges", "imports"} {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE file_path IN (%s)", table, placeholders)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// UpdateChunkMappings sets each symbol's owning chunk id.
func (s *Store) UpdateChunkMappings(ctx context.Context, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for symbolID, chunkID := range mapping {
		if _, err := tx.ExecContext(ctx,
			"UPDATE symbols SET chunk_id = ? WHERE id = ?", chunkID, symbolID); err != nil {
			return fmt.Errorf("map symbol %s: %w", symbolID, err)
		}
	}
	return tx.Commit()
}

// GetSymbolsByChunkIDs returns the symbols owned by the given chunks.
func (s *Store) GetSymbolsByChunkIDs(ctx context.Context, chunkIDs []string) ([]types.Symbol, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	return s.querySymbols(ctx, fmt.Sprintf(
		"SELECT %s FROM symbols WHERE chunk_id IN (%s) ORDER BY file_path, start_line",
		symbolColumns, placeholders), args...)
}

// GetSymbolsByIDs returns the symbols with the given ids.
func (s *Store) GetSymbolsByIDs(ctx context.Context, ids []string) ([]types.Symbol, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.querySymbols(ctx, fmt.Sprintf(
		"SELECT %s FROM symbols WHERE id IN (%s)", symbolColumns, placeholders), args...)
}

// GetEdgesBetweenSymbols returns resolved edges whose endpoints are both in
// the given id set.
func (s *Store) GetEdgesBetweenSymbols(ctx context.Context, symbolIDs []string) ([]types.SymbolEdge, error) {
	if len(symbolIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbolIDs)), ",")
	args := make([]any, 0, len(symbolIDs)*2)
	for _, id := range symbolIDs {
		args = append(args, id)
	}
	for _, id := range symbolIDs {
		args = append(args, id)
	}
	return s.queryEdges(ctx, fmt.Sprintf(
		"SELECT source_id, target, type, file_path, line FROM edges WHERE source_id IN (%s) AND target IN (%s)",
		placeholders, placeholders), args...)
}

// Stats summarizes graph contents.
type Stats struct {
	Symbols         int
	Edges           int
	UnresolvedEdges int
	Imports         int
}

// DetailedStats breaks counts down by kind and edge type.
type DetailedStats struct {
	Stats
	SymbolsByKind map[string]int
	EdgesByType   map[string]int
}

// GetStats returns aggregate counts.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&st.Symbols); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&st.Edges); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges WHERE target LIKE '?%'").Scan(&st.UnresolvedEdges); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM imports").Scan(&st.Imports); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// GetDetailedStats returns aggregate counts plus per-kind breakdowns.
func (s *Store) GetDetailedStats(ctx context.Context) (DetailedStats, error) {
	base, err := s.GetStats(ctx)
	if err != nil {
		return DetailedStats{}, err
	}
	out := DetailedStats{
		Stats:         base,
		SymbolsByKind: make(map[string]int),
		EdgesByType:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM symbols GROUP BY kind")
	if err != nil {
		return DetailedStats{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return DetailedStats{}, err
		}
		out.SymbolsByKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return DetailedStats{}, err
	}

	edgeRows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM edges GROUP BY type")
	if err != nil {
		return DetailedStats{}, err
	}
	defer func() { _ = edgeRows.Close() }()
	for edgeRows.Next() {
		var typ string
		var n int
		if err := edgeRows.Scan(&typ, &n); err != nil {
			return DetailedStats{}, err
		}
		out.EdgesByType[typ] = n
	}
	return out, edgeRows.Err()
}

const symbolColumns = "id, name, qualified_name, kind, file_path, start_line, end_line, chunk_id, signature, exported"

func (s *Store) querySymbols(ctx context.Context, query string, args ...any) ([]types.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Symbol
	for rows.Next() {
		var sym types.Symbol
		var kind string
		var chunkID, signature sql.NullString
		var exported int
		if err := rows.Scan(&sym.ID, &sym.Name, &sym.QualifiedName, &kind, &sym.FilePath,
			&sym.StartLine, &sym.EndLine, &chunkID, &signature, &exported); err != nil {
			return nil, err
		}
		sym.Kind = types.SymbolKind(kind)
		sym.ChunkID = chunkID.String
		sym.Signature = signature.String
		sym.Exported = exported != 0
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]types.SymbolEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.SymbolEdge
	for rows.Next() {
		var e types.SymbolEdge
		var target, typ string
		if err := rows.Scan(&e.SourceID, &target, &typ, &e.FilePath, &e.Line); err != nil {
			return nil, err
		}
		e.Target = types.ParseEdgeTarget(target)
		e.Type = types.EdgeType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
