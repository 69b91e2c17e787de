package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// MetadataStore persists file records, chunks, the lexical index, pipeline
// status, and build checkpoints. It does not own the database handle.
type MetadataStore struct {
	db *sql.DB
}

// NewMetadataStore wraps an open database and applies migrations.
func NewMetadataStore(ctx context.Context, db *sql.DB) (*MetadataStore, error) {
	if err := ApplyMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &MetadataStore{db: db}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertFiles writes file records, replacing existing rows by path.
func (s *MetadataStore) UpsertFiles(ctx context.Context, files []types.FileMetadata) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO files (path, content_hash, size_bytes, mod_time, language, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			language = excluded.language,
			indexed_at = excluded.indexed_at
	`
	now := time.Now()
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, query, f.Path, f.ContentHash, f.SizeBytes, f.ModTime, string(f.Language), now); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// GetFile returns one file record or ErrNotFound.
func (s *MetadataStore) GetFile(ctx context.Context, path string) (types.FileMetadata, error) {
	var f types.FileMetadata
	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT path, content_hash, size_bytes, mod_time, language FROM files WHERE path = ?`, path,
	).Scan(&f.Path, &f.ContentHash, &f.SizeBytes, &f.ModTime, &lang)
	if err == sql.ErrNoRows {
		return types.FileMetadata{}, ErrNotFound
	}
	if err != nil {
		return types.FileMetadata{}, err
	}
	f.Language = types.Language(lang)
	return f, nil
}

// ListFiles returns all tracked files keyed by path.
func (s *MetadataStore) ListFiles(ctx context.Context) (map[string]types.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, size_bytes, mod_time, language FROM files`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]types.FileMetadata)
	for rows.Next() {
		var f types.FileMetadata
		var lang string
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.SizeBytes, &f.ModTime, &lang); err != nil {
			return nil, err
		}
		f.Language = types.Language(lang)
		out[f.Path] = f
	}
	return out, rows.Err()
}

// DeleteByFilePaths removes the file records and, through the cascade,
// every chunk they own. One statement regardless of path count.
func (s *MetadataStore) DeleteByFilePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM files WHERE path IN (%s)", placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	return nil
}

// InsertChunks writes chunks in one transaction. Callers delete the owning
// file's previous chunks first; ids never collide across file versions.
func (s *MetadataStore) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT OR REPLACE INTO chunks (id, file_path, seq, start_line, end_line, kind, content_hash, content, symbol, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.FilePath, c.Seq, c.StartLine, c.EndLine, string(c.Kind),
			c.ContentHash, c.Content, c.Metadata["symbol"], c.Metadata["language"]); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunksByIDs returns the chunks that exist, preserving input order.
func (s *MetadataStore) GetChunksByIDs(ctx context.Context, ids []string) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, file_path, seq, start_line, end_line, kind, content_hash, content, symbol, language
		 FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]types.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByFile returns a file's chunks in sequence order.
func (s *MetadataStore) GetChunksByFile(ctx context.Context, path string) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path, seq, start_line, end_line, kind, content_hash, content, symbol, language
		 FROM chunks WHERE file_path = ? ORDER BY seq`, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchFTS runs a BM25-ranked full-text query over chunk content. Results
// come back best first with 1-based ranks.
func (s *MetadataStore) SearchFTS(ctx context.Context, query string, limit int) ([]types.ScoredChunk, error) {
	match := ftsMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.seq, c.start_line, c.end_line, c.kind,
		       c.content_hash, c.content, c.symbol, c.language,
		       bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ScoredChunk
	for rows.Next() {
		var c types.Chunk
		var symbol, lang sql.NullString
		var score float64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Seq, &c.StartLine, &c.EndLine,
			(*string)(&c.Kind), &c.ContentHash, &c.Content, &symbol, &lang, &score); err != nil {
			return nil, err
		}
		fillChunkMetadata(&c, symbol, lang)
		out = append(out, types.ScoredChunk{
			Chunk: c,
			// bm25() is smaller-is-better; negate so larger wins.
			Score:  -score,
			Rank:   len(out) + 1,
			Source: types.SourceBM25,
		})
	}
	return out, rows.Err()
}

// RecentFileChunks returns chunks from the most recently modified files,
// newest file first, sequence order within a file.
func (s *MetadataStore) RecentFileChunks(ctx context.Context, fileLimit int) ([]types.Chunk, error) {
	if fileLimit <= 0 {
		fileLimit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.seq, c.start_line, c.end_line, c.kind,
		       c.content_hash, c.content, c.symbol, c.language
		FROM chunks c
		JOIN (SELECT path, mod_time FROM files ORDER BY mod_time DESC LIMIT ?) f
		  ON c.file_path = f.path
		ORDER BY f.mod_time DESC, c.seq`, fileLimit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Counts returns tracked file and chunk totals.
func (s *MetadataStore) Counts(ctx context.Context) (files, chunks int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return 0, 0, err
	}
	return files, chunks, nil
}

// SaveProgress persists the single pipeline status row.
func (s *MetadataStore) SaveProgress(ctx context.Context, p types.Progress) error {
	failed, err := json.Marshal(p.FailedFiles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_status (id, run_id, status, phase, phase_progress, overall_progress,
			message, files_total, files_done, chunks_indexed, failed_files, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			phase = excluded.phase,
			phase_progress = excluded.phase_progress,
			overall_progress = excluded.overall_progress,
			message = excluded.message,
			files_total = excluded.files_total,
			files_done = excluded.files_done,
			chunks_indexed = excluded.chunks_indexed,
			failed_files = excluded.failed_files,
			updated_at = excluded.updated_at`,
		p.RunID, string(p.Status), string(p.Phase), p.PhaseProgress, p.OverallProgress,
		p.Message, p.FilesTotal, p.FilesDone, p.ChunksIndexed, string(failed), time.Now())
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// GetProgress reads the persisted status row or ErrNotFound.
func (s *MetadataStore) GetProgress(ctx context.Context) (types.Progress, error) {
	var p types.Progress
	var status, phase string
	var message, failed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, phase, phase_progress, overall_progress, message,
		       files_total, files_done, chunks_indexed, failed_files, updated_at
		FROM index_status WHERE id = 1`,
	).Scan(&p.RunID, &status, &phase, &p.PhaseProgress, &p.OverallProgress, &message,
		&p.FilesTotal, &p.FilesDone, &p.ChunksIndexed, &failed, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return types.Progress{}, ErrNotFound
	}
	if err != nil {
		return types.Progress{}, err
	}
	p.Status = types.BuildStatus(status)
	p.Phase = types.BuildPhase(phase)
	p.Message = message.String
	if failed.Valid && failed.String != "" {
		if err := json.Unmarshal([]byte(failed.String), &p.FailedFiles); err != nil {
			return types.Progress{}, fmt.Errorf("decode failed files: %w", err)
		}
	}
	return p, nil
}

// SaveCheckpoint upserts the checkpoint for a run. Called after every
// persisted batch so a crash loses at most one batch of progress.
func (s *MetadataStore) SaveCheckpoint(ctx context.Context, runID string, cp types.BuildCheckpoint) error {
	pending, err := json.Marshal(cp.PendingChunkIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, phase, last_processed_path, pending_chunk_ids, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase = excluded.phase,
			last_processed_path = excluded.last_processed_path,
			pending_chunk_ids = excluded.pending_chunk_ids,
			updated_at = excluded.updated_at`,
		runID, string(cp.Phase), cp.LastProcessedPath, string(pending), time.Now())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint loads a run's checkpoint or ErrNotFound.
func (s *MetadataStore) GetCheckpoint(ctx context.Context, runID string) (types.BuildCheckpoint, error) {
	var cp types.BuildCheckpoint
	var phase string
	var lastPath, pending sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT phase, last_processed_path, pending_chunk_ids, updated_at
		FROM checkpoints WHERE run_id = ?`, runID,
	).Scan(&phase, &lastPath, &pending, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return types.BuildCheckpoint{}, ErrNotFound
	}
	if err != nil {
		return types.BuildCheckpoint{}, err
	}
	cp.Phase = types.BuildPhase(phase)
	cp.LastProcessedPath = lastPath.String
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &cp.PendingChunkIDs); err != nil {
			return types.BuildCheckpoint{}, fmt.Errorf("decode pending chunk ids: %w", err)
		}
	}
	return cp, nil
}

// DeleteCheckpoint clears a completed or cancelled run's checkpoint.
func (s *MetadataStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID)
	return err
}

func scanChunk(rows *sql.Rows) (types.Chunk, error) {
	var c types.Chunk
	var symbol, lang sql.NullString
	err := rows.Scan(&c.ID, &c.FilePath, &c.Seq, &c.StartLine, &c.EndLine,
		(*string)(&c.Kind), &c.ContentHash, &c.Content, &symbol, &lang)
	if err != nil {
		return types.Chunk{}, err
	}
	fillChunkMetadata(&c, symbol, lang)
	return c, nil
}

func fillChunkMetadata(c *types.Chunk, symbol, lang sql.NullString) {
	c.Metadata = make(map[string]string, 2)
	if lang.Valid && lang.String != "" {
		c.Metadata["language"] = lang.String
	}
	if symbol.Valid && symbol.String != "" {
		c.Metadata["symbol"] = symbol.String
	}
}

// ftsMatchQuery turns free text into an FTS5 match expression: each term
// quoted (so code punctuation cannot break the parser) and OR-joined.
func ftsMatchQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r == '_')
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
