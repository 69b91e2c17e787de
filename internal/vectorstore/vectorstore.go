// Package vectorstore persists chunk embeddings in SQLite and answers
// nearest-neighbor queries. With the sqlite_vec build the distance runs in
// SQL; the purego build scans candidates and computes cosine similarity in
// Go. Both paths return identical result shapes.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ctxgraph/ctxgraph/internal/storage"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Match is one nearest-neighbor hit.
type Match struct {
	ChunkID    string
	FilePath   string
	Similarity float64 // cosine similarity, higher is closer
}

// Store holds embeddings keyed by chunk id. It shares the database handle
// with the other stores and does not own it.
type Store struct {
	db *sql.DB
}

// New wraps an open database and creates the embeddings table.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			vector BLOB NOT NULL,
			dimension INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_file ON embeddings(file_path);
	`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create embeddings schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertBatch writes embeddings in one transaction, replacing rows whose
// chunk id already exists.
func (s *Store) InsertBatch(ctx context.Context, rows []types.ChunkEmbedding) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT OR REPLACE INTO embeddings (chunk_id, file_path, vector, dimension)
		VALUES (?, ?, ?, ?)
	`
	for _, row := range rows {
		if len(row.Vector) == 0 {
			return fmt.Errorf("empty vector for chunk %s", row.ChunkID)
		}
		if _, err := tx.ExecContext(ctx, query,
			row.ChunkID, row.FilePath, serializeVector(row.Vector), len(row.Vector)); err != nil {
			return fmt.Errorf("insert embedding %s: %w", row.ChunkID, err)
		}
	}
	return tx.Commit()
}

// Query returns the topK chunks nearest to the query vector, best first.
func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	if storage.VectorExtensionAvailable {
		return s.queryVec(ctx, vector, topK)
	}
	return s.queryFallback(ctx, vector, topK)
}

// queryVec pushes the distance computation into sqlite-vec.
func (s *Store) queryVec(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	blob := serializeVector(vector)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, file_path, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM embeddings
		WHERE dimension = ?
		ORDER BY similarity DESC
		LIMIT ?`, blob, len(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.FilePath, &m.Similarity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// queryFallback scans every stored vector and ranks in Go.
func (s *Store) queryFallback(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, file_path, vector FROM embeddings WHERE dimension = ?`, len(vector))
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Match
	for rows.Next() {
		var chunkID, filePath string
		var blob []byte
		if err := rows.Scan(&chunkID, &filePath, &blob); err != nil {
			return nil, err
		}
		out = append(out, Match{
			ChunkID:    chunkID,
			FilePath:   filePath,
			Similarity: cosineSimilarity(vector, deserializeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// DeleteByFilePath removes all embeddings owned by one file. The narrow
// single-path contract is deliberate; callers loop for multi-file deletes.
func (s *Store) DeleteByFilePath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE file_path = ?", path)
	if err != nil {
		return fmt.Errorf("delete embeddings for %s: %w", path, err)
	}
	return nil
}

// DeleteByChunkIDs removes specific embedding rows.
func (s *Store) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM embeddings WHERE chunk_id IN (%s)", placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	return n, err
}

// Optimize reclaims space after bulk deletes.
func (s *Store) Optimize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Destroy drops every embedding row and the table itself. Used when an
// index is rebuilt from scratch, e.g. after switching to a provider with a
// different vector dimension. New re-creates the schema.
func (s *Store) Destroy(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS embeddings"); err != nil {
		return fmt.Errorf("drop embeddings: %w", err)
	}
	return nil
}

// serializeVector packs float32s little-endian, the layout sqlite-vec reads.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
