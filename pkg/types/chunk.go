package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ChunkKind classifies the syntactic role of a chunk.
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkMethod   ChunkKind = "method"
	ChunkClass    ChunkKind = "class"
	ChunkTypeDecl ChunkKind = "type"
	ChunkBlock    ChunkKind = "block"
	ChunkModule   ChunkKind = "module"
)

// Chunk is the immutable unit of indexed content: a bounded, syntax-aware
// segment of one file. A file owns an ordered sequence of chunks; they are
// replaced wholesale when the file changes.
type Chunk struct {
	ID          string
	FilePath    string
	StartLine   int
	EndLine     int
	Seq         int // sequence index within the owning file
	ContentHash string
	Content     string
	Kind        ChunkKind
	Metadata    map[string]string
}

// ChunkID derives the stable chunk identifier. The id is unchanged across
// rebuilds iff content and position are unchanged, and is never reused for
// different content once hashes diverge.
func ChunkID(filePath string, seq int, contentHash string) string {
	short := contentHash
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s:%d:%s", filePath, seq, short)
}

// HashContent returns the hex SHA-256 of the given content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate checks structural integrity of the chunk.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk id is required")
	}
	if c.FilePath == "" {
		return errors.New("chunk file path is required")
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		return errors.New("chunk line range is invalid")
	}
	if c.ContentHash == "" {
		return errors.New("chunk content hash must be computed")
	}
	return nil
}

// LineCount returns the number of source lines the chunk spans.
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// ChunkEmbedding pairs a chunk with its dense vector. Produced by the
// embedding service, persisted by the vector store.
type ChunkEmbedding struct {
	ChunkID  string
	FilePath string
	Vector   []float32
	Rank     int // placeholder, filled at query time
}
