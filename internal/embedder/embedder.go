// Package embedder turns chunk content into dense vectors. Providers share
// a common interface; an LRU cache keyed by content hash sits in front of
// every provider so re-indexing unchanged content never hits the network.
package embedder

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one vector plus its provenance.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // content hash, set when the embedding passed through a cache
}

// Embedder generates vectors for text. Implementations are safe for
// concurrent use.
type Embedder interface {
	// Embed generates a single embedding.
	Embed(ctx context.Context, text string) (*Embedding, error)

	// EmbedBatch generates embeddings for texts in order. The result has
	// one entry per input text.
	EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Cache holds embeddings keyed by content hash with LRU eviction.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

const defaultCacheLen = 10000

// NewCache creates an embedding cache. Non-positive maxLen falls back to
// the default capacity.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = defaultCacheLen
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](defaultCacheLen)
	}
	return &Cache{cache: cache}
}

// Get returns a deep copy so caller mutations cannot poison the cache.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	vector := make([]float32, len(emb.Vector))
	copy(vector, emb.Vector)
	return &Embedding{
		Vector:    vector,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

func (c *Cache) Len() int {
	return c.cache.Len()
}

func (c *Cache) Purge() {
	c.cache.Purge()
}

// ComputeHash returns the cache key for a piece of text.
func ComputeHash(text string) string {
	return types.HashContent(text)
}

func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
