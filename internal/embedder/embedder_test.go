package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

func TestCacheGetReturnsCopy(t *testing.T) {
	cache := NewCache(10)
	cache.Set("h1", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3})

	got, ok := cache.Get("h1")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(2)
	cache.Set("a", &Embedding{})
	cache.Set("b", &Embedding{})
	cache.Set("c", &Embedding{})
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)
}

func TestLocalProviderDeterministic(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := p.Embed(ctx, "func main() {}")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)
	assert.Len(t, a.Vector, LocalDimension)

	c, err := p.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a.Vector, c.Vector)
}

func TestLocalProviderEmptyText(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestValidateBatch(t *testing.T) {
	assert.ErrorIs(t, validateBatch(nil), ErrInvalidInput)
	assert.ErrorIs(t, validateBatch([]string{"ok", ""}), ErrInvalidInput)
	assert.NoError(t, validateBatch([]string{"a", "b"}))
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestFactoryLocal(t *testing.T) {
	e, err := New(Config{Provider: ProviderLocal, CacheLen: 100})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())
}

func TestFactoryOpenAIRequiresKey(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestOllamaProviderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaModel, req.Model)

		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"model":      req.Model,
			"embeddings": out,
		}))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(srv.URL, "", nil)
	require.NoError(t, err)

	embs, err := p.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, []float32{1, 1}, embs[1].Vector)
	assert.Equal(t, ProviderOllama, embs[0].Provider)
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"alpha"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestFactoryOllama(t *testing.T) {
	e, err := New(Config{Provider: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, e.Provider())
	assert.Equal(t, DefaultOllamaModel, e.Model())
	assert.Equal(t, OllamaDimension, e.Dimension())
}

// fakeEmbedder records batch calls for service tests.
type fakeEmbedder struct {
	calls   int
	batches [][]string
	fail    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([]*Embedding, len(texts))
	for i := range texts {
		out[i] = &Embedding{Vector: []float32{float32(len(texts[i]))}, Dimension: 1, Provider: "fake"}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int   { return 1 }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-1" }
func (f *fakeEmbedder) Close() error     { return nil }

func makeChunk(path string, seq int, content string) types.Chunk {
	hash := types.HashContent(content)
	return types.Chunk{
		ID:          types.ChunkID(path, seq, hash),
		FilePath:    path,
		Seq:         seq,
		ContentHash: hash,
		Content:     content,
	}
}

func TestServiceEmbedChunks(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewService(fake, NewCache(100))

	chunks := []types.Chunk{
		makeChunk("a.go", 0, "alpha"),
		makeChunk("a.go", 1, "beta"),
	}
	rows, err := svc.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, chunks[0].ID, rows[0].ChunkID)
	assert.Equal(t, "a.go", rows[1].FilePath)
	assert.Equal(t, 1, fake.calls)
}

func TestServiceCacheSkipsProvider(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewService(fake, NewCache(100))
	chunks := []types.Chunk{makeChunk("a.go", 0, "alpha")}

	_, err := svc.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls)

	// Same content hash, so the second pass is served from cache.
	rows, err := svc.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.NotEmpty(t, rows[0].Vector)
}

func TestServicePartialCacheStillCallsProvider(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewService(fake, NewCache(100))

	_, err := svc.EmbedChunks(context.Background(), []types.Chunk{makeChunk("a.go", 0, "alpha")})
	require.NoError(t, err)

	rows, err := svc.EmbedChunks(context.Background(), []types.Chunk{
		makeChunk("a.go", 0, "alpha"),
		makeChunk("a.go", 1, "gamma"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, fake.calls)
	// Only the miss went to the provider.
	assert.Equal(t, []string{"gamma"}, fake.batches[1])
}

func TestServiceProviderErrorNotMasked(t *testing.T) {
	sentinel := errors.New("rate limited")
	fake := &fakeEmbedder{fail: sentinel}
	svc := NewService(fake, NewCache(100))

	_, err := svc.EmbedChunks(context.Background(), []types.Chunk{makeChunk("a.go", 0, "alpha")})
	assert.ErrorIs(t, err, sentinel)
}

func TestServiceBatchSlicing(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewService(fake, nil)

	chunks := make([]types.Chunk, MaxBatchSize+5)
	for i := range chunks {
		chunks[i] = makeChunk("big.go", i, fmt.Sprintf("content %d", i))
	}
	rows, err := svc.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Len(t, rows, MaxBatchSize+5)
	require.Equal(t, 2, fake.calls)
	assert.Len(t, fake.batches[0], MaxBatchSize)
	assert.Len(t, fake.batches[1], 5)
}

func TestRetryWithBackoffEventualSuccess(t *testing.T) {
	attempts := 0
	got, err := retryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1,
		MaxDelay:    2,
		Multiplier:  2,
	}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() (int, error) {
		return 0, errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
