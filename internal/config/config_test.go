package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.Equal(t, 60.0, cfg.RRFConstant)
	assert.Equal(t, 4, cfg.CharsPerToken)
	assert.Equal(t, 2, cfg.GraphMaxDepth)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CTXGRAPH_DB_PATH", "/tmp/ctxgraph-test.db")
	t.Setenv("CTXGRAPH_BATCH_SIZE", "5")
	t.Setenv("CTXGRAPH_EMBEDDING_PROVIDER", "local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ctxgraph-test.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, "local", cfg.EmbeddingProvider)
	assert.False(t, cfg.HasOpenAI())
}
