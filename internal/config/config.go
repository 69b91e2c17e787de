// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the ctxgraph core. Values come from
// CTXGRAPH_* environment variables with the defaults below.
type Config struct {
	DBPath string `envconfig:"DB_PATH"`
	Debug  bool   `envconfig:"DEBUG" default:"false"`

	// Embedding
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER"` // openai, jina, ollama, local
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	JinaAPIKey        string `envconfig:"JINA_API_KEY"`
	OllamaHost        string `envconfig:"OLLAMA_HOST"`
	EmbeddingCache    int    `envconfig:"EMBEDDING_CACHE" default:"10000"`

	// Pipeline
	BatchSize       int   `envconfig:"BATCH_SIZE" default:"20"`
	MaxFileSize     int64 `envconfig:"MAX_FILE_SIZE" default:"1048576"`
	IncludeTests    bool  `envconfig:"INCLUDE_TESTS" default:"true"`
	FollowGitignore bool  `envconfig:"FOLLOW_GITIGNORE" default:"true"`

	// Retrieval
	RRFConstant   float64 `envconfig:"RRF_CONSTANT" default:"60"`
	RecencyDecay  float64 `envconfig:"RECENCY_DECAY" default:"0.1"`
	QueryCacheLen int     `envconfig:"QUERY_CACHE" default:"1000"`

	// Context building
	CharsPerToken int `envconfig:"CHARS_PER_TOKEN" default:"4"`

	// Graph expansion defaults
	GraphMaxDepth  int `envconfig:"GRAPH_MAX_DEPTH" default:"2"`
	GraphMaxChunks int `envconfig:"GRAPH_MAX_CHUNKS" default:"20"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("ctxgraph", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".ctxgraph", "index.db")
	}

	return &cfg, nil
}

// HasOpenAI reports whether an OpenAI key is configured.
func (c *Config) HasOpenAI() bool { return c.OpenAIAPIKey != "" }

// HasJina reports whether a Jina key is configured.
func (c *Config) HasJina() bool { return c.JinaAPIKey != "" }
