// Package mcp exposes the indexing and retrieval core over the Model
// Context Protocol on stdio.
package mcp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ctxgraph/ctxgraph/internal/config"
	"github.com/ctxgraph/ctxgraph/internal/contextbuilder"
	"github.com/ctxgraph/ctxgraph/internal/embedder"
	"github.com/ctxgraph/ctxgraph/internal/graphstore"
	"github.com/ctxgraph/ctxgraph/internal/indexer"
	"github.com/ctxgraph/ctxgraph/internal/retriever"
	"github.com/ctxgraph/ctxgraph/internal/scanner"
	"github.com/ctxgraph/ctxgraph/internal/storage"
	"github.com/ctxgraph/ctxgraph/internal/vectorstore"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

const (
	// ServerName is the MCP server name.
	ServerName = "ctxgraph"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the indexing and retrieval core.
type Server struct {
	mcp     *server.MCPServer
	cfg     *config.Config
	db      *sql.DB
	meta    *storage.MetadataStore
	vectors *vectorstore.Store
	graph   *graphstore.Store
	embed   *embedder.Service
	search  *retriever.Service
	builder *contextbuilder.Builder

	// Background builds run on buildCtx so shutdown stops them at the next
	// batch boundary instead of orphaning them.
	buildCtx    context.Context
	buildCancel context.CancelFunc

	// One index manager at a time; replaced when a new project root is
	// indexed and nothing is running.
	mu      sync.Mutex
	manager *indexer.Manager
	root    string
}

// NewServer opens the database and wires every component.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	meta, err := storage.NewMetadataStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	vectors, err := vectorstore.New(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	graph, err := graphstore.New(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}

	emb, err := embedder.New(embedderConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedSvc := embedder.NewService(emb, embedder.NewCache(cfg.EmbeddingCache))

	search := retriever.New(meta, vectors, graph, embedSvc)
	search.SetRecencyDecay(cfg.RecencyDecay)
	search.ResizeCache(cfg.QueryCacheLen)

	buildCtx, buildCancel := context.WithCancel(ctx)
	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion),
		cfg:         cfg,
		db:          db,
		meta:        meta,
		vectors:     vectors,
		graph:       graph,
		embed:       embedSvc,
		search:      search,
		builder:     contextbuilder.NewWithRatio(cfg.CharsPerToken),
		buildCtx:    buildCtx,
		buildCancel: buildCancel,
	}
	s.registerTools()
	return s, nil
}

// embedderConfig maps the loaded configuration onto a provider selection:
// an explicit provider wins, otherwise whichever API key is present
// (OpenAI before Jina), falling back to the deterministic local provider.
func embedderConfig(cfg *config.Config) embedder.Config {
	provider := strings.ToLower(cfg.EmbeddingProvider)
	if provider == "" {
		switch {
		case cfg.HasOpenAI():
			provider = embedder.ProviderOpenAI
		case cfg.HasJina():
			provider = embedder.ProviderJina
		default:
			provider = embedder.ProviderLocal
		}
	}

	ec := embedder.Config{
		Provider: provider,
		Model:    cfg.EmbeddingModel,
		Host:     cfg.OllamaHost,
		CacheLen: cfg.EmbeddingCache,
	}
	switch provider {
	case embedder.ProviderOpenAI:
		ec.APIKey = cfg.OpenAIAPIKey
	case embedder.ProviderJina:
		ec.APIKey = cfg.JinaAPIKey
	}
	return ec
}

// Serve runs the MCP server on stdio until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer s.close()
	slog.Info("serving", "name", ServerName, "version", ServerVersion, "db", s.cfg.DBPath)
	return server.ServeStdio(s.mcp)
}

func (s *Server) close() {
	s.buildCancel()
	if err := s.embed.Close(); err != nil {
		slog.Warn("close embedder", "error", err)
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(updateIndexTool(), s.handleUpdateIndex)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getContextTool(), s.handleGetContext)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(pauseIndexTool(), s.handlePauseIndex)
	s.mcp.AddTool(resumeIndexTool(), s.handleResumeIndex)
	s.mcp.AddTool(cancelIndexTool(), s.handleCancelIndex)
}

// managerFor returns the manager bound to root, creating one if needed. A
// different root is rejected while a run is in flight.
func (s *Server) managerFor(ctx context.Context, root string) (*indexer.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		if s.root == root {
			return s.manager, nil
		}
		if p := s.manager.GetProgress(ctx); p.Status == types.StatusRunning || p.Status == types.StatusPaused {
			return nil, fmt.Errorf("%w for %s", indexer.ErrBuildInProgress, s.root)
		}
	}

	sc := scanner.New(scanner.Options{
		IncludeTests:    s.cfg.IncludeTests,
		FollowGitignore: s.cfg.FollowGitignore,
		MaxFileSize:     s.cfg.MaxFileSize,
	})
	s.manager = indexer.NewManager(indexer.Config{
		Root:      root,
		BatchSize: s.cfg.BatchSize,
	}, sc, s.embed, s.meta, s.vectors, s.graph)
	s.root = root
	return s.manager, nil
}

// currentManager returns the active manager, or nil when nothing was
// indexed yet.
func (s *Server) currentManager() *indexer.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}
