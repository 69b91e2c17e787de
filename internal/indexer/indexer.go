// Package indexer orchestrates the indexing pipeline: scan, chunk, embed,
// store, resolve. It owns progress and checkpoint state, supports
// cooperative pause/resume/cancel, and resumes crashed builds from the
// persisted checkpoint without redoing completed phases.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctxgraph/ctxgraph/internal/chunker"
	"github.com/ctxgraph/ctxgraph/internal/parser"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

var (
	// ErrBuildInProgress is returned when a second build or update is
	// attempted while one is running.
	ErrBuildInProgress = errors.New("a build is already in progress")

	// ErrCancelled is returned when a run is aborted through Cancel.
	ErrCancelled = errors.New("build cancelled")
)

// checkpointKey is the fixed checkpoint identity: one checkpoint per
// project database, independent of run ids.
const checkpointKey = "project"

// Scanner discovers indexable files under a root.
type Scanner interface {
	CountFiles(ctx context.Context, root string) (int, error)
	ScanFiles(ctx context.Context, root string) ([]types.FileMetadata, error)
}

// StreamingScanner yields files in fixed-size batches without holding the
// full list in memory. Optional; BuildStreaming falls back to batch-slicing
// when the scanner does not implement it.
type StreamingScanner interface {
	ScanFilesStreaming(ctx context.Context, root string, batchSize int) (<-chan []types.FileMetadata, <-chan error)
}

// MetadataStore is the slice of the metadata store the pipeline needs.
type MetadataStore interface {
	UpsertFiles(ctx context.Context, files []types.FileMetadata) error
	ListFiles(ctx context.Context) (map[string]types.FileMetadata, error)
	DeleteByFilePaths(ctx context.Context, paths []string) error
	InsertChunks(ctx context.Context, chunks []types.Chunk) error
	GetChunksByFile(ctx context.Context, path string) ([]types.Chunk, error)
	Counts(ctx context.Context) (files, chunks int, err error)
	SaveProgress(ctx context.Context, p types.Progress) error
	GetProgress(ctx context.Context) (types.Progress, error)
	SaveCheckpoint(ctx context.Context, key string, cp types.BuildCheckpoint) error
	GetCheckpoint(ctx context.Context, key string) (types.BuildCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, key string) error
}

// VectorStore is the slice of the vector store the pipeline needs. Deletes
// are single-path only; callers loop over files.
type VectorStore interface {
	InsertBatch(ctx context.Context, rows []types.ChunkEmbedding) error
	DeleteByFilePath(ctx context.Context, path string) error
}

// GraphStore is the slice of the graph store the pipeline needs.
type GraphStore interface {
	InsertSymbols(ctx context.Context, symbols []types.Symbol) error
	InsertEdges(ctx context.Context, edges []types.SymbolEdge) error
	InsertImports(ctx context.Context, imports []types.ImportMapping) error
	DeleteByFilePaths(ctx context.Context, paths []string) error
	ResolveEdgesByName(ctx context.Context) (int, error)
}

// Embedder turns chunks into vectors, batching and caching internally.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []types.Chunk) ([]types.ChunkEmbedding, error)
}

// Config tunes one manager.
type Config struct {
	Root       string
	BatchSize  int                  // files per pipeline batch; default 20
	OnProgress func(types.Progress) // optional, invoked on every tick
}

const defaultBatchSize = 20

// Manager drives the pipeline for one project root.
type Manager struct {
	cfg     Config
	scanner Scanner
	parser  *parser.Parser
	chunker *chunker.Chunker
	embed   Embedder
	meta    MetadataStore
	vectors VectorStore
	graph   GraphStore

	gate buildLock
	ctl  *controller

	mu       sync.Mutex
	progress types.Progress
}

// NewManager wires the pipeline components.
func NewManager(cfg Config, scanner Scanner, embed Embedder, meta MetadataStore, vectors VectorStore, graph GraphStore) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Manager{
		cfg:     cfg,
		scanner: scanner,
		parser:  parser.New(),
		chunker: chunker.New(),
		embed:   embed,
		meta:    meta,
		vectors: vectors,
		graph:   graph,
		ctl:     newController(),
	}
}

// Pause suspends the running build at the next batch boundary.
func (m *Manager) Pause() { m.ctl.Pause() }

// Resume releases a paused build.
func (m *Manager) Resume() { m.ctl.Resume() }

// Cancel aborts the running build at the next batch boundary. The current
// batch's writes complete; no partial batch is left behind.
func (m *Manager) Cancel() { m.ctl.Cancel() }

// GetProgress returns the latest progress snapshot. With no run in flight
// it falls back to the persisted status row, so a restarted process can
// report where the previous run stopped.
func (m *Manager) GetProgress(ctx context.Context) types.Progress {
	m.mu.Lock()
	current := m.progress
	m.mu.Unlock()
	if current.RunID != "" {
		return current
	}
	persisted, err := m.meta.GetProgress(ctx)
	if err != nil {
		return current
	}
	return persisted
}

// report mutates the shared progress state, persists it, and notifies the
// callback. Persistence failures are logged, never fatal.
func (m *Manager) report(ctx context.Context, mutate func(p *types.Progress)) {
	m.mu.Lock()
	mutate(&m.progress)
	if m.ctl.Paused() && m.progress.Status == types.StatusRunning {
		m.progress.Status = types.StatusPaused
	}
	m.progress.UpdatedAt = time.Now()
	snapshot := m.progress
	m.mu.Unlock()

	if err := m.meta.SaveProgress(ctx, snapshot); err != nil {
		slog.Warn("persist progress failed", "error", err)
	}
	if m.cfg.OnProgress != nil {
		m.cfg.OnProgress(snapshot)
	}
}

// beginRun acquires the single-flight gate and initializes run state.
func (m *Manager) beginRun() (string, error) {
	if !m.gate.TryAcquire() {
		return "", ErrBuildInProgress
	}
	m.ctl.reset()
	runID := uuid.NewString()
	m.mu.Lock()
	m.progress = types.Progress{
		RunID:  runID,
		Status: types.StatusRunning,
		Phase:  types.PhaseScan,
	}
	m.mu.Unlock()
	return runID, nil
}

// finishRun records the terminal status. Context cancellation and Cancel
// both land in the cancelled state; other errors are pipeline-fatal.
func (m *Manager) finishRun(ctx context.Context, err error) error {
	defer m.gate.Release()

	switch {
	case err == nil:
		m.report(ctx, func(p *types.Progress) {
			p.Status = types.StatusCompleted
			p.PhaseProgress = 100
			p.OverallProgress = 100
			p.Message = "completed"
		})
		if cpErr := m.meta.DeleteCheckpoint(ctx, checkpointKey); cpErr != nil {
			slog.Warn("clear checkpoint failed", "error", cpErr)
		}
		return nil
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		m.report(context.WithoutCancel(ctx), func(p *types.Progress) {
			p.Status = types.StatusCancelled
			p.Message = "cancelled"
		})
		return err
	default:
		m.report(context.WithoutCancel(ctx), func(p *types.Progress) {
			p.Status = types.StatusError
			p.Message = err.Error()
		})
		return err
	}
}

// readFile loads a file's content from the project root.
func (m *Manager) readFile(relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(m.cfg.Root, relPath))
}

// fileResult is one file's parse/chunk output, shared between chunk
// storage and symbol extraction so the file is parsed exactly once.
type fileResult struct {
	meta    types.FileMetadata
	chunks  []types.Chunk
	symbols []types.Symbol
	edges   []types.SymbolEdge
	imports []types.ImportMapping
}

// processFile runs read, parse-once, chunk, and symbol extraction for one
// file. Read failures are transient-per-file; symbol extraction problems
// degrade to a symbol-less result instead of failing the file.
func (m *Manager) processFile(fm types.FileMetadata) (*fileResult, error) {
	content, err := m.readFile(fm.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fm.Path, err)
	}

	res, err := m.parser.Parse(fm.Path, content, fm.Language)
	if err != nil {
		// Best-effort: the file still gets a content-only chunk sequence.
		slog.Warn("symbol extraction failed", "path", fm.Path, "error", err)
		res = &parser.Result{FilePath: fm.Path, Language: fm.Language}
	}
	for _, msg := range res.Errors {
		slog.Debug("parse diagnostic", "path", fm.Path, "detail", msg)
	}

	chunks := m.chunker.ChunkFile(res, content)
	chunker.AssignChunks(res.Symbols, chunks)

	return &fileResult{
		meta:    fm,
		chunks:  chunks,
		symbols: res.Symbols,
		edges:   res.Edges,
		imports: res.Imports,
	}, nil
}

// storeBatch persists one batch of file results: file rows and chunks to
// the metadata store, symbols/edges/imports to the graph store. A batch is
// the atomicity unit relative to checkpoint advancement.
func (m *Manager) storeBatch(ctx context.Context, results []*fileResult) (int, error) {
	var (
		files   []types.FileMetadata
		chunks  []types.Chunk
		symbols []types.Symbol
		edges   []types.SymbolEdge
		imports []types.ImportMapping
	)
	for _, r := range results {
		files = append(files, r.meta)
		chunks = append(chunks, r.chunks...)
		symbols = append(symbols, r.symbols...)
		edges = append(edges, r.edges...)
		imports = append(imports, r.imports...)
	}

	if err := m.meta.UpsertFiles(ctx, files); err != nil {
		return 0, fmt.Errorf("store files: %w", err)
	}
	if err := m.meta.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	if err := m.graph.InsertSymbols(ctx, symbols); err != nil {
		return 0, fmt.Errorf("store symbols: %w", err)
	}
	if err := m.graph.InsertEdges(ctx, edges); err != nil {
		return 0, fmt.Errorf("store edges: %w", err)
	}
	if err := m.graph.InsertImports(ctx, imports); err != nil {
		return 0, fmt.Errorf("store imports: %w", err)
	}
	return len(chunks), nil
}
