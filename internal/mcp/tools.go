package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctxgraph/ctxgraph/internal/graphstore"
	"github.com/ctxgraph/ctxgraph/internal/indexer"
	"github.com/ctxgraph/ctxgraph/internal/retriever"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeBuildInProgress = -32001 // Another build is already running
	ErrorCodeNoActiveBuild   = -32002 // No build to pause/resume/cancel
	ErrorCodeEmptyQuery      = -32003 // Query parameter is empty
)

// handleIndexProject starts a full build in the background.
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	streaming := getBoolDefault(args, "streaming", false)

	mgr, err := s.managerFor(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeBuildInProgress, err.Error(), nil)
	}

	// The build outlives the tool call but not the server; progress is
	// persisted and served through index_status.
	go func() {
		build := mgr.Build
		if streaming {
			build = mgr.BuildStreaming
		}
		if err := build(s.buildCtx); err != nil {
			if errors.Is(err, indexer.ErrBuildInProgress) {
				return
			}
			slog.Warn("background build finished with error", "error", err)
		}
		s.search.InvalidateCache()
	}()

	return jsonResult(map[string]interface{}{
		"started":   true,
		"path":      path,
		"streaming": streaming,
		"message":   "indexing started; poll index_status for progress",
	})
}

// handleUpdateIndex runs an incremental update synchronously.
func (s *Server) handleUpdateIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	mgr, err := s.managerFor(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeBuildInProgress, err.Error(), nil)
	}

	cs, err := mgr.Update(ctx)
	if err != nil {
		if errors.Is(err, indexer.ErrBuildInProgress) {
			return nil, newMCPError(ErrorCodeBuildInProgress, err.Error(), nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "update failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.search.InvalidateCache()

	return jsonResult(map[string]interface{}{
		"updated":  true,
		"added":    len(cs.Added),
		"modified": len(cs.Modified),
		"deleted":  len(cs.Deleted),
	})
}

// handleSearchCode runs a hybrid retrieval and returns ranked results.
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	opts := retriever.Options{
		TopK:        limit,
		EnableGraph: getBoolDefault(args, "enable_graph", false),
		Graph: graphstore.ExpandOptions{
			MaxDepth:      getIntDefault(args, "max_depth", s.cfg.GraphMaxDepth),
			Bidirectional: getBoolDefault(args, "bidirectional", false),
			MaxChunks:     s.cfg.GraphMaxChunks,
		},
		RRFConstant: s.cfg.RRFConstant,
		UseCache:    true,
	}

	res, err := s.search.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(res.Chunks))
	for _, fc := range res.Chunks {
		results = append(results, map[string]interface{}{
			"chunk_id":   fc.Chunk.ID,
			"file":       fc.Chunk.FilePath,
			"start_line": fc.Chunk.StartLine,
			"end_line":   fc.Chunk.EndLine,
			"kind":       fc.Chunk.Kind,
			"score":      fc.Score,
			"rank":       fc.Rank,
			"sources":    fc.Sources,
			"content":    fc.Chunk.Content,
		})
	}

	response := map[string]interface{}{
		"results":     results,
		"total":       len(results),
		"cache_hit":   res.CacheHit,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Subgraph != nil && !res.Subgraph.Empty() {
		response["graph"] = map[string]interface{}{
			"related_chunk_ids": res.Subgraph.RelatedChunkIDs,
			"symbols":           len(res.Subgraph.Symbols),
			"edges":             len(res.Subgraph.Edges),
			"depth":             res.Subgraph.Depth,
		}
	}
	return jsonResult(response)
}

// handleGetContext retrieves and renders a token-budgeted context block.
func (s *Server) handleGetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	maxTokens := getIntDefault(args, "max_tokens", 8000)
	limit := getIntDefault(args, "limit", 10)
	enableGraph := getBoolDefault(args, "enable_graph", true)

	opts := retriever.Options{
		TopK:        limit,
		EnableGraph: enableGraph,
		Graph: graphstore.ExpandOptions{
			MaxDepth:  s.cfg.GraphMaxDepth,
			MaxChunks: s.cfg.GraphMaxChunks,
		},
		RRFConstant: s.cfg.RRFConstant,
		UseCache:    true,
	}

	res, err := s.search.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "retrieval failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	text := s.builder.BuildCombinedContext(res.Chunks, res.Subgraph, maxTokens)
	if text == "" {
		text = "No indexed content matched the query."
	}
	return mcp.NewToolResultText(text), nil
}

// handleIndexStatus reports progress plus store statistics.
func (s *Server) handleIndexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var progress types.Progress
	if mgr := s.currentManager(); mgr != nil {
		progress = mgr.GetProgress(ctx)
	} else if p, err := s.meta.GetProgress(ctx); err == nil {
		progress = p
	}

	files, chunks, err := s.meta.Counts(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read counts", map[string]interface{}{
			"error": err.Error(),
		})
	}
	vectors, err := s.vectors.Count(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read vector count", map[string]interface{}{
			"error": err.Error(),
		})
	}
	stats, err := s.graph.GetStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read graph stats", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"files":            files,
			"chunks":           chunks,
			"vectors":          vectors,
			"symbols":          stats.Symbols,
			"edges":            stats.Edges,
			"unresolved_edges": stats.UnresolvedEdges,
			"imports":          stats.Imports,
		},
	}
	if progress.RunID != "" {
		run := map[string]interface{}{
			"run_id":           progress.RunID,
			"status":           progress.Status,
			"phase":            progress.Phase,
			"phase_progress":   progress.PhaseProgress,
			"overall_progress": progress.OverallProgress,
			"files_total":      progress.FilesTotal,
			"files_done":       progress.FilesDone,
			"chunks_indexed":   progress.ChunksIndexed,
			"message":          progress.Message,
		}
		if len(progress.FailedFiles) > 0 {
			run["failed_files"] = progress.FailedFiles
		}
		response["build"] = run
	} else {
		response["build"] = nil
		response["message"] = "no build has run; use index_project to index a project"
	}
	return jsonResult(response)
}

// handlePauseIndex pauses the running build.
func (s *Server) handlePauseIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mgr, err := s.runningManager(ctx)
	if err != nil {
		return nil, err
	}
	mgr.Pause()
	return jsonResult(map[string]interface{}{"paused": true})
}

// handleResumeIndex resumes a paused build.
func (s *Server) handleResumeIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mgr := s.currentManager()
	if mgr == nil {
		return nil, newMCPError(ErrorCodeNoActiveBuild, "no build to resume", nil)
	}
	mgr.Resume()
	return jsonResult(map[string]interface{}{"resumed": true})
}

// handleCancelIndex cancels the running build.
func (s *Server) handleCancelIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mgr, err := s.runningManager(ctx)
	if err != nil {
		return nil, err
	}
	mgr.Cancel()
	return jsonResult(map[string]interface{}{"cancelled": true})
}

// runningManager returns the manager only when a run is active.
func (s *Server) runningManager(ctx context.Context) (*indexer.Manager, error) {
	mgr := s.currentManager()
	if mgr == nil {
		return nil, newMCPError(ErrorCodeNoActiveBuild, "no active build", nil)
	}
	p := mgr.GetProgress(ctx)
	if p.Status != types.StatusRunning && p.Status != types.StatusPaused {
		return nil, newMCPError(ErrorCodeNoActiveBuild, "no active build", map[string]interface{}{
			"status": p.Status,
		})
	}
	return mgr, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error.
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// MCPError represents an MCP protocol error.
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requirePath extracts and validates the path argument.
func requirePath(args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return path, nil
}

// validatePath checks that a path is an absolute, readable directory.
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// jsonResult formats a map as an indented-JSON tool result.
func jsonResult(data map[string]interface{}) (*mcp.CallToolResult, error) {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode response", nil)
	}
	return mcp.NewToolResultText(string(bytes)), nil
}

// getBoolDefault extracts a boolean parameter with a default value.
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
