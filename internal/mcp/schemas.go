package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexProjectTool returns the tool definition for index_project.
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Index a source tree to make it searchable. Runs in the background; poll index_status for progress.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"streaming": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, use the memory-bounded streaming pipeline",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// updateIndexTool returns the tool definition for update_index.
func updateIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_index",
		Description: "Incrementally re-index a project: detect added, modified, and deleted files by content hash and apply only the delta",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the indexed project root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code.
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Hybrid code search: lexical, vector, and recency signals fused by reciprocal rank fusion, optionally expanded through the symbol graph",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"enable_graph": map[string]interface{}{
					"type":        "boolean",
					"description": "Expand results through the symbol dependency graph",
					"default":     false,
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Graph expansion depth in hops",
					"default":     2,
				},
				"bidirectional": map[string]interface{}{
					"type":        "boolean",
					"description": "Follow incoming edges as well as outgoing during expansion",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getContextTool returns the tool definition for get_context.
func getContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_context",
		Description: "Retrieve and format a token-budgeted context block for a query: ranked code sections plus an optional dependency diagram",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What the context should cover",
				},
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Approximate token budget for the rendered context",
					"default":     8000,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chunks to consider",
					"default":     10,
				},
				"enable_graph": map[string]interface{}{
					"type":        "boolean",
					"description": "Include a dependency graph view when it fits the budget",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status.
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report indexing progress and index statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// pauseIndexTool returns the tool definition for pause_index.
func pauseIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "pause_index",
		Description: "Pause the running indexing build at the next batch boundary",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// resumeIndexTool returns the tool definition for resume_index.
func resumeIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "resume_index",
		Description: "Resume a paused indexing build",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// cancelIndexTool returns the tool definition for cancel_index.
func cancelIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_index",
		Description: "Cancel the running indexing build; the in-flight batch completes and the checkpoint is kept for later resume",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
