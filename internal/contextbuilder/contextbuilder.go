// Package contextbuilder renders ranked retrieval results into
// token-budgeted text. Token counts are approximated from character counts;
// no tokenizer dependency.
package contextbuilder

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctxgraph/ctxgraph/internal/retriever"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

const (
	// DefaultCharsPerToken is the character-to-token approximation ratio.
	DefaultCharsPerToken = 4

	// DefaultMaxTokens is the overall context budget when none is given.
	DefaultMaxTokens = 8000

	// minTruncateChars is the smallest budget remainder worth filling with
	// a truncated chunk.
	minTruncateChars = 200

	truncationMarker = "\n... (truncated)"

	// textBudgetShare is the fraction of a combined budget given to the
	// text view; the rest goes to the graph view.
	textBudgetShare = 0.8

	// dedupeBucketLines groups near-duplicate chunks: same file, same
	// bucket of this many lines.
	dedupeBucketLines = 10
)

// Builder formats retrieval output under a token budget.
type Builder struct {
	charsPerToken int
	dedupe        bool
}

// New creates a Builder with the default character ratio and deduplication
// enabled.
func New() *Builder {
	return &Builder{charsPerToken: DefaultCharsPerToken, dedupe: true}
}

// NewWithRatio overrides the characters-per-token approximation.
func NewWithRatio(charsPerToken int) *Builder {
	b := New()
	if charsPerToken > 0 {
		b.charsPerToken = charsPerToken
	}
	return b
}

// SetDedupe toggles near-duplicate chunk suppression in text views.
func (b *Builder) SetDedupe(enabled bool) { b.dedupe = enabled }

// EstimateTokens approximates the token count of text.
func (b *Builder) EstimateTokens(text string) int {
	return (len(text) + b.charsPerToken - 1) / b.charsPerToken
}

// TrimToTokenBudget cuts text to fit the budget, appending a truncation
// marker when anything was removed.
func (b *Builder) TrimToTokenBudget(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	budget := maxTokens * b.charsPerToken
	if len(text) <= budget {
		return text
	}
	keep := budget - len(truncationMarker)
	if keep <= 0 {
		return ""
	}
	return text[:keep] + truncationMarker
}

// BuildTextView renders ranked chunks as file-headed fenced code sections,
// greedily appending until the budget is exhausted. A chunk that cannot fit
// whole is appended truncated when at least minTruncateChars of budget
// remain; otherwise appending stops.
func (b *Builder) BuildTextView(chunks []retriever.FusedChunk, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if b.dedupe {
		chunks = dedupeChunks(chunks)
	}

	budget := maxTokens * b.charsPerToken
	var out strings.Builder
	for _, fc := range chunks {
		section := formatSection(fc.Chunk)
		remaining := budget - out.Len()

		if len(section) <= remaining {
			out.WriteString(section)
			continue
		}
		if remaining >= minTruncateChars {
			keep := remaining - len(truncationMarker) - 1
			if keep > 0 {
				out.WriteString(section[:keep])
				out.WriteString(truncationMarker)
				out.WriteString("\n")
			}
		}
		break
	}
	return out.String()
}

// BuildGraphView renders a subgraph as a textual diagram: symbols as nodes,
// edges as labeled arrows, seed symbols marked. Empty subgraphs render to
// an empty string.
func (b *Builder) BuildGraphView(sub *types.Subgraph) string {
	if sub.Empty() {
		return ""
	}

	seedChunks := make(map[string]bool, len(sub.SeedChunkIDs))
	for _, id := range sub.SeedChunkIDs {
		seedChunks[id] = true
	}

	names := make(map[string]string, len(sub.Symbols))
	var out strings.Builder
	out.WriteString("graph TD\n")
	for _, sym := range sub.Symbols {
		names[sym.ID] = sym.Name
		label := fmt.Sprintf("%s (%s)", sym.Name, sym.Kind)
		if seedChunks[sym.ChunkID] {
			label += " *"
		}
		fmt.Fprintf(&out, "  %s[%q]\n", nodeID(sym.ID), label)
	}

	seen := make(map[string]bool, len(sub.Edges))
	for _, edge := range sub.Edges {
		target := edge.Target.String()
		key := edge.SourceID + "|" + target + "|" + string(edge.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := names[target]; !ok {
			// Edge into a symbol the traversal did not load; skip so the
			// diagram stays closed over its node set.
			continue
		}
		fmt.Fprintf(&out, "  %s -->|%s| %s\n", nodeID(edge.SourceID), edge.Type, nodeID(target))
	}
	return out.String()
}

// BuildCombinedContext renders text and graph views under one budget: 80%
// text, 20% graph. The graph view is included only when it fits its share.
func (b *Builder) BuildCombinedContext(chunks []retriever.FusedChunk, sub *types.Subgraph, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	textBudget := int(float64(maxTokens) * textBudgetShare)
	graphBudget := maxTokens - textBudget

	text := b.BuildTextView(chunks, textBudget)

	graph := b.BuildGraphView(sub)
	if graph == "" || b.EstimateTokens(graph) > graphBudget {
		return text
	}
	return text + "\n## Dependency graph\n\n```mermaid\n" + graph + "```\n"
}

// dedupeChunks removes near-duplicates: chunks from the same file whose
// start lines fall into the same bucket keep only the higher-scored entry.
// Relative order of survivors is preserved.
func dedupeChunks(chunks []retriever.FusedChunk) []retriever.FusedChunk {
	type bucket struct {
		file string
		slot int
	}
	best := make(map[bucket]int, len(chunks)) // bucket -> index into chunks
	for i, fc := range chunks {
		key := bucket{fc.Chunk.FilePath, fc.Chunk.StartLine / dedupeBucketLines}
		if prev, ok := best[key]; !ok || fc.Score > chunks[prev].Score {
			best[key] = i
		}
	}

	keep := make([]int, 0, len(best))
	for _, idx := range best {
		keep = append(keep, idx)
	}
	sort.Ints(keep)

	out := make([]retriever.FusedChunk, 0, len(keep))
	for _, idx := range keep {
		out = append(out, chunks[idx])
	}
	return out
}

// formatSection renders one chunk: file header with line range, then a
// fenced code block tagged with the language.
func formatSection(c types.Chunk) string {
	var out strings.Builder
	fmt.Fprintf(&out, "## %s:%d-%d\n\n", c.FilePath, c.StartLine, c.EndLine)
	fmt.Fprintf(&out, "```%s\n", fenceTag(c))
	out.WriteString(c.Content)
	if !strings.HasSuffix(c.Content, "\n") {
		out.WriteString("\n")
	}
	out.WriteString("```\n\n")
	return out.String()
}

// fenceTag picks the code-fence language tag from chunk metadata, falling
// back to the file extension.
func fenceTag(c types.Chunk) string {
	if lang, ok := c.Metadata["language"]; ok && lang != "" {
		return lang
	}
	switch filepath.Ext(c.FilePath) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	default:
		return ""
	}
}

// nodeID makes a symbol id safe for use as a diagram node identifier.
func nodeID(symbolID string) string {
	r := strings.NewReplacer("/", "_", ".", "_", "#", "__", "-", "_", " ", "_")
	return r.Replace(symbolID)
}
