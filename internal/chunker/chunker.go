// Package chunker splits file content into bounded, syntax-aware segments.
package chunker

import (
	"strings"

	"github.com/ctxgraph/ctxgraph/internal/parser"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

const (
	// DefaultMaxLines bounds a single chunk; longer symbols are split.
	DefaultMaxLines = 200
)

// Chunker creates chunks from a parsed file. The same parse result that
// feeds symbol extraction drives chunk boundaries, so a file is parsed
// exactly once per pipeline pass.
type Chunker struct {
	maxLines int
}

// New creates a Chunker with the default size bound.
func New() *Chunker {
	return &Chunker{maxLines: DefaultMaxLines}
}

// NewWithMaxLines creates a Chunker with an explicit size bound.
func NewWithMaxLines(maxLines int) *Chunker {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Chunker{maxLines: maxLines}
}

// ChunkFile produces the ordered chunk sequence for one file. Chunk ids are
// stable across rebuilds iff content and position are unchanged.
func (c *Chunker) ChunkFile(res *parser.Result, content []byte) []types.Chunk {
	lines := strings.Split(string(content), "\n")

	type region struct {
		start, end int // 0-based, inclusive
		kind       types.ChunkKind
		symbol     string // qualified name, "" for block regions
	}

	// One region per outermost symbol. Symbols nested inside another
	// symbol's range (class methods) stay part of the enclosing chunk.
	var regions []region
	outer := outermostSymbols(res.Symbols)
	covered := make([]bool, len(lines))
	for _, sym := range outer {
		start, end := sym.StartLine-1, sym.EndLine-1
		if start < 0 || start >= len(lines) {
			continue
		}
		if end >= len(lines) {
			end = len(lines) - 1
		}
		regions = append(regions, region{start: start, end: end, kind: kindFor(sym.Kind), symbol: sym.QualifiedName})
		for i := start; i <= end && i < len(covered); i++ {
			covered[i] = true
		}
	}

	// Leftover lines between symbols become block regions.
	blockStart := -1
	flushBlock := func(endExclusive int) {
		if blockStart < 0 {
			return
		}
		start, end := blockStart, endExclusive-1
		blockStart = -1
		if !hasContent(lines[start : end+1]) {
			return
		}
		regions = append(regions, region{start: start, end: end, kind: types.ChunkBlock})
	}
	for i := range lines {
		if covered[i] {
			flushBlock(i)
			continue
		}
		if blockStart < 0 {
			blockStart = i
		}
	}
	flushBlock(len(lines))

	sortRegions := func() {
		for i := 1; i < len(regions); i++ {
			for j := i; j > 0 && regions[j].start < regions[j-1].start; j-- {
				regions[j], regions[j-1] = regions[j-1], regions[j]
			}
		}
	}
	sortRegions()

	// Materialize, splitting oversized regions at the line bound. Split
	// tails carry the block kind; only the head keeps the symbol kind.
	var chunks []types.Chunk
	seq := 0
	emit := func(start, end int, kind types.ChunkKind, symbol string) {
		text := strings.Join(lines[start:end+1], "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		hash := types.HashContent(text)
		chunk := types.Chunk{
			ID:          types.ChunkID(res.FilePath, seq, hash),
			FilePath:    res.FilePath,
			StartLine:   start + 1,
			EndLine:     end + 1,
			Seq:         seq,
			ContentHash: hash,
			Content:     text,
			Kind:        kind,
			Metadata:    map[string]string{"language": string(res.Language)},
		}
		if symbol != "" {
			chunk.Metadata["symbol"] = symbol
		}
		chunks = append(chunks, chunk)
		seq++
	}

	for _, r := range regions {
		kind, symbol := r.kind, r.symbol
		for start := r.start; start <= r.end; start += c.maxLines {
			end := start + c.maxLines - 1
			if end > r.end {
				end = r.end
			}
			emit(start, end, kind, symbol)
			kind, symbol = types.ChunkBlock, ""
		}
	}

	// Files with no extractable structure still index as one module chunk.
	if len(chunks) == 0 && hasContent(lines) {
		emit(0, len(lines)-1, types.ChunkModule, "")
	}

	return chunks
}

// AssignChunks fills each symbol's owning chunk id: the smallest chunk
// whose line range contains the symbol's start line.
func AssignChunks(symbols []types.Symbol, chunks []types.Chunk) {
	for i := range symbols {
		sym := &symbols[i]
		bestSpan := 1 << 30
		for _, chunk := range chunks {
			if sym.StartLine < chunk.StartLine || sym.StartLine > chunk.EndLine {
				continue
			}
			if span := chunk.EndLine - chunk.StartLine; span < bestSpan {
				bestSpan = span
				sym.ChunkID = chunk.ID
			}
		}
	}
}

// outermostSymbols filters out the module symbol and any symbol nested
// inside another symbol's line range.
func outermostSymbols(symbols []types.Symbol) []types.Symbol {
	var out []types.Symbol
	for i, sym := range symbols {
		if sym.Kind == types.SymModule {
			continue
		}
		nested := false
		for j, other := range symbols {
			if i == j || other.Kind == types.SymModule {
				continue
			}
			if other.StartLine <= sym.StartLine && sym.EndLine <= other.EndLine &&
				(other.EndLine-other.StartLine) > (sym.EndLine-sym.StartLine) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, sym)
		}
	}
	return out
}

func kindFor(kind types.SymbolKind) types.ChunkKind {
	switch kind {
	case types.SymFunction:
		return types.ChunkFunction
	case types.SymMethod:
		return types.ChunkMethod
	case types.SymClass:
		return types.ChunkClass
	case types.SymInterface, types.SymType:
		return types.ChunkTypeDecl
	case types.SymModule:
		return types.ChunkModule
	default:
		return types.ChunkBlock
	}
}

func hasContent(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}
