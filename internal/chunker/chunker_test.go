package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxgraph/ctxgraph/internal/parser"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

const goSource = `package store

import "fmt"

const bucket = "chunks"

type Store struct {
	path string
}

func (s *Store) Open() error {
	return fmt.Errorf("not implemented: %s", s.path)
}

func New(path string) *Store {
	return &Store{path: path}
}
`

func parseGoFixture(t *testing.T) (*parser.Result, []byte) {
	t.Helper()
	content := []byte(goSource)
	res, err := parser.New().Parse("internal/store/store.go", content, types.LangGo)
	require.NoError(t, err)
	return res, content
}

func TestChunkFileSymbolChunks(t *testing.T) {
	res, content := parseGoFixture(t)
	chunks := New().ChunkFile(res, content)
	require.NotEmpty(t, chunks)

	bySymbol := map[string]types.Chunk{}
	for _, c := range chunks {
		if sym, ok := c.Metadata["symbol"]; ok {
			bySymbol[sym] = c
		}
	}
	require.Contains(t, bySymbol, "Store")
	require.Contains(t, bySymbol, "New")
	assert.Equal(t, types.ChunkClass, bySymbol["Store"].Kind)
	assert.Equal(t, types.ChunkFunction, bySymbol["New"].Kind)
	assert.Contains(t, bySymbol["New"].Content, "func New(path string)")

	// Sequence indices follow source order with no gaps.
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, "go", c.Metadata["language"])
	}
}

func TestChunkFileLeftoverBlocks(t *testing.T) {
	res, content := parseGoFixture(t)
	chunks := New().ChunkFile(res, content)

	// Package clause, imports, and the const appear in block chunks since
	// the const symbol span covers only its own line.
	var haveImportBlock bool
	for _, c := range chunks {
		if strings.Contains(c.Content, `import "fmt"`) {
			haveImportBlock = true
		}
	}
	assert.True(t, haveImportBlock, "leftover lines must be covered by a chunk")

	// Every non-blank source line is covered by exactly one chunk.
	lines := strings.Split(goSource, "\n")
	coverage := make([]int, len(lines))
	for _, c := range chunks {
		for i := c.StartLine - 1; i < c.EndLine && i < len(coverage); i++ {
			coverage[i]++
		}
	}
	for i, n := range coverage {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		assert.Equalf(t, 1, n, "line %d covered %d times", i+1, n)
	}
}

func TestChunkIDStability(t *testing.T) {
	res, content := parseGoFixture(t)
	c := New()
	first := c.ChunkFile(res, content)
	second := c.ChunkFile(res, content)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	// Id embeds path, sequence, and an 8-char content hash prefix.
	parts := strings.Split(first[0].ID, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "internal/store/store.go", parts[0])
	assert.Len(t, parts[2], 8)
}

func TestChunkFileSplitsOversized(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Huge() {\n")
	for i := 0; i < 50; i++ {
		b.WriteString("\t_ = \"line\"\n")
	}
	b.WriteString("}\n")
	content := []byte(b.String())

	res, err := parser.New().Parse("big.go", content, types.LangGo)
	require.NoError(t, err)

	chunks := NewWithMaxLines(20).ChunkFile(res, content)
	var fnChunks []types.Chunk
	for _, c := range chunks {
		if c.StartLine >= 3 {
			fnChunks = append(fnChunks, c)
		}
	}
	require.GreaterOrEqual(t, len(fnChunks), 3)
	// Head keeps the symbol kind, tails degrade to block.
	assert.Equal(t, types.ChunkFunction, fnChunks[0].Kind)
	assert.Equal(t, "Huge", fnChunks[0].Metadata["symbol"])
	for _, c := range fnChunks[1:] {
		assert.Equal(t, types.ChunkBlock, c.Kind)
		assert.NotContains(t, c.Metadata, "symbol")
	}
	for _, c := range chunks {
		assert.LessOrEqual(t, c.EndLine-c.StartLine+1, 20)
	}
}

func TestChunkFileUnparsedFallback(t *testing.T) {
	content := []byte("# Notes\n\nPlain text body.\n")
	res, err := parser.New().Parse("NOTES.md", content, types.LangText)
	require.NoError(t, err)

	chunks := New().ChunkFile(res, content)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkModule, chunks[0].Kind)
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestChunkFileEmptyContent(t *testing.T) {
	res, err := parser.New().Parse("empty.py", []byte("\n\n"), types.LangPython)
	require.NoError(t, err)
	assert.Empty(t, New().ChunkFile(res, []byte("\n\n")))
}

func TestAssignChunks(t *testing.T) {
	res, content := parseGoFixture(t)
	chunks := New().ChunkFile(res, content)
	AssignChunks(res.Symbols, chunks)

	for _, sym := range res.Symbols {
		if sym.Kind == types.SymModule {
			continue
		}
		assert.NotEmptyf(t, sym.ChunkID, "symbol %s has no chunk", sym.Name)
	}

	// A method maps into its receiver's class chunk.
	var open types.Symbol
	for _, sym := range res.Symbols {
		if sym.Name == "Open" {
			open = sym
		}
	}
	require.NotEmpty(t, open.ChunkID)
	var owner types.Chunk
	for _, c := range chunks {
		if c.ID == open.ChunkID {
			owner = c
		}
	}
	assert.LessOrEqual(t, owner.StartLine, open.StartLine)
	assert.GreaterOrEqual(t, owner.EndLine, open.StartLine)
}
