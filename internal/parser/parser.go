// Package parser turns file content into symbols, dependency edges, and
// import mappings. A file is parsed exactly once; the result is shared by
// chunking and symbol extraction.
package parser

import (
	"path/filepath"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Result is the per-file output of parsing: the extracted symbols, the
// dependency edges (targets may be placeholders), and the file's import
// mappings. Edge targets referencing names defined in the same file are
// resolved eagerly; everything else stays a placeholder for the resolution
// pass.
type Result struct {
	FilePath   string
	Language   types.Language
	ModuleName string // package name for Go, file stem otherwise

	Symbols []types.Symbol
	Edges   []types.SymbolEdge
	Imports []types.ImportMapping

	// Errors collects non-fatal syntax diagnostics. A file with errors
	// still produces whatever symbols could be extracted.
	Errors []string
}

// ModuleSymbolID returns the id of the file's module-level symbol.
func (r *Result) ModuleSymbolID() string {
	return types.SymbolID(r.FilePath, r.ModuleName)
}

// Parser extracts symbols and edges from source files.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts a Result from file content. Unsupported languages yield a
// module-only result so the file still chunks and indexes.
func (p *Parser) Parse(filePath string, content []byte, lang types.Language) (*Result, error) {
	var res *Result
	var err error

	switch lang {
	case types.LangGo:
		res, err = parseGo(filePath, content)
	case types.LangTypeScript, types.LangJavaScript:
		res, err = parseScript(filePath, content, lang)
	case types.LangPython:
		res, err = parsePython(filePath, content)
	default:
		res = newResult(filePath, lang, moduleNameFor(filePath))
		res.finish(content)
	}
	if err != nil {
		return nil, err
	}

	resolveLocalTargets(res)
	return res, nil
}

// moduleNameFor derives the module symbol name for non-Go files: the base
// name without extension.
func moduleNameFor(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newResult(filePath string, lang types.Language, moduleName string) *Result {
	return &Result{
		FilePath:   filePath,
		Language:   lang,
		ModuleName: moduleName,
	}
}

// finish appends the module symbol and its DEFINES/EXPORTS edges. Called by
// every language extractor after symbol collection.
func (r *Result) finish(content []byte) {
	lineCount := strings.Count(string(content), "\n") + 1
	moduleID := r.ModuleSymbolID()

	module := types.Symbol{
		ID:            moduleID,
		Name:          r.ModuleName,
		QualifiedName: r.ModuleName,
		Kind:          types.SymModule,
		FilePath:      r.FilePath,
		StartLine:     1,
		EndLine:       lineCount,
		Exported:      true,
	}

	for i := range r.Symbols {
		sym := &r.Symbols[i]
		r.Edges = append(r.Edges, types.SymbolEdge{
			SourceID: moduleID,
			Target:   types.ResolvedTarget(sym.ID),
			Type:     types.EdgeDefines,
			FilePath: r.FilePath,
			Line:     sym.StartLine,
		})
		if sym.Exported {
			r.Edges = append(r.Edges, types.SymbolEdge{
				SourceID: moduleID,
				Target:   types.ResolvedTarget(sym.ID),
				Type:     types.EdgeExports,
				FilePath: r.FilePath,
				Line:     sym.StartLine,
			})
		}
	}

	for _, imp := range r.Imports {
		name := imp.ImportedName
		if name == "" || name == "*" {
			name = imp.LocalName
		}
		r.Edges = append(r.Edges, types.SymbolEdge{
			SourceID: moduleID,
			Target:   types.ScopedTarget(imp.SourceModule, name),
			Type:     types.EdgeImports,
			FilePath: r.FilePath,
			Line:     1,
		})
	}

	r.Symbols = append(r.Symbols, module)
}

// resolveLocalTargets rewrites bare placeholders whose definition lives in
// the same file, so per-file extraction never needs cross-file knowledge
// and the resolution pass only sees genuinely cross-file edges.
func resolveLocalTargets(r *Result) {
	local := make(map[string]string, len(r.Symbols))
	for _, sym := range r.Symbols {
		if sym.Kind != types.SymModule {
			local[sym.Name] = sym.ID
		}
	}

	for i := range r.Edges {
		edge := &r.Edges[i]
		if edge.Target.IsResolved() || edge.Target.Module() != "" {
			continue
		}
		if id, ok := local[edge.Target.Name()]; ok && id != edge.SourceID {
			edge.Target = types.ResolvedTarget(id)
		}
	}
}

// dedupeEdges drops duplicate (source, target, type) triples while keeping
// first-seen order. Extractors call it before finish to avoid flooding the
// store with repeated call sites.
func dedupeEdges(edges []types.SymbolEdge) []types.SymbolEdge {
	type key struct {
		src, dst string
		typ      types.EdgeType
	}
	seen := make(map[key]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		k := key{src: e.SourceID, dst: e.Target.String(), typ: e.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
