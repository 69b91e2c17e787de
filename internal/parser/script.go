package parser

import (
	"regexp"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Pattern-based extraction for TypeScript and JavaScript. This is
// deliberately heuristic: it recognizes top-level functions, classes and
// their methods, arrow-function consts, import bindings, and call sites.
// A wrong guess costs a spurious placeholder edge, which the resolution
// pass deletes when nothing matches.
var (
	scriptImportNamed     = regexp.MustCompile(`^\s*import\s+(?:type\s+)?\{([^}]+)\}\s+from\s+['"]([^'"]+)['"]`)
	scriptImportNamespace = regexp.MustCompile(`^\s*import\s+\*\s+as\s+(\w+)\s+from\s+['"]([^'"]+)['"]`)
	scriptImportDefault   = regexp.MustCompile(`^\s*import\s+(\w+)\s+from\s+['"]([^'"]+)['"]`)
	scriptRequire         = regexp.MustCompile(`^\s*(?:const|let|var)\s+(\w+)\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`)

	scriptFunction = regexp.MustCompile(`^\s*(export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`)
	scriptClass    = regexp.MustCompile(`^\s*(export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)(?:\s+extends\s+([\w.]+))?`)
	scriptArrowFn  = regexp.MustCompile(`^\s*(export\s+)?(?:const|let|var)\s+(\w+)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`)
	scriptMethod   = regexp.MustCompile(`^\s+(?:public\s+|private\s+|protected\s+|static\s+|async\s+)*(\w+)\s*\([^;]*\)\s*(?::[^({;]+)?\{`)

	scriptCall = regexp.MustCompile(`(\w+)(?:\.(\w+))?\s*\(`)
)

var scriptKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "typeof": true, "new": true,
	"constructor": true, "super": true, "this": true, "await": true,
	"console": true, "import": true, "export": true, "do": true, "else": true,
}

func parseScript(filePath string, content []byte, lang types.Language) (*Result, error) {
	res := newResult(filePath, lang, moduleNameFor(filePath))
	lines := strings.Split(string(content), "\n")

	imports := make(map[string]string) // local binding -> module specifier

	type span struct {
		symbolID string
		start    int
		end      int
	}
	var spans []span

	addSymbol := func(name, qualified string, kind types.SymbolKind, startIdx, endIdx int, exported bool, signature string) string {
		id := types.SymbolID(filePath, name)
		res.Symbols = append(res.Symbols, types.Symbol{
			ID:            id,
			Name:          name,
			QualifiedName: qualified,
			Kind:          kind,
			FilePath:      filePath,
			StartLine:     startIdx + 1,
			EndLine:       endIdx + 1,
			Signature:     signature,
			Exported:      exported,
		})
		spans = append(spans, span{symbolID: id, start: startIdx, end: endIdx})
		return id
	}

	var currentClass string
	classEnd := -1

	for i, line := range lines {
		if i > classEnd {
			currentClass = ""
		}

		if m := scriptImportNamed.FindStringSubmatch(line); m != nil {
			for _, binding := range strings.Split(m[1], ",") {
				binding = strings.TrimSpace(binding)
				if binding == "" {
					continue
				}
				original, local := binding, binding
				if parts := strings.SplitN(binding, " as ", 2); len(parts) == 2 {
					original = strings.TrimSpace(parts[0])
					local = strings.TrimSpace(parts[1])
				}
				imports[local] = m[2]
				res.Imports = append(res.Imports, types.ImportMapping{
					FilePath:     filePath,
					LocalName:    local,
					SourceModule: m[2],
					ImportedName: original,
				})
			}
			continue
		}
		if m := scriptImportNamespace.FindStringSubmatch(line); m != nil {
			imports[m[1]] = m[2]
			res.Imports = append(res.Imports, types.ImportMapping{
				FilePath: filePath, LocalName: m[1], SourceModule: m[2], ImportedName: "*",
			})
			continue
		}
		if m := scriptImportDefault.FindStringSubmatch(line); m != nil {
			imports[m[1]] = m[2]
			res.Imports = append(res.Imports, types.ImportMapping{
				FilePath: filePath, LocalName: m[1], SourceModule: m[2], ImportedName: "default",
			})
			continue
		}
		if m := scriptRequire.FindStringSubmatch(line); m != nil {
			imports[m[1]] = m[2]
			res.Imports = append(res.Imports, types.ImportMapping{
				FilePath: filePath, LocalName: m[1], SourceModule: m[2], ImportedName: "*",
			})
			continue
		}

		if m := scriptClass.FindStringSubmatch(line); m != nil {
			end := findBraceBlockEnd(lines, i)
			id := addSymbol(m[2], m[2], types.SymClass, i, end, m[1] != "" || isExportedLine(line), strings.TrimSpace(line))
			currentClass = m[2]
			classEnd = end

			if m[3] != "" {
				res.Edges = append(res.Edges, types.SymbolEdge{
					SourceID: id,
					Target:   scriptNameTarget(m[3], imports),
					Type:     types.EdgeExtends,
					FilePath: filePath,
					Line:     i + 1,
				})
			}
			continue
		}

		if m := scriptFunction.FindStringSubmatch(line); m != nil {
			end := findBraceBlockEnd(lines, i)
			addSymbol(m[2], m[2], types.SymFunction, i, end, m[1] != "", strings.TrimSpace(line))
			continue
		}

		if m := scriptArrowFn.FindStringSubmatch(line); m != nil {
			end := findBraceBlockEnd(lines, i)
			addSymbol(m[2], m[2], types.SymFunction, i, end, m[1] != "", strings.TrimSpace(line))
			continue
		}

		if currentClass != "" && i <= classEnd {
			if m := scriptMethod.FindStringSubmatch(line); m != nil && !scriptKeywords[m[1]] {
				end := findBraceBlockEnd(lines, i)
				methodID := addSymbol(m[1], currentClass+"."+m[1], types.SymMethod, i, end, true, strings.TrimSpace(line))
				res.Edges = append(res.Edges, types.SymbolEdge{
					SourceID: types.SymbolID(filePath, currentClass),
					Target:   types.ResolvedTarget(methodID),
					Type:     types.EdgeContains,
					FilePath: filePath,
					Line:     i + 1,
				})
			}
		}
	}

	// Attribute call sites to the innermost enclosing symbol.
	enclosing := func(lineIdx int) string {
		best := ""
		bestSize := 1 << 30
		for _, sp := range spans {
			if lineIdx >= sp.start && lineIdx <= sp.end && sp.end-sp.start < bestSize {
				best = sp.symbolID
				bestSize = sp.end - sp.start
			}
		}
		return best
	}

	for i, line := range lines {
		// Declaration lines would match the call pattern on their own name.
		if scriptFunction.MatchString(line) || scriptClass.MatchString(line) ||
			scriptArrowFn.MatchString(line) || scriptMethod.MatchString(line) {
			continue
		}
		source := enclosing(i)
		if source == "" {
			continue
		}
		for _, m := range scriptCall.FindAllStringSubmatch(line, -1) {
			recv, callee := m[1], m[2]
			if callee == "" {
				if scriptKeywords[recv] {
					continue
				}
				res.Edges = append(res.Edges, types.SymbolEdge{
					SourceID: source,
					Target:   types.BareTarget(recv),
					Type:     types.EdgeCalls,
					FilePath: filePath,
					Line:     i + 1,
				})
				continue
			}
			module, ok := imports[recv]
			if !ok {
				continue
			}
			res.Edges = append(res.Edges, types.SymbolEdge{
				SourceID: source,
				Target:   types.ScopedTarget(module, callee),
				Type:     types.EdgeCalls,
				FilePath: filePath,
				Line:     i + 1,
			})
		}
	}

	res.Edges = dedupeEdges(res.Edges)
	res.finish(content)
	return res, nil
}

// scriptNameTarget maps a possibly dotted name to an edge target, scoping
// it by module when the head is an imported binding.
func scriptNameTarget(name string, imports map[string]string) types.EdgeTarget {
	if head, tail, ok := strings.Cut(name, "."); ok {
		if module, found := imports[head]; found {
			return types.ScopedTarget(module, tail)
		}
		return types.BareTarget(tail)
	}
	if module, found := imports[name]; found {
		return types.ScopedTarget(module, name)
	}
	return types.BareTarget(name)
}

func isExportedLine(line string) bool {
	return strings.Contains(line, "export ")
}

// findBraceBlockEnd returns the 0-based index of the line where the brace
// block starting at startIdx balances, or the last line if it never does.
func findBraceBlockEnd(lines []string, startIdx int) int {
	depth := 0
	opened := false
	for i := startIdx; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}
