package parser

import (
	"regexp"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

var (
	pyImportModule = regexp.MustCompile(`^\s*import\s+([\w.]+)(?:\s+as\s+(\w+))?`)
	pyImportFrom   = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+)`)
	pyDef          = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	pyClass        = regexp.MustCompile(`^(\s*)class\s+(\w+)\s*(?:\(([^)]*)\))?\s*:`)
	pyCall         = regexp.MustCompile(`(\w+)(?:\.(\w+))?\s*\(`)
)

var pyKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "return": true, "print": true,
	"len": true, "range": true, "str": true, "int": true, "float": true,
	"list": true, "dict": true, "set": true, "tuple": true, "type": true,
	"super": true, "isinstance": true, "enumerate": true, "zip": true,
	"open": true, "self": true, "def": true, "class": true, "raise": true,
}

func parsePython(filePath string, content []byte) (*Result, error) {
	res := newResult(filePath, types.LangPython, moduleNameFor(filePath))
	lines := strings.Split(string(content), "\n")

	imports := make(map[string]string)

	type span struct {
		symbolID string
		start    int
		end      int
	}
	var spans []span

	addSymbol := func(name, qualified string, kind types.SymbolKind, startIdx, endIdx int, signature string) string {
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
			Exported:      !strings.HasPrefix(name, "_"),
		})
		spans = append(spans, span{symbolID: id, start: startIdx, end: endIdx})
		return id
	}

	var currentClass string
	classIndent := -1
	classEnd := -1

	for i, line := range lines {
		if i > classEnd {
			currentClass = ""
			classIndent = -1
		}

		if m := pyImportFrom.FindStringSubmatch(line); m != nil {
			for _, binding := range strings.Split(m[2], ",") {
				binding = strings.TrimSpace(strings.Trim(binding, "()"))
				if binding == "" || binding == "*" {
					continue
				}
				original, local := binding, binding
				if parts := strings.SplitN(binding, " as ", 2); len(parts) == 2 {
					original = strings.TrimSpace(parts[0])
					local = strings.TrimSpace(parts[1])
				}
				imports[local] = m[1]
				res.Imports = append(res.Imports, types.ImportMapping{
					FilePath:     filePath,
					LocalName:    local,
					SourceModule: m[1],
					ImportedName: original,
				})
			}
			continue
		}
		if m := pyImportModule.FindStringSubmatch(line); m != nil {
			local := m[1]
			if m[2] != "" {
				local = m[2]
			} else if idx := strings.LastIndex(local, "."); idx >= 0 {
				local = local[idx+1:]
			}
			imports[local] = m[1]
			res.Imports = append(res.Imports, types.ImportMapping{
				FilePath: filePath, LocalName: local, SourceModule: m[1], ImportedName: "*",
			})
			continue
		}

		if m := pyClass.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			end := findIndentBlockEnd(lines, i, indent)
			id := addSymbol(m[2], m[2], types.SymClass, i, end, strings.TrimSpace(line))
			currentClass = m[2]
			classIndent = indent
			classEnd = end

			for _, base := range strings.Split(m[3], ",") {
				base = strings.TrimSpace(base)
				if base == "" || base == "object" {
					continue
				}
				target := types.BareTarget(base)
				if head, tail, ok := strings.Cut(base, "."); ok {
					if module, found := imports[head]; found {
						target = types.ScopedTarget(module, tail)
					} else {
						target = types.BareTarget(tail)
					}
				}
				res.Edges = append(res.Edges, types.SymbolEdge{
					SourceID: id,
					Target:   target,
					Type:     types.EdgeExtends,
					FilePath: filePath,
					Line:     i + 1,
				})
			}
			continue
		}

		if m := pyDef.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			end := findIndentBlockEnd(lines, i, indent)

			if currentClass != "" && indent > classIndent && i <= classEnd {
				methodID := addSymbol(m[2], currentClass+"."+m[2], types.SymMethod, i, end, strings.TrimSpace(line))
				res.Edges = append(res.Edges, types.SymbolEdge{
					SourceID: types.SymbolID(filePath, currentClass),
					Target:   types.ResolvedTarget(methodID),
					Type:     types.EdgeContains,
					FilePath: filePath,
					Line:     i + 1,
				})
			} else if indent == 0 {
				addSymbol(m[2], m[2], types.SymFunction, i, end, strings.TrimSpace(line))
			}
		}
	}

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
		if pyDef.MatchString(line) || pyClass.MatchString(line) {
			continue
		}
		source := enclosing(i)
		if source == "" {
			continue
		}
		for _, m := range pyCall.FindAllStringSubmatch(line, -1) {
			recv, callee := m[1], m[2]
			if callee == "" {
				if pyKeywords[recv] {
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

// findIndentBlockEnd returns the index of the last line belonging to the
// block opened at startIdx with the given indentation.
func findIndentBlockEnd(lines []string, startIdx, indent int) int {
	end := startIdx
	for i := startIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lineIndent := len(lines[i]) - len(strings.TrimLeft(lines[i], " \t"))
		if lineIndent <= indent {
			break
		}
		end = i
	}
	return end
}
