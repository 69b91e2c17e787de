package types

import "strings"

// EdgeType is the relation carried by a symbol edge.
type EdgeType string

const (
	EdgeCalls      EdgeType = "CALLS"
	EdgeExtends    EdgeType = "EXTENDS"
	EdgeImplements EdgeType = "IMPLEMENTS"
	EdgeContains   EdgeType = "CONTAINS"
	EdgeImports    EdgeType = "IMPORTS"
	EdgeExports    EdgeType = "EXPORTS"
	EdgeUses       EdgeType = "USES"
	EdgeDefines    EdgeType = "DEFINES"
)

// AllEdgeTypes lists every edge type, in declaration order.
var AllEdgeTypes = []EdgeType{
	EdgeCalls, EdgeExtends, EdgeImplements, EdgeContains,
	EdgeImports, EdgeExports, EdgeUses, EdgeDefines,
}

// EdgeTarget is a tagged reference to the target of an edge: either a
// resolved symbol id, a bare placeholder "?#name", or a module-scoped
// placeholder "?{module}#name". Placeholders are produced by per-file
// extraction and bound by the resolution pass.
type EdgeTarget struct {
	raw string
}

// ResolvedTarget wraps a concrete symbol id.
func ResolvedTarget(symbolID string) EdgeTarget {
	return EdgeTarget{raw: symbolID}
}

// BareTarget builds an unqualified placeholder for a name whose definition
// lives in another file.
func BareTarget(name string) EdgeTarget {
	return EdgeTarget{raw: "?#" + name}
}

// ScopedTarget builds a module-scoped placeholder for member access through
// an imported binding.
func ScopedTarget(module, name string) EdgeTarget {
	return EdgeTarget{raw: "?{" + module + "}#" + name}
}

// ParseEdgeTarget reinterprets a stored target id.
func ParseEdgeTarget(raw string) EdgeTarget {
	return EdgeTarget{raw: raw}
}

// String returns the wire form of the target.
func (t EdgeTarget) String() string { return t.raw }

// IsResolved reports whether the target is bound to a concrete symbol id.
func (t EdgeTarget) IsResolved() bool {
	return !strings.HasPrefix(t.raw, "?")
}

// Name returns the referenced symbol name, for both resolved and
// placeholder targets.
func (t EdgeTarget) Name() string {
	if i := strings.LastIndex(t.raw, "#"); i >= 0 {
		return t.raw[i+1:]
	}
	return t.raw
}

// Module returns the module specifier of a scoped placeholder, or "" for
// bare placeholders and resolved targets.
func (t EdgeTarget) Module() string {
	if !strings.HasPrefix(t.raw, "?{") {
		return ""
	}
	end := strings.Index(t.raw, "}#")
	if end < 0 {
		return ""
	}
	return t.raw[2:end]
}

// Valid reports whether the raw form is a symbol id or a syntactically
// well-formed placeholder.
func (t EdgeTarget) Valid() bool {
	if t.raw == "" {
		return false
	}
	if !strings.HasPrefix(t.raw, "?") {
		return strings.Contains(t.raw, "#")
	}
	if strings.HasPrefix(t.raw, "?{") {
		return strings.Contains(t.raw, "}#") && t.Name() != ""
	}
	return strings.HasPrefix(t.raw, "?#") && t.Name() != ""
}

// SymbolEdge is a typed, directed relation between two symbols. Edges are
// deduplicated on (source, target, type); targets may be unresolved
// placeholders until resolution runs.
type SymbolEdge struct {
	SourceID string
	Target   EdgeTarget
	Type     EdgeType
	FilePath string // file the edge was extracted from
	Line     int
}
