package types

import "errors"

// SymbolKind classifies a named code entity.
type SymbolKind string

const (
	SymFunction  SymbolKind = "function"
	SymMethod    SymbolKind = "method"
	SymClass     SymbolKind = "class"
	SymInterface SymbolKind = "interface"
	SymType      SymbolKind = "type"
	SymConst     SymbolKind = "const"
	SymVar       SymbolKind = "var"
	SymModule    SymbolKind = "module"
)

// Symbol is a named code entity in the dependency graph. Symbols are
// upserted by id (last write wins) and deleted in bulk when their file is
// removed.
type Symbol struct {
	ID            string // "{filePath}#{name}"
	Name          string
	QualifiedName string
	Kind          SymbolKind
	FilePath      string
	StartLine     int
	EndLine       int
	ChunkID       string
	Signature     string
	Exported      bool
}

// SymbolID builds the canonical symbol identifier for a definition.
func SymbolID(filePath, name string) string {
	return filePath + "#" + name
}

// Validate checks structural integrity of the symbol.
func (s *Symbol) Validate() error {
	if s.ID == "" {
		return errors.New("symbol id is required")
	}
	if s.Name == "" {
		return errors.New("symbol name is required")
	}
	if s.FilePath == "" {
		return errors.New("symbol file path is required")
	}
	if s.StartLine <= 0 || s.EndLine < s.StartLine {
		return errors.New("symbol line range is invalid")
	}
	return nil
}

// ImportMapping records one imported binding of a file. It is consulted only
// to disambiguate symbol-name collisions during edge resolution.
type ImportMapping struct {
	FilePath     string
	LocalName    string // alias the binding is visible under in FilePath
	SourceModule string // module specifier as written in the import
	ImportedName string // original exported name; "*" for namespace imports
	ResolvedPath string // defining file path; empty until resolvable
}
