package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// goBuiltins are call targets that never resolve to a project symbol.
var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "copy": true,
	"delete": true, "len": true, "make": true, "max": true, "min": true,
	"new": true, "panic": true, "print": true, "println": true, "recover": true,
	"bool": true, "byte": true, "complex64": true, "complex128": true,
	"error": true, "float32": true, "float64": true, "int": true, "int8": true,
	"int16": true, "int32": true, "int64": true, "rune": true, "string": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true, "any": true, "complex": true, "imag": true, "real": true,
}

// parseGo extracts symbols and edges from a Go source file using go/ast.
// Syntax errors are non-fatal: whatever partial AST the parser returns is
// still mined for symbols.
func parseGo(filePath string, content []byte) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)

	moduleName := moduleNameFor(filePath)
	if file != nil && file.Name != nil {
		moduleName = file.Name.Name
	}
	res := newResult(filePath, types.LangGo, moduleName)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		res.finish(content)
		return res, nil
	}

	ext := &goExtractor{
		fset:     fset,
		filePath: filePath,
		res:      res,
		imports:  make(map[string]string),
	}
	ext.collectImports(file)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			ext.extractFunc(d)
		case *ast.GenDecl:
			ext.extractGenDecl(d)
		}
	}

	ext.pruneDanglingContains()
	res.Edges = dedupeEdges(res.Edges)
	res.finish(content)
	return res, nil
}

// pruneDanglingContains drops CONTAINS edges whose receiver type is not
// declared in this file; their source id would reference nothing.
func (e *goExtractor) pruneDanglingContains() {
	declared := make(map[string]bool, len(e.res.Symbols))
	for _, sym := range e.res.Symbols {
		declared[sym.ID] = true
	}
	kept := e.res.Edges[:0]
	for _, edge := range e.res.Edges {
		if edge.Type == types.EdgeContains && !declared[edge.SourceID] {
			continue
		}
		kept = append(kept, edge)
	}
	e.res.Edges = kept
}

type goExtractor struct {
	fset     *token.FileSet
	filePath string
	res      *Result
	imports  map[string]string // local name -> import path
}

func (e *goExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

func (e *goExtractor) collectImports(file *ast.File) {
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		local := path.Base(importPath)
		if imp.Name != nil {
			local = imp.Name.Name
		}
		if local == "_" || local == "." {
			continue
		}
		e.imports[local] = importPath
		e.res.Imports = append(e.res.Imports, types.ImportMapping{
			FilePath:     e.filePath,
			LocalName:    local,
			SourceModule: importPath,
			ImportedName: "*",
		})
	}
}

func (e *goExtractor) addSymbol(name, qualified string, kind types.SymbolKind, start, end token.Pos, signature string) *types.Symbol {
	sym := types.Symbol{
		ID:            types.SymbolID(e.filePath, name),
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		FilePath:      e.filePath,
		StartLine:     e.line(start),
		EndLine:       e.line(end),
		Signature:     signature,
		Exported:      ast.IsExported(name),
	}
	e.res.Symbols = append(e.res.Symbols, sym)
	return &e.res.Symbols[len(e.res.Symbols)-1]
}

func (e *goExtractor) extractFunc(d *ast.FuncDecl) {
	name := d.Name.Name
	qualified := name
	kind := types.SymFunction
	var recvType string

	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = types.SymMethod
		recvType = receiverTypeName(d.Recv.List[0].Type)
		if recvType != "" {
			qualified = recvType + "." + name
		}
	}

	sym := e.addSymbol(name, qualified, kind, d.Pos(), d.End(), funcSignature(d))

	// A method is contained by its receiver type when that type is
	// declared in the same file; cross-file receivers are rare enough in
	// practice that the CONTAINS edge is simply omitted for them.
	if recvType != "" {
		e.res.Edges = append(e.res.Edges, types.SymbolEdge{
			SourceID: types.SymbolID(e.filePath, recvType),
			Target:   types.ResolvedTarget(sym.ID),
			Type:     types.EdgeContains,
			FilePath: e.filePath,
			Line:     sym.StartLine,
		})
	}

	if d.Body != nil {
		e.extractCalls(sym.ID, d.Body)
	}
}

func (e *goExtractor) extractGenDecl(d *ast.GenDecl) {
	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(d, s)
		case *ast.ValueSpec:
			kind := types.SymVar
			if d.Tok == token.CONST {
				kind = types.SymConst
			}
			for _, name := range s.Names {
				if name.Name == "_" {
					continue
				}
				e.addSymbol(name.Name, name.Name, kind, s.Pos(), s.End(), "")
			}
		}
	}
}

func (e *goExtractor) extractTypeSpec(d *ast.GenDecl, s *ast.TypeSpec) {
	kind := types.SymType
	switch s.Type.(type) {
	case *ast.StructType:
		kind = types.SymClass
	case *ast.InterfaceType:
		kind = types.SymInterface
	}

	sym := e.addSymbol(s.Name.Name, s.Name.Name, kind, d.Pos(), s.End(), "type "+s.Name.Name)

	switch t := s.Type.(type) {
	case *ast.StructType:
		e.extractStructRefs(sym.ID, t)
	case *ast.InterfaceType:
		e.extractInterfaceRefs(sym.ID, t)
	}
}

// extractStructRefs emits EXTENDS edges for embedded fields and USES edges
// for named field types.
func (e *goExtractor) extractStructRefs(sourceID string, st *ast.StructType) {
	for _, field := range st.Fields.List {
		target, ok := e.typeTarget(field.Type)
		if !ok {
			continue
		}
		edgeType := types.EdgeUses
		if len(field.Names) == 0 {
			edgeType = types.EdgeExtends
		}
		e.res.Edges = append(e.res.Edges, types.SymbolEdge{
			SourceID: sourceID,
			Target:   target,
			Type:     edgeType,
			FilePath: e.filePath,
			Line:     e.line(field.Pos()),
		})
	}
}

// extractInterfaceRefs emits EXTENDS edges for embedded interfaces.
func (e *goExtractor) extractInterfaceRefs(sourceID string, it *ast.InterfaceType) {
	for _, method := range it.Methods.List {
		if len(method.Names) != 0 {
			continue
		}
		if target, ok := e.typeTarget(method.Type); ok {
			e.res.Edges = append(e.res.Edges, types.SymbolEdge{
				SourceID: sourceID,
				Target:   target,
				Type:     types.EdgeExtends,
				FilePath: e.filePath,
				Line:     e.line(method.Pos()),
			})
		}
	}
}

// typeTarget maps a type expression to an edge target: a bare placeholder
// for package-local names, a scoped placeholder for pkg.Name references.
func (e *goExtractor) typeTarget(expr ast.Expr) (types.EdgeTarget, bool) {
	switch t := expr.(type) {
	case *ast.Ident:
		if goBuiltins[t.Name] {
			return types.EdgeTarget{}, false
		}
		return types.BareTarget(t.Name), true
	case *ast.StarExpr:
		return e.typeTarget(t.X)
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			if importPath, found := e.imports[x.Name]; found {
				return types.ScopedTarget(importPath, t.Sel.Name), true
			}
		}
	case *ast.ArrayType:
		return e.typeTarget(t.Elt)
	case *ast.MapType:
		return e.typeTarget(t.Value)
	}
	return types.EdgeTarget{}, false
}

// extractCalls walks a function body emitting CALLS edges. Bare identifier
// calls become unqualified placeholders; pkg.Fn calls through an imported
// binding become module-scoped placeholders. Method calls on values are
// skipped since their receiver type is unknown without full type checking.
func (e *goExtractor) extractCalls(sourceID string, body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}

		switch fn := call.Fun.(type) {
		case *ast.Ident:
			if goBuiltins[fn.Name] {
				return true
			}
			e.res.Edges = append(e.res.Edges, types.SymbolEdge{
				SourceID: sourceID,
				Target:   types.BareTarget(fn.Name),
				Type:     types.EdgeCalls,
				FilePath: e.filePath,
				Line:     e.line(call.Pos()),
			})
		case *ast.SelectorExpr:
			x, ok := fn.X.(*ast.Ident)
			if !ok {
				return true
			}
			importPath, found := e.imports[x.Name]
			if !found {
				return true
			}
			e.res.Edges = append(e.res.Edges, types.SymbolEdge{
				SourceID: sourceID,
				Target:   types.ScopedTarget(importPath, fn.Sel.Name),
				Type:     types.EdgeCalls,
				FilePath: e.filePath,
				Line:     e.line(call.Pos()),
			})
		}
		return true
	})
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr: // generic receiver
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	}
	return ""
}

// funcSignature renders a compact one-line signature for a declaration.
func funcSignature(d *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if d.Recv != nil && len(d.Recv.List) > 0 {
		b.WriteString("(")
		b.WriteString(receiverTypeName(d.Recv.List[0].Type))
		b.WriteString(") ")
	}
	b.WriteString(d.Name.Name)
	b.WriteString("(")
	if d.Type.Params != nil {
		b.WriteString(fieldCount(d.Type.Params))
	}
	b.WriteString(")")
	if d.Type.Results != nil && len(d.Type.Results.List) > 0 {
		b.WriteString(" (")
		b.WriteString(fieldCount(d.Type.Results))
		b.WriteString(")")
	}
	return b.String()
}

func fieldCount(fields *ast.FieldList) string {
	names := make([]string, 0, len(fields.List))
	for _, f := range fields.List {
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
		if len(f.Names) == 0 {
			names = append(names, "_")
		}
	}
	return strings.Join(names, ", ")
}
