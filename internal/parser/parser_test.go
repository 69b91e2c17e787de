package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

func symbolByName(t *testing.T, res *Result, name string) types.Symbol {
	t.Helper()
	for _, sym := range res.Symbols {
		if sym.Name == name {
			return sym
		}
	}
	t.Fatalf("symbol %q not found", name)
	return types.Symbol{}
}

func edgesOfType(res *Result, typ types.EdgeType) []types.SymbolEdge {
	var out []types.SymbolEdge
	for _, e := range res.Edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

const goSample = `package auth

import (
	"fmt"

	"example.com/pkg/tokens"
)

// Validator checks credentials.
type Validator struct {
	Base
	store Store
}

func (v *Validator) Validate(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	return tokens.Check(token)
}

func helper() {}

func Login(token string) error {
	helper()
	return nil
}
`

func TestParseGoSymbols(t *testing.T) {
	p := New()
	res, err := p.Parse("internal/auth/auth.go", []byte(goSample), types.LangGo)
	require.NoError(t, err)
	assert.Equal(t, "auth", res.ModuleName)

	validator := symbolByName(t, res, "Validator")
	assert.Equal(t, types.SymClass, validator.Kind)
	assert.True(t, validator.Exported)
	assert.Equal(t, "internal/auth/auth.go#Validator", validator.ID)

	validate := symbolByName(t, res, "Validate")
	assert.Equal(t, types.SymMethod, validate.Kind)
	assert.Equal(t, "Validator.Validate", validate.QualifiedName)

	helper := symbolByName(t, res, "helper")
	assert.False(t, helper.Exported)

	module := symbolByName(t, res, "auth")
	assert.Equal(t, types.SymModule, module.Kind)
}

func TestParseGoEdges(t *testing.T) {
	p := New()
	res, err := p.Parse("internal/auth/auth.go", []byte(goSample), types.LangGo)
	require.NoError(t, err)

	// Same-file call resolved eagerly: Login -> helper.
	calls := edgesOfType(res, types.EdgeCalls)
	var loginToHelper, scopedCheck bool
	for _, e := range calls {
		if e.SourceID == "internal/auth/auth.go#Login" &&
			e.Target.String() == "internal/auth/auth.go#helper" {
			loginToHelper = true
		}
		if e.Target.String() == "?{example.com/pkg/tokens}#Check" {
			scopedCheck = true
		}
	}
	assert.True(t, loginToHelper, "expected resolved same-file call edge")
	assert.True(t, scopedCheck, "expected module-scoped placeholder for tokens.Check")

	// Embedded field yields EXTENDS with a bare placeholder (Base is not
	// defined in this file).
	extends := edgesOfType(res, types.EdgeExtends)
	require.Len(t, extends, 1)
	assert.Equal(t, "?#Base", extends[0].Target.String())
	assert.False(t, extends[0].Target.IsResolved())

	// Receiver type declared in the same file yields CONTAINS.
	contains := edgesOfType(res, types.EdgeContains)
	require.Len(t, contains, 1)
	assert.Equal(t, "internal/auth/auth.go#Validator", contains[0].SourceID)

	// Module symbol DEFINES every declared symbol.
	defines := edgesOfType(res, types.EdgeDefines)
	assert.GreaterOrEqual(t, len(defines), 4)
}

func TestParseGoImports(t *testing.T) {
	p := New()
	res, err := p.Parse("internal/auth/auth.go", []byte(goSample), types.LangGo)
	require.NoError(t, err)

	require.Len(t, res.Imports, 2)
	byModule := map[string]types.ImportMapping{}
	for _, imp := range res.Imports {
		byModule[imp.SourceModule] = imp
	}
	assert.Equal(t, "tokens", byModule["example.com/pkg/tokens"].LocalName)
	assert.Empty(t, byModule["fmt"].ResolvedPath)
}

func TestParseGoSyntaxErrorNonFatal(t *testing.T) {
	p := New()
	res, err := p.Parse("bad.go", []byte("package bad\nfunc Broken( {"), types.LangGo)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Errors)
	// Module symbol still present.
	symbolByName(t, res, "bad")
}

const tsSample = `import { validate, format as fmt } from './util';
import * as log from './log';

export class Session extends BaseSession {
  start(id: string): void {
    validate(id);
    log.info(id);
  }
}

export function openSession(id) {
  return new Session(id);
}

const close = (s) => {
  s.end();
};
`

func TestParseTypeScript(t *testing.T) {
	p := New()
	res, err := p.Parse("src/session.ts", []byte(tsSample), types.LangTypeScript)
	require.NoError(t, err)

	session := symbolByName(t, res, "Session")
	assert.Equal(t, types.SymClass, session.Kind)
	assert.True(t, session.Exported)

	start := symbolByName(t, res, "start")
	assert.Equal(t, types.SymMethod, start.Kind)
	assert.Equal(t, "Session.start", start.QualifiedName)

	open := symbolByName(t, res, "openSession")
	assert.Equal(t, types.SymFunction, open.Kind)
	assert.True(t, open.Exported)

	closeFn := symbolByName(t, res, "close")
	assert.False(t, closeFn.Exported)

	// Named import binding recorded with original name.
	var fmtImport types.ImportMapping
	for _, imp := range res.Imports {
		if imp.LocalName == "fmt" {
			fmtImport = imp
		}
	}
	assert.Equal(t, "format", fmtImport.ImportedName)
	assert.Equal(t, "./util", fmtImport.SourceModule)

	// extends through a bare name.
	extends := edgesOfType(res, types.EdgeExtends)
	require.Len(t, extends, 1)
	assert.Equal(t, "?#BaseSession", extends[0].Target.String())

	// Namespace call becomes a scoped placeholder.
	var scoped bool
	for _, e := range edgesOfType(res, types.EdgeCalls) {
		if e.Target.String() == "?{./log}#info" {
			scoped = true
		}
	}
	assert.True(t, scoped)
}

const pySample = `import os
from handlers import dispatch, reply as send

class Worker(BaseWorker):
    def run(self):
        dispatch(self.queue)
        send(self.result)

def main():
    w = Worker()
    w.run()

def _internal():
    pass
`

func TestParsePython(t *testing.T) {
	p := New()
	res, err := p.Parse("svc/worker.py", []byte(pySample), types.LangPython)
	require.NoError(t, err)

	worker := symbolByName(t, res, "Worker")
	assert.Equal(t, types.SymClass, worker.Kind)

	run := symbolByName(t, res, "run")
	assert.Equal(t, "Worker.run", run.QualifiedName)

	internal := symbolByName(t, res, "_internal")
	assert.False(t, internal.Exported)

	// Same-file call resolved: main -> Worker (constructor call).
	var mainToWorker bool
	for _, e := range edgesOfType(res, types.EdgeCalls) {
		if e.SourceID == "svc/worker.py#main" && e.Target.String() == "svc/worker.py#Worker" {
			mainToWorker = true
		}
	}
	assert.True(t, mainToWorker)

	extends := edgesOfType(res, types.EdgeExtends)
	require.Len(t, extends, 1)
	assert.Equal(t, "?#BaseWorker", extends[0].Target.String())
}

func TestParseUnknownLanguage(t *testing.T) {
	p := New()
	res, err := p.Parse("README.md", []byte("# Title\n\nBody.\n"), types.LangText)
	require.NoError(t, err)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, types.SymModule, res.Symbols[0].Kind)
}
