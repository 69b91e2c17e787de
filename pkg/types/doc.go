// Package types provides shared type definitions for the ctxgraph core.
//
// This package defines the domain model used across the indexing pipeline,
// the persistence layers, and the retrieval engine: file metadata, chunks,
// embeddings, symbols and their typed edges, checkpoints, and the transient
// projections produced at query time.
//
// # Identity rules
//
// Chunk ids are stable across rebuilds iff content and position are
// unchanged; they are derived from the owning file path, the sequence index
// within the file, and a prefix of the content hash:
//
//	id := types.ChunkID("internal/auth/login.go", 3, contentHash)
//
// Symbol ids encode the defining file and the symbol name:
//
//	id := types.SymbolID("internal/auth/login.go", "ValidateToken")
//	// "internal/auth/login.go#ValidateToken"
//
// # Placeholder edge targets
//
// Edges extracted from a single file may reference symbols defined
// elsewhere. Such targets are recorded as placeholders and bound to concrete
// symbol ids by a later resolution pass:
//
//	types.BareTarget("ValidateToken")          // "?#ValidateToken"
//	types.ScopedTarget("./auth", "Validate")   // "?{./auth}#Validate"
//
// EdgeTarget is a tagged value; use IsResolved, Name, and Module to inspect
// it without string surgery at call sites.
package types
