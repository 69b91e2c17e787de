//go:build !purego && sqlite_vec
// +build !purego,sqlite_vec

package storage

// Compiled when building with CGO and the sqlite_vec tag. The CGO driver
// loads the sqlite-vec extension for native vector similarity search.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver to open.
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether sqlite-vec SQL is usable.
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
