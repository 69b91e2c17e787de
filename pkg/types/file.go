package types

import "time"

// Language identifies the detected source language of a file.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangText       Language = "text"
)

// FileMetadata describes one tracked file in the index. The path is the
// unique key within a project; records are replaced on modification and
// deleted on removal.
type FileMetadata struct {
	Path        string
	ContentHash string // hex SHA-256 of file content
	SizeBytes   int64
	ModTime     time.Time
	Language    Language
}

// ChangeSet is the already-computed file change set handed to an
// incremental update. Paths in Modified appear in neither Added nor Deleted;
// the pipeline treats a modification as delete-then-add internally.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the change set carries no work.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}
