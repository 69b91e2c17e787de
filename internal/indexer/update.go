package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/ctxgraph/ctxgraph/internal/scanner"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Update performs an incremental re-index: it diffs the current file tree
// against the stored metadata by content hash, removes rows for deleted and
// modified files, re-indexes added and modified files, and re-runs edge
// resolution so references into changed files heal.
func (m *Manager) Update(ctx context.Context) (types.ChangeSet, error) {
	runID, err := m.beginRun()
	if err != nil {
		return types.ChangeSet{}, err
	}
	slog.Info("incremental update started", "run_id", runID, "root", m.cfg.Root)

	cs, byPath, err := m.detectChanges(ctx)
	if err != nil {
		return cs, m.finishRun(ctx, err)
	}
	if cs.Empty() {
		slog.Info("no changes detected")
		return cs, m.finishRun(ctx, nil)
	}
	slog.Info("changes detected",
		"added", len(cs.Added), "modified", len(cs.Modified), "deleted", len(cs.Deleted))

	return cs, m.finishRun(ctx, m.applyChanges(ctx, cs, byPath))
}

// IncrementalUpdate applies an externally computed change set, for callers
// that watch the tree themselves and already know what moved. Paths are
// project-relative. Deletions (including the old half of every modification)
// flush first, then added and modified files run the normal per-file
// pipeline, and edge resolution re-runs.
func (m *Manager) IncrementalUpdate(ctx context.Context, cs types.ChangeSet) error {
	runID, err := m.beginRun()
	if err != nil {
		return err
	}
	slog.Info("incremental update started", "run_id", runID, "root", m.cfg.Root,
		"added", len(cs.Added), "modified", len(cs.Modified), "deleted", len(cs.Deleted))

	if cs.Empty() {
		return m.finishRun(ctx, nil)
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	byPath := make(map[string]types.FileMetadata, len(cs.Added)+len(cs.Modified))
	for _, path := range append(append([]string{}, cs.Added...), cs.Modified...) {
		fm, err := m.statFile(path)
		if err != nil {
			// The file may have changed again since the change set was
			// computed. Skip it; the next update picks it up.
			slog.Warn("skipping changed file", "path", path, "error", err)
			m.report(ctx, func(p *types.Progress) {
				p.FailedFiles = append(p.FailedFiles, path)
			})
			continue
		}
		byPath[path] = fm
	}

	return m.finishRun(ctx, m.applyChanges(ctx, cs, byPath))
}

// statFile builds the metadata row for one project-relative path.
func (m *Manager) statFile(relPath string) (types.FileMetadata, error) {
	full := filepath.Join(m.cfg.Root, relPath)
	info, err := os.Stat(full)
	if err != nil {
		return types.FileMetadata{}, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return types.FileMetadata{}, err
	}
	return types.FileMetadata{
		Path:        relPath,
		Language:    scanner.DetectLanguage(relPath),
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: types.HashContent(string(content)),
	}, nil
}

// detectChanges scans the tree once and diffs it against stored metadata.
// A file whose content hash is unchanged is untouched regardless of mtime.
func (m *Manager) detectChanges(ctx context.Context) (types.ChangeSet, map[string]types.FileMetadata, error) {
	m.setPhase(ctx, types.PhaseScan, "detecting changes")

	var cs types.ChangeSet
	current, err := m.scanner.ScanFiles(ctx, m.cfg.Root)
	if err != nil {
		return cs, nil, fmt.Errorf("scan: %w", err)
	}
	known, err := m.meta.ListFiles(ctx)
	if err != nil {
		return cs, nil, fmt.Errorf("list files: %w", err)
	}

	byPath := make(map[string]types.FileMetadata, len(current))
	for _, fm := range current {
		byPath[fm.Path] = fm
		prev, ok := known[fm.Path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, fm.Path)
		case prev.ContentHash != fm.ContentHash:
			cs.Modified = append(cs.Modified, fm.Path)
		}
	}
	for path := range known {
		if _, ok := byPath[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs, byPath, nil
}

// applyChanges executes the update plan. Deletions run first so modified
// files never hold stale chunks, vectors, or graph rows while their new
// versions are written.
func (m *Manager) applyChanges(ctx context.Context, cs types.ChangeSet, byPath map[string]types.FileMetadata) error {
	stale := append(append([]string{}, cs.Deleted...), cs.Modified...)
	if len(stale) > 0 {
		if err := m.meta.DeleteByFilePaths(ctx, stale); err != nil {
			return fmt.Errorf("delete metadata: %w", err)
		}
		if err := m.graph.DeleteByFilePaths(ctx, stale); err != nil {
			return fmt.Errorf("delete graph rows: %w", err)
		}
		for _, path := range stale {
			if err := m.vectors.DeleteByFilePath(ctx, path); err != nil {
				return fmt.Errorf("delete vectors for %s: %w", path, err)
			}
		}
	}

	reindex := append(append([]string{}, cs.Added...), cs.Modified...)
	sort.Strings(reindex)
	var files []types.FileMetadata
	for _, path := range reindex {
		if fm, ok := byPath[path]; ok {
			files = append(files, fm)
		}
	}
	if len(files) > 0 {
		m.report(ctx, func(p *types.Progress) {
			p.FilesTotal = len(files)
			p.FilesDone = 0
		})
		if err := m.chunkPhase(ctx, files); err != nil {
			return err
		}
		if err := m.embedPhase(ctx, files, ""); err != nil {
			return err
		}
	}

	// Placeholder edges pointing into changed files become resolvable
	// again; edges whose targets vanished get dropped here.
	return m.resolvePhase(ctx)
}
