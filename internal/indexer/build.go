package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ctxgraph/ctxgraph/internal/storage"
	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// Build runs the full pipeline. When a checkpoint from a crashed run
// exists, completed phases are skipped and the interrupted phase resumes
// where it left off; counts for skipped phases are reconstructed from the
// stores so progress stays truthful.
func (m *Manager) Build(ctx context.Context) error {
	runID, err := m.beginRun()
	if err != nil {
		return err
	}
	slog.Info("build started", "run_id", runID, "root", m.cfg.Root)

	cp, cpErr := m.meta.GetCheckpoint(ctx, checkpointKey)
	if cpErr != nil && !errors.Is(cpErr, storage.ErrNotFound) {
		return m.finishRun(ctx, fmt.Errorf("read checkpoint: %w", cpErr))
	}
	resuming := cpErr == nil
	if resuming {
		slog.Info("resuming from checkpoint", "phase", cp.Phase, "last_path", cp.LastProcessedPath)
	}

	err = m.runPhases(ctx, cp, resuming)
	return m.finishRun(ctx, err)
}

func (m *Manager) runPhases(ctx context.Context, cp types.BuildCheckpoint, resuming bool) error {
	skipPhase := func(phase types.BuildPhase) bool {
		return resuming && types.PhaseAfter(cp.Phase, phase)
	}

	// Phase 1: scan. Re-scanned even on resume unless scanning itself is
	// behind us, because the file list feeds every later phase.
	var files []types.FileMetadata
	if skipPhase(types.PhaseScan) && types.PhaseAfter(cp.Phase, types.PhaseChunk) {
		known, err := m.meta.ListFiles(ctx)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		for _, fm := range known {
			files = append(files, fm)
		}
	} else {
		var err error
		files, err = m.scanPhase(ctx)
		if err != nil {
			return err
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	m.report(ctx, func(p *types.Progress) {
		p.FilesTotal = len(files)
	})

	// Phase 2: chunk. Parses each file once; chunks, symbols, edges, and
	// imports land together per batch so a later resume never sees chunks
	// without their graph rows. Re-running after a mid-phase crash is
	// idempotent: every store write is an upsert.
	if skipPhase(types.PhaseChunk) {
		filesDone, chunksIndexed, err := m.meta.Counts(ctx)
		if err != nil {
			return fmt.Errorf("reconstruct counts: %w", err)
		}
		m.report(ctx, func(p *types.Progress) {
			p.FilesDone = filesDone
			p.ChunksIndexed = chunksIndexed
		})
	} else {
		if err := m.chunkPhase(ctx, files); err != nil {
			return err
		}
	}

	// Phase 3: embed. Files are walked in path order; the checkpoint's
	// LastProcessedPath marks the resumption point, so already embedded
	// files are skipped without provider calls.
	resumeAfter := ""
	if resuming && cp.Phase == types.PhaseEmbed {
		resumeAfter = cp.LastProcessedPath
	}
	if !skipPhase(types.PhaseEmbed) {
		if err := m.embedPhase(ctx, files, resumeAfter); err != nil {
			return err
		}
	}

	// Phase 4: store. Finalizes metadata: reconciles counts from the
	// stores after the heavy phases.
	if !skipPhase(types.PhaseStore) {
		if err := m.storePhase(ctx); err != nil {
			return err
		}
	}

	// Phase 5: resolve. Rewrites placeholder edges now that every file's
	// symbols are present.
	return m.resolvePhase(ctx)
}

func (m *Manager) scanPhase(ctx context.Context) ([]types.FileMetadata, error) {
	m.setPhase(ctx, types.PhaseScan, "scanning project")
	if err := m.ctl.wait(ctx); err != nil {
		return nil, err
	}
	files, err := m.scanner.ScanFiles(ctx, m.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	m.report(ctx, func(p *types.Progress) {
		p.PhaseProgress = 100
	})
	return files, nil
}

func (m *Manager) chunkPhase(ctx context.Context, files []types.FileMetadata) error {
	m.setPhase(ctx, types.PhaseChunk, "chunking and extracting symbols")

	done := 0
	for start := 0; start < len(files); start += m.cfg.BatchSize {
		if err := m.ctl.wait(ctx); err != nil {
			return err
		}

		end := min(start+m.cfg.BatchSize, len(files))
		batch := files[start:end]

		results := make([]*fileResult, 0, len(batch))
		var failed []string
		for _, fm := range batch {
			res, err := m.processFile(fm)
			if err != nil {
				// Unreadable files are recorded, not fatal.
				slog.Warn("skipping file", "path", fm.Path, "error", err)
				failed = append(failed, fm.Path)
				continue
			}
			results = append(results, res)
		}

		chunkCount, err := m.storeBatch(ctx, results)
		if err != nil {
			return err
		}

		if err := m.meta.SaveCheckpoint(ctx, checkpointKey, types.BuildCheckpoint{
			Phase: types.PhaseChunk,
		}); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}

		done = end
		m.report(ctx, func(p *types.Progress) {
			p.FilesDone = done
			p.ChunksIndexed += chunkCount
			p.FailedFiles = append(p.FailedFiles, failed...)
			p.PhaseProgress = percent(done, len(files))
			p.OverallProgress = overall(types.PhaseChunk, p.PhaseProgress)
		})
	}
	return nil
}

func (m *Manager) embedPhase(ctx context.Context, files []types.FileMetadata, resumeAfter string) error {
	m.setPhase(ctx, types.PhaseEmbed, "embedding chunks")

	done := 0
	for start := 0; start < len(files); start += m.cfg.BatchSize {
		if err := m.ctl.wait(ctx); err != nil {
			return err
		}

		end := min(start+m.cfg.BatchSize, len(files))
		batch := files[start:end]

		var chunks []types.Chunk
		lastPath := ""
		for _, fm := range batch {
			lastPath = fm.Path
			if resumeAfter != "" && fm.Path <= resumeAfter {
				continue
			}
			fileChunks, err := m.meta.GetChunksByFile(ctx, fm.Path)
			if err != nil {
				return fmt.Errorf("load chunks for %s: %w", fm.Path, err)
			}
			chunks = append(chunks, fileChunks...)
		}

		if len(chunks) > 0 {
			rows, err := m.embed.EmbedChunks(ctx, chunks)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if err := m.vectors.InsertBatch(ctx, rows); err != nil {
				return fmt.Errorf("store vectors: %w", err)
			}
		}

		if err := m.meta.SaveCheckpoint(ctx, checkpointKey, types.BuildCheckpoint{
			Phase:             types.PhaseEmbed,
			LastProcessedPath: lastPath,
		}); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}

		done = end
		m.report(ctx, func(p *types.Progress) {
			p.PhaseProgress = percent(done, len(files))
			p.OverallProgress = overall(types.PhaseEmbed, p.PhaseProgress)
		})
	}
	return nil
}

func (m *Manager) storePhase(ctx context.Context) error {
	m.setPhase(ctx, types.PhaseStore, "finalizing index")
	if err := m.ctl.wait(ctx); err != nil {
		return err
	}

	filesDone, chunksIndexed, err := m.meta.Counts(ctx)
	if err != nil {
		return fmt.Errorf("final counts: %w", err)
	}
	if err := m.meta.SaveCheckpoint(ctx, checkpointKey, types.BuildCheckpoint{
		Phase: types.PhaseStore,
	}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	m.report(ctx, func(p *types.Progress) {
		p.FilesDone = filesDone
		p.ChunksIndexed = chunksIndexed
		p.PhaseProgress = 100
		p.OverallProgress = overall(types.PhaseStore, 100)
	})
	return nil
}

func (m *Manager) resolvePhase(ctx context.Context) error {
	m.setPhase(ctx, types.PhaseResolve, "resolving cross-file references")
	if err := m.ctl.wait(ctx); err != nil {
		return err
	}

	resolved, err := m.graph.ResolveEdgesByName(ctx)
	if err != nil {
		return fmt.Errorf("resolve edges: %w", err)
	}
	slog.Info("edge resolution done", "resolved", resolved)

	m.report(ctx, func(p *types.Progress) {
		p.PhaseProgress = 100
		p.OverallProgress = overall(types.PhaseResolve, 100)
		p.Message = fmt.Sprintf("resolved %d references", resolved)
	})
	return nil
}

func (m *Manager) setPhase(ctx context.Context, phase types.BuildPhase, msg string) {
	m.report(ctx, func(p *types.Progress) {
		p.Phase = phase
		p.PhaseProgress = 0
		p.OverallProgress = overall(phase, 0)
		p.Message = msg
	})
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// overall spreads the five phases evenly across the 0-100 range.
func overall(phase types.BuildPhase, phaseProgress float64) float64 {
	idx := types.PhaseIndex(phase)
	if idx < 0 {
		return 0
	}
	span := 100.0 / float64(len(types.BuildPhases))
	return float64(idx)*span + phaseProgress/100*span
}
