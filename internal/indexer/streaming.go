package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// BuildStreaming runs the pipeline with per-batch streaming: each batch of
// files flows through read, parse, chunk, embed, and store before the next
// batch is touched, so memory stays bounded on large trees. Scanners that
// implement StreamingScanner feed batches as discovery proceeds; others are
// scanned up front and sliced.
func (m *Manager) BuildStreaming(ctx context.Context) error {
	runID, err := m.beginRun()
	if err != nil {
		return err
	}
	slog.Info("streaming build started", "run_id", runID, "root", m.cfg.Root)
	return m.finishRun(ctx, m.runStreaming(ctx))
}

func (m *Manager) runStreaming(ctx context.Context) error {
	// The scan producer parks on the batch channel until a batch is taken
	// or its context ends. Every early return must cancel it, or an aborted
	// build leaks the goroutine for the lifetime of the caller's context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.setPhase(ctx, types.PhaseScan, "scanning project")
	total, err := m.scanner.CountFiles(ctx, m.cfg.Root)
	if err != nil {
		return fmt.Errorf("count files: %w", err)
	}
	m.report(ctx, func(p *types.Progress) {
		p.FilesTotal = total
		p.PhaseProgress = 100
	})

	m.setPhase(ctx, types.PhaseChunk, "indexing files")
	if ss, ok := m.scanner.(StreamingScanner); ok {
		batches, errs := ss.ScanFilesStreaming(ctx, m.cfg.Root, m.cfg.BatchSize)
		for batch := range batches {
			if err := m.streamBatch(ctx, batch, total); err != nil {
				return err
			}
		}
		if err := <-errs; err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	} else {
		files, err := m.scanner.ScanFiles(ctx, m.cfg.Root)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for start := 0; start < len(files); start += m.cfg.BatchSize {
			end := min(start+m.cfg.BatchSize, len(files))
			if err := m.streamBatch(ctx, files[start:end], total); err != nil {
				return err
			}
		}
	}

	if err := m.storePhase(ctx); err != nil {
		return err
	}
	return m.resolvePhase(ctx)
}

// streamBatch pushes one batch of files through the whole pipeline. The
// checkpoint after each batch carries the embed phase and last path, so a
// crashed streaming build resumes through Build without re-embedding
// completed files.
func (m *Manager) streamBatch(ctx context.Context, batch []types.FileMetadata, total int) error {
	if err := m.ctl.wait(ctx); err != nil {
		return err
	}

	results := make([]*fileResult, 0, len(batch))
	var failed []string
	var chunks []types.Chunk
	lastPath := ""
	for _, fm := range batch {
		if fm.Path > lastPath {
			lastPath = fm.Path
		}
		res, err := m.processFile(fm)
		if err != nil {
			slog.Warn("skipping file", "path", fm.Path, "error", err)
			failed = append(failed, fm.Path)
			continue
		}
		results = append(results, res)
		chunks = append(chunks, res.chunks...)
	}

	chunkCount, err := m.storeBatch(ctx, results)
	if err != nil {
		return err
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

	m.report(ctx, func(p *types.Progress) {
		p.FilesDone += len(batch)
		p.ChunksIndexed += chunkCount
		p.FailedFiles = append(p.FailedFiles, failed...)
		p.PhaseProgress = percent(p.FilesDone, total)
		p.OverallProgress = overall(types.PhaseEmbed, p.PhaseProgress)
	})
	return nil
}
