// Package scanner discovers indexable files under a project root.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// FileScanner is the collaborator contract the index manager consumes.
type FileScanner interface {
	CountFiles(ctx context.Context, root string) (int, error)
	ScanFiles(ctx context.Context, root string) ([]types.FileMetadata, error)
}

// StreamingScanner is optionally implemented by scanners that can yield
// files in fixed-size batches without materializing the full list.
type StreamingScanner interface {
	FileScanner
	ScanFilesStreaming(ctx context.Context, root string, batchSize int) (<-chan []types.FileMetadata, <-chan error)
}

// Options configures a Scanner.
type Options struct {
	// Include restricts scanning to paths matching any of these doublestar
	// globs (relative to root). Empty means everything.
	Include []string
	// Exclude drops paths matching any of these globs.
	Exclude []string
	// IncludeTests keeps *_test.go / *.test.ts / test_*.py files.
	IncludeTests bool
	// FollowGitignore applies the project's .gitignore rules.
	FollowGitignore bool
	// MaxFileSize skips files larger than this many bytes (0 = no limit).
	MaxFileSize int64

	Logger *slog.Logger
}

// Scanner walks a source tree and produces FileMetadata for every
// indexable file, honoring globs, .gitignore, and size limits.
type Scanner struct {
	opts Options
	log  *slog.Logger
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{opts: opts, log: log}
}

// CountFiles returns the number of files a full scan would yield.
func (s *Scanner) CountFiles(ctx context.Context, root string) (int, error) {
	count := 0
	err := s.walk(ctx, root, func(types.FileMetadata) error {
		count++
		return nil
	})
	return count, err
}

// ScanFiles materializes the full file list, ordered by path.
func (s *Scanner) ScanFiles(ctx context.Context, root string) ([]types.FileMetadata, error) {
	var files []types.FileMetadata
	err := s.walk(ctx, root, func(fm types.FileMetadata) error {
		files = append(files, fm)
		return nil
	})
	return files, err
}

// ScanFilesStreaming yields files in batches of batchSize. The error channel
// receives at most one value after the batch channel closes.
func (s *Scanner) ScanFilesStreaming(ctx context.Context, root string, batchSize int) (<-chan []types.FileMetadata, <-chan error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	batches := make(chan []types.FileMetadata)
	errc := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errc)

		batch := make([]types.FileMetadata, 0, batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			out := batch
			batch = make([]types.FileMetadata, 0, batchSize)
			select {
			case batches <- out:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.walk(ctx, root, func(fm types.FileMetadata) error {
			batch = append(batch, fm)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		})
		if err == nil {
			err = flush()
		}
		if err != nil {
			errc <- err
		}
	}()

	return batches, errc
}

func (s *Scanner) walk(ctx context.Context, root string, emit func(types.FileMetadata) error) error {
	var ignore gitignore.GitIgnore
	if s.opts.FollowGitignore {
		ignore = loadGitignore(filepath.Join(root, ".gitignore"), root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if skipDirName(d.Name()) {
				return filepath.SkipDir
			}
			if ignore != nil {
				if m := ignore.Relative(rel, true); m != nil && m.Ignore() {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !IsIndexable(rel) {
			return nil
		}
		if !s.opts.IncludeTests && isTestFile(rel) {
			return nil
		}
		if ignore != nil {
			if m := ignore.Relative(rel, false); m != nil && m.Ignore() {
				return nil
			}
		}
		if !s.matchesGlobs(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
			s.log.Warn("skipping oversized file", "path", rel, "size", info.Size(), "limit", s.opts.MaxFileSize)
			return nil
		}

		hash, binary, err := hashFile(path)
		if err != nil {
			return err
		}
		if binary {
			s.log.Warn("skipping binary file", "path", rel)
			return nil
		}

		return emit(types.FileMetadata{
			Path:        rel,
			ContentHash: hash,
			SizeBytes:   info.Size(),
			ModTime:     info.ModTime(),
			Language:    DetectLanguage(rel),
		})
	})
}

func (s *Scanner) matchesGlobs(rel string) bool {
	for _, pattern := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(s.opts.Include) == 0 {
		return true
	}
	for _, pattern := range s.opts.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func skipDirName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "dist", "build", "__pycache__":
		return true
	}
	return false
}

func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".test.js") ||
		strings.HasSuffix(base, ".spec.ts") ||
		strings.HasSuffix(base, ".spec.js") ||
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")
}

// hashFile computes the hex SHA-256 of a file and sniffs for binary content.
func hashFile(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", false, err
	}
	head = head[:n]
	if IsBinaryContent(head) {
		return "", true, nil
	}

	h := sha256.New()
	h.Write(head)
	if _, err := io.Copy(h, f); err != nil {
		return "", false, err
	}
	return hex.EncodeToString(h.Sum(nil)), false, nil
}

// loadGitignore returns nil when no .gitignore exists or it cannot be read.
func loadGitignore(path, base string) gitignore.GitIgnore {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	return gitignore.New(f, base, nil)
}
