package extract

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"devac/internal/logging"
	"devac/internal/schema"
)

// BatchResult aggregates a multi-file extraction run. Failures are per file
// and never abort the batch; a run with some failed files is a partial
// success, not an error. Skipped counts files whose content hash matched
// the known one and were not re-extracted.
type BatchResult struct {
	Results  []*FileResult
	Failures []*ExtractionFailure
	Skipped  int
	Duration time.Duration
}

// Batch runs extraction over many files in parallel. Each worker gets its
// own Extractor, so no syntax tree or parser is ever shared between
// goroutines. KnownHashes maps relative file paths to previously stored
// content hashes; a file whose current hash matches is skipped, so
// re-running over unchanged sources produces no new rows.
type Batch struct {
	Repo        string
	Package     string
	Branch      string
	BaseDir     string
	Parallelism int
	KnownHashes map[string]string
}

// Run extracts every file in files. Parse failures are collected per file;
// ctx cancellation aborts the remaining files and returns the context error.
func (b *Batch) Run(ctx context.Context, files []string) (*BatchResult, error) {
	start := time.Now()
	limit := b.Parallelism
	if limit <= 0 {
		limit = 1
	}
	logging.Extract("batch: %d files, %d workers", len(files), limit)

	results := make([]*FileResult, len(files))

	var mu sync.Mutex
	var failures []*ExtractionFailure
	var skipped int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			x := NewExtractor(b.Repo, b.Package, b.Branch, b.BaseDir)
			content, err := os.ReadFile(path)
			if err != nil {
				logging.Get(logging.CategoryExtract).Warn("skipping %s: %v", path, err)
				mu.Lock()
				failures = append(failures, &ExtractionFailure{FilePath: path, Err: err})
				mu.Unlock()
				return nil
			}
			if known, ok := b.KnownHashes[x.relativePath(path)]; ok && known == schema.SourceHash(content) {
				logging.ExtractDebug("unchanged: %s", path)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			res, err := x.ExtractSource(gctx, path, content)
			if err != nil {
				var ef *ExtractionFailure
				if errors.As(err, &ef) {
					logging.Get(logging.CategoryExtract).Warn("skipping %s: %v", path, ef.Err)
					mu.Lock()
					failures = append(failures, ef)
					mu.Unlock()
					return nil
				}
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &BatchResult{Skipped: skipped, Duration: time.Since(start)}
	for _, r := range results {
		if r != nil {
			out.Results = append(out.Results, r)
		}
	}
	out.Failures = failures

	logging.Extract("batch done: %d ok, %d skipped, %d failed in %v",
		len(out.Results), out.Skipped, len(out.Failures), out.Duration)
	return out, nil
}

// DiscoverFiles walks root and returns files matching any of the include
// globs (matched against the base name), skipping excluded directory names.
func DiscoverFiles(root string, includeGlobs, excludeDirs []string) ([]string, error) {
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		for _, glob := range includeGlobs {
			ok, matchErr := filepath.Match(glob, d.Name())
			if matchErr != nil {
				return matchErr
			}
			if ok {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// statFile reports whether path exists and is a regular file.
func statFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
