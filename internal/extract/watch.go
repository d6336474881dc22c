package extract

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"devac/internal/logging"
	"devac/internal/schema"
)

// Watcher re-extracts source files as they change on disk, feeding
// incremental results to a callback. It watches every directory under the
// root (fsnotify does not recurse on its own) and picks up new directories
// as they appear.
type Watcher struct {
	Root        string
	Globs       []string
	ExcludeDirs []string

	// Extraction context for re-extracted files.
	Repo    string
	Package string
	Branch  string

	// Debounce coalesces editor write bursts for the same file.
	Debounce time.Duration

	// KnownHash reports the stored content hash for a relative file path.
	// A change event whose on-disk content still matches is a no-op save
	// and is not re-extracted.
	KnownHash func(relPath string) (string, bool)

	// OnResult receives each successful re-extraction.
	OnResult func(*FileResult)
	// OnFailure receives per-file parse failures. Watching continues.
	OnFailure func(*ExtractionFailure)
}

// Run blocks watching for changes until ctx is cancelled.
func (wt *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	excluded := make(map[string]bool, len(wt.ExcludeDirs))
	for _, d := range wt.ExcludeDirs {
		excluded[d] = true
	}

	if err := watchTree(fw, wt.Root, excluded); err != nil {
		return err
	}

	debounce := wt.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	pending := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	logging.Watch("watching %s", wt.Root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path := <-fire:
			wt.extractOne(ctx, path)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) && isDir(ev.Name) {
				if !excluded[filepath.Base(ev.Name)] {
					_ = watchTree(fw, ev.Name, excluded)
				}
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if !wt.matches(ev.Name) || !statFile(ev.Name) {
				continue
			}
			logging.WatchDebug("change: %s (%s)", ev.Name, ev.Op)
			path := ev.Name
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(debounce, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryWatch).Error("watch error: %v", werr)
		}
	}
}

func (wt *Watcher) extractOne(ctx context.Context, path string) {
	x := NewExtractor(wt.Repo, wt.Package, wt.Branch, wt.Root)
	content, err := os.ReadFile(path)
	if err != nil {
		if wt.OnFailure != nil {
			wt.OnFailure(&ExtractionFailure{FilePath: path, Err: err})
		}
		return
	}
	if wt.KnownHash != nil {
		if known, ok := wt.KnownHash(x.relativePath(path)); ok && known == schema.SourceHash(content) {
			logging.WatchDebug("unchanged: %s", path)
			return
		}
	}
	res, err := x.ExtractSource(ctx, path, content)
	if err != nil {
		var ef *ExtractionFailure
		if errors.As(err, &ef) && wt.OnFailure != nil {
			wt.OnFailure(ef)
		}
		return
	}
	if wt.OnResult != nil {
		wt.OnResult(res)
	}
}

func (wt *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	for _, glob := range wt.Globs {
		if ok, err := filepath.Match(glob, base); err == nil && ok {
			return true
		}
	}
	return false
}

// watchTree adds root and every non-excluded subdirectory to the watcher.
func watchTree(fw *fsnotify.Watcher, root string, excluded map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && excluded[d.Name()] {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
