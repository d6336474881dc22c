package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"devac/internal/extract"
	"devac/internal/store"
)

var watchDebounce time.Duration

// watchCmd re-extracts files as they change and keeps the partition current.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch source files and re-extract on change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workspace
		if len(args) == 1 {
			var err error
			root, err = filepath.Abs(args[0])
			if err != nil {
				return err
			}
		}

		st := store.New(cfg.Store.Root, cfg.Repo,
			store.WithLockTimeout(cfg.GetLockTimeout()),
			store.WithLockRetry(cfg.GetLockRetryInterval()))
		ctx := signalContext()

		w := &extract.Watcher{
			Root:        root,
			Globs:       cfg.Extraction.IncludeGlobs,
			ExcludeDirs: cfg.Extraction.ExcludeDirs,
			Repo:        cfg.Repo,
			Package:     cfg.Package,
			Branch:      cfg.Branch,
			Debounce:    watchDebounce,
			KnownHash: func(rel string) (string, bool) {
				return st.SourceHash(cfg.Package, cfg.Branch, rel)
			},
			OnResult: func(res *extract.FileResult) {
				if err := writeFileResult(ctx, st, res); err != nil {
					fmt.Printf("write failed for %s: %v\n", res.FilePath, err)
					return
				}
				fmt.Printf("%s  %s: %d effects\n",
					time.Now().Format("15:04:05"), res.FilePath, len(res.Effects))
			},
			OnFailure: func(f *extract.ExtractionFailure) {
				fmt.Printf("%s  %s: %v\n", time.Now().Format("15:04:05"), f.FilePath, f.Err)
			},
		}

		fmt.Printf("Watching %s (branch %s), Ctrl-C to stop\n", root, cfg.Branch)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// writeFileResult persists a single re-extracted file as its own batch.
func writeFileResult(ctx context.Context, st *store.Store, res *extract.FileResult) error {
	wb := &store.WriteBatch{
		Files:        []string{res.FilePath},
		SourceHashes: map[string]string{res.FilePath: res.SourceHash},
		Entities:     res.Entities,
		Edges:        res.Edges,
		ExternalRefs: res.ExternalRefs,
	}
	for _, e := range res.Effects {
		wb.Effects = append(wb.Effects, store.FromCode(e))
	}
	return st.Write(ctx, cfg.Package, cfg.Branch, wb)
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "quiet period before re-extracting a changed file")
}
