// Package pipeline wires the handler chain end to end: parallel extraction,
// one atomic store write, rule classification, and entity enrichment. Each
// stage commits (or emits) only after the previous one finished, so
// cancellation between stages never leaves partial partition state.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"devac/internal/classify"
	"devac/internal/config"
	"devac/internal/enrich"
	"devac/internal/extract"
	"devac/internal/logging"
	"devac/internal/schema"
	"devac/internal/store"
)

// Result is everything one pipeline run produced, for reporting.
type Result struct {
	FilesExtracted int
	FilesSkipped   int
	Failures       []*extract.ExtractionFailure
	EffectCount    int
	Domain         []schema.EnrichedDomainEffect
	Stats          classify.Stats
	Unresolved     int
	Duration       time.Duration
}

// Pipeline runs extract, store, classify and enrich over one package
// partition. Predicates extend the rule language with custom checks.
type Pipeline struct {
	Config     *config.Config
	Store      *store.Store
	Predicates map[string]classify.Predicate
}

func New(cfg *config.Config) *Pipeline {
	st := store.New(cfg.Store.Root, cfg.Repo,
		store.WithLockTimeout(cfg.GetLockTimeout()),
		store.WithLockRetry(cfg.GetLockRetryInterval()))
	return &Pipeline{Config: cfg, Store: st}
}

// Extract discovers, extracts and durably writes the source tree rooted at
// baseDir, without classifying. This is the first half of Run and the whole
// of the extract subcommand.
func (p *Pipeline) Extract(ctx context.Context, baseDir string) (*extract.BatchResult, error) {
	cfg := p.Config

	files, err := extract.DiscoverFiles(baseDir, cfg.Extraction.IncludeGlobs, cfg.Extraction.ExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	logging.Pipeline("extracting %d files under %s (branch %s)", len(files), baseDir, cfg.Branch)

	// Stored content hashes let unchanged files skip extraction entirely,
	// keeping their existing rows, ids and timestamps.
	prior, err := p.Store.Read(cfg.Package, cfg.Branch)
	if err != nil {
		return nil, err
	}

	batch := &extract.Batch{
		Repo:        cfg.Repo,
		Package:     cfg.Package,
		Branch:      cfg.Branch,
		BaseDir:     baseDir,
		Parallelism: cfg.GetParallelism(),
		KnownHashes: prior.Meta.SourceHashes,
	}
	extracted, err := batch.Run(ctx, files)
	if err != nil {
		return nil, err
	}

	wb := buildWriteBatch(extracted.Results)
	if len(wb.Files) == 0 {
		logging.Pipeline("no changed files, partition left as is")
		return extracted, nil
	}
	if err := p.Store.Write(ctx, cfg.Package, cfg.Branch, wb); err != nil {
		return nil, err
	}
	return extracted, nil
}

// Run executes the full chain over the source tree rooted at baseDir.
func (p *Pipeline) Run(ctx context.Context, baseDir string) (*Result, error) {
	start := time.Now()
	cfg := p.Config

	extracted, err := p.Extract(ctx, baseDir)
	if err != nil {
		return nil, err
	}

	// The merged snapshot, not just this batch, feeds classification and
	// the entity lookup: effects from files untouched by this run keep
	// their domain classification current.
	snap, err := p.Store.Read(cfg.Package, cfg.Branch)
	if err != nil {
		return nil, err
	}

	domain, stats, unresolved, err := p.classifyAndEnrich(ctx, snap, baseDir)
	if err != nil {
		return nil, err
	}

	res := &Result{
		FilesExtracted: len(extracted.Results),
		FilesSkipped:   extracted.Skipped,
		Failures:       extracted.Failures,
		EffectCount:    len(snap.Effects),
		Domain:         domain,
		Stats:          stats,
		Unresolved:     unresolved,
		Duration:       time.Since(start),
	}
	logging.Pipeline("run complete: %d files, %d effects, %d domain effects in %v",
		res.FilesExtracted, res.EffectCount, len(res.Domain), res.Duration)
	return res, nil
}

// ClassifyStored classifies and enriches the effects already persisted for
// the configured package and branch, without re-extracting.
func (p *Pipeline) ClassifyStored(ctx context.Context, baseDir string) ([]schema.EnrichedDomainEffect, classify.Stats, int, error) {
	snap, err := p.Store.Read(p.Config.Package, p.Config.Branch)
	if err != nil {
		return nil, classify.Stats{}, 0, err
	}
	return p.classifyAndEnrich(ctx, snap, baseDir)
}

func (p *Pipeline) classifyAndEnrich(ctx context.Context, snap *store.Snapshot, baseDir string) ([]schema.EnrichedDomainEffect, classify.Stats, int, error) {
	rules, err := p.loadRules()
	if err != nil {
		return nil, classify.Stats{}, 0, err
	}

	var code []*schema.CodeEffect
	for i := range snap.Effects {
		if schema.IsCodeEffectType(snap.Effects[i].EffectType) {
			code = append(code, snap.Effects[i].AsCode())
		}
	}

	classifier := classify.NewClassifier(rules)
	domain, err := classifier.ClassifyAll(ctx, code)
	if err != nil {
		return nil, classify.Stats{}, 0, err
	}

	enricher := enrich.NewEnricher(enrich.NewEntityLookup(snap.Entities), baseDir)
	enriched, err := enricher.EnrichAll(ctx, domain)
	if err != nil {
		return nil, classify.Stats{}, 0, err
	}
	return enriched, classifier.Stats(), enricher.Unresolved(), nil
}

// loadRules reads the configured rule file. A missing file means an empty
// rule set: everything classifies as unmatched, which is valid steady state
// for a repository that has not written rules yet.
func (p *Pipeline) loadRules() (*classify.RuleSet, error) {
	path := p.Config.Rules.Path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.PipelineDebug("no rule file at %s, classifying with empty rule set", path)
		return classify.ParseRules(nil, nil)
	}
	return classify.LoadRules(path, p.Predicates)
}

func buildWriteBatch(results []*extract.FileResult) *store.WriteBatch {
	wb := &store.WriteBatch{SourceHashes: make(map[string]string, len(results))}
	for _, r := range results {
		wb.Files = append(wb.Files, r.FilePath)
		wb.SourceHashes[r.FilePath] = r.SourceHash
		wb.Entities = append(wb.Entities, r.Entities...)
		wb.Edges = append(wb.Edges, r.Edges...)
		wb.ExternalRefs = append(wb.ExternalRefs, r.ExternalRefs...)
		for _, e := range r.Effects {
			wb.Effects = append(wb.Effects, store.FromCode(e))
		}
	}
	return wb
}
