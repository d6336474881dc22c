// Package extract turns parsed source files into typed code effects plus the
// entity, relationship and external-reference relations the rest of the
// pipeline joins against. It walks each file's syntax tree exactly once,
// using Tree-sitter for accurate positions.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"devac/internal/logging"
	"devac/internal/schema"
)

// FileResult is everything extracted from a single source file: the full
// structural parse (entities, edges, external refs) and the code effects
// observed in it.
type FileResult struct {
	FilePath     string                `json:"file_path"`
	SourceHash   string                `json:"source_file_hash"`
	Entities     []schema.Entity       `json:"entities"`
	Edges        []schema.Edge         `json:"edges"`
	ExternalRefs []schema.ExternalRef  `json:"external_refs"`
	Effects      []*schema.CodeEffect  `json:"effects"`
	Warnings     []string              `json:"warnings,omitempty"`
	ParseTime    time.Duration         `json:"-"`
}

// ExtractionFailure reports that one file could not be parsed. It never
// aborts a batch: the failure is recorded and extraction continues with the
// remaining files.
type ExtractionFailure struct {
	FilePath string
	Err      error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.FilePath, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// Extractor extracts code effects from Python source files. It owns no
// persistent state; its only input state is the transient syntax tree for
// the file being processed. An Extractor is cheap to construct and not safe
// for concurrent use - the batch runner gives each worker its own.
type Extractor struct {
	repo    string
	pkg     string
	branch  string
	baseDir string
}

// NewExtractor creates an extractor for one repo/package/branch context.
// baseDir anchors relative file paths in emitted records.
func NewExtractor(repo, pkg, branch, baseDir string) *Extractor {
	return &Extractor{repo: repo, pkg: pkg, branch: branch, baseDir: baseDir}
}

// ExtractSource parses content and extracts its effects and relations.
// The syntax tree lives only for the duration of this call.
func (x *Extractor) ExtractSource(ctx context.Context, path string, content []byte) (*FileResult, error) {
	start := time.Now()
	logging.ExtractDebug("extracting %s (%d bytes)", filepath.Base(path), len(content))

	tree, err := ParseSource(ctx, path, content)
	if err != nil {
		logging.Get(logging.CategoryExtract).Error("parse failed: %s - %v", path, err)
		return nil, &ExtractionFailure{FilePath: path, Err: err}
	}
	defer tree.Close()

	res, err := x.EmitEffects(tree)
	if err != nil {
		return nil, err
	}
	res.ParseTime = time.Since(start)

	logging.ExtractDebug("extracted %s - %d entities, %d edges, %d effects in %v",
		filepath.Base(path), len(res.Entities), len(res.Edges), len(res.Effects), res.ParseTime)
	return res, nil
}

// EmitEffects walks an already-parsed tree and produces the file result.
// The tree remains owned by the caller.
func (x *Extractor) EmitEffects(tree *SourceTree) (*FileResult, error) {
	relPath := x.relativePath(tree.FilePath)
	res := &FileResult{
		FilePath:   relPath,
		SourceHash: schema.SourceHash(tree.Content),
	}

	w := newWalker(x, tree, res, relPath)
	w.run()
	return res, nil
}

// Name implements the handler contract.
func (x *Extractor) Name() string { return "extractor" }

// Handle implements the handler contract: consume one parsed tree, emit its
// code effects, return no successor state. The tree is closed here because
// the extractor owns it for exactly one pass.
func (x *Extractor) Handle(ctx context.Context, state *SourceTree, _ []struct{}) (*SourceTree, []*schema.CodeEffect, error) {
	defer state.Close()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	res, err := x.EmitEffects(state)
	if err != nil {
		return nil, nil, err
	}
	return nil, res.Effects, nil
}

var _ schema.Handler[*SourceTree, struct{}, *schema.CodeEffect] = (*Extractor)(nil)

// relativePath returns the path relative to the extractor base directory,
// with forward slashes.
func (x *Extractor) relativePath(absPath string) string {
	if x.baseDir == "" {
		return filepath.ToSlash(absPath)
	}
	rel, err := filepath.Rel(x.baseDir, absPath)
	if err != nil {
		return filepath.ToSlash(absPath)
	}
	return filepath.ToSlash(rel)
}
