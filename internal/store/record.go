// Package store persists effect records and their auxiliary relations in
// per-package, per-branch partitions. Each partition holds four columnar
// relation files (entities, relationships, effects, external_refs) plus a
// metadata descriptor, written atomically as a unit: a reader sees the
// partition before a write or after it, never in between.
package store

import (
	"fmt"
	"sort"
	"time"

	"devac/internal/schema"
)

// EffectRecord is the persisted shape of any effect variant: the base
// fields plus both the code and workflow extensions, flat so the column
// codec can treat every row uniformly.
type EffectRecord struct {
	schema.Effect

	// Code effect fields.
	Callee        string `json:"callee,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	IsMethod      bool   `json:"is_method,omitempty"`
	IsAsync       bool   `json:"is_async,omitempty"`
	IsConstructor bool   `json:"is_constructor,omitempty"`
	ArgumentCount int    `json:"argument_count,omitempty"`
	IsExternal    bool   `json:"is_external,omitempty"`
	Target        string `json:"target,omitempty"`
	ConstructKind string `json:"construct_kind,omitempty"`

	// Workflow effect fields.
	Actor  string `json:"actor,omitempty"`
	Status string `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// FromCode converts a code effect to its persisted record.
func FromCode(e *schema.CodeEffect) EffectRecord {
	return EffectRecord{
		Effect:        e.Effect,
		Callee:        e.Callee,
		QualifiedName: e.QualifiedName,
		IsMethod:      e.IsMethod,
		IsAsync:       e.IsAsync,
		IsConstructor: e.IsConstructor,
		ArgumentCount: e.ArgumentCount,
		IsExternal:    e.IsExternal,
		Target:        e.Target,
		ConstructKind: e.ConstructKind,
	}
}

// FromWorkflow converts a workflow effect to its persisted record.
func FromWorkflow(e *schema.WorkflowEffect) EffectRecord {
	return EffectRecord{
		Effect: e.Effect,
		Actor:  e.Actor,
		Status: e.Status,
		Detail: e.Detail,
	}
}

// AsCode converts a persisted record back to a code effect. Only valid when
// the record's effect type is a code effect variant.
func (r EffectRecord) AsCode() *schema.CodeEffect {
	return &schema.CodeEffect{
		Effect:        r.Effect,
		Callee:        r.Callee,
		QualifiedName: r.QualifiedName,
		IsMethod:      r.IsMethod,
		IsAsync:       r.IsAsync,
		IsConstructor: r.IsConstructor,
		ArgumentCount: r.ArgumentCount,
		IsExternal:    r.IsExternal,
		Target:        r.Target,
		ConstructKind: r.ConstructKind,
	}
}

// AsWorkflow converts a persisted record back to a workflow effect. Only
// valid when the record's effect type is a workflow variant.
func (r EffectRecord) AsWorkflow() *schema.WorkflowEffect {
	return &schema.WorkflowEffect{
		Effect: r.Effect,
		Actor:  r.Actor,
		Status: r.Status,
		Detail: r.Detail,
	}
}

// Snapshot is one partition's full relation set as read from disk.
type Snapshot struct {
	Entities     []schema.Entity
	Edges        []schema.Edge
	Effects      []EffectRecord
	ExternalRefs []schema.ExternalRef
	Meta         Meta
}

// Meta is the partition descriptor: identity, per-relation row counts for
// sibling consistency checks, per-file source hashes for change detection,
// and the id of the write that produced the current file set.
type Meta struct {
	FormatVersion int               `json:"format_version"`
	Repo          string            `json:"repo"`
	Package       string            `json:"package"`
	Branch        string            `json:"branch"`
	WriteID       string            `json:"write_id"`
	UpdatedAt     time.Time         `json:"updated_at"`
	RowCounts     map[string]int    `json:"row_counts"`
	SourceHashes  map[string]string `json:"source_hashes"`
}

// FormatVersion is bumped when the on-disk layout changes incompatibly.
const FormatVersion = 2

// Relation file basenames inside a partition directory.
const (
	relEntities     = "entities"
	relEdges        = "relationships"
	relEffects      = "effects"
	relExternalRefs = "external_refs"
	metaFile        = "meta.json"
)

// WriteBatch is one atomic unit of incoming records. Files lists the source
// files this batch covers: their previous rows are replaced wholesale, which
// is what makes re-extraction of an unchanged file idempotent and lets
// deleted code disappear from the partition.
type WriteBatch struct {
	Files        []string
	SourceHashes map[string]string
	Entities     []schema.Entity
	Edges        []schema.Edge
	Effects      []EffectRecord
	ExternalRefs []schema.ExternalRef
}

// Validate rejects batches that would corrupt the partition.
func (b *WriteBatch) Validate() error {
	for i := range b.Effects {
		if b.Effects[i].EffectID == "" {
			return fmt.Errorf("effect %d: missing effect_id", i)
		}
	}
	for i := range b.Entities {
		if b.Entities[i].EntityID == "" {
			return fmt.Errorf("entity %d: missing entity_id", i)
		}
	}
	return nil
}

// sortSnapshot orders every relation by a stable structural key so repeated
// writes of the same logical content serialize identically.
func sortSnapshot(s *Snapshot) {
	sort.SliceStable(s.Entities, func(i, j int) bool {
		a, b := s.Entities[i], s.Entities[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EntityID < b.EntityID
	})
	sort.SliceStable(s.Edges, func(i, j int) bool {
		a, b := s.Edges[i], s.Edges[j]
		if a.SourceFilePath != b.SourceFilePath {
			return a.SourceFilePath < b.SourceFilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EdgeID < b.EdgeID
	})
	sort.SliceStable(s.Effects, func(i, j int) bool {
		a, b := s.Effects[i], s.Effects[j]
		if a.SourceFilePath != b.SourceFilePath {
			return a.SourceFilePath < b.SourceFilePath
		}
		if a.SourceLine != b.SourceLine {
			return a.SourceLine < b.SourceLine
		}
		if a.SourceColumn != b.SourceColumn {
			return a.SourceColumn < b.SourceColumn
		}
		if a.EffectType != b.EffectType {
			return a.EffectType < b.EffectType
		}
		return a.EffectID < b.EffectID
	})
	sort.SliceStable(s.ExternalRefs, func(i, j int) bool {
		a, b := s.ExternalRefs[i], s.ExternalRefs[j]
		if a.SourceFilePath != b.SourceFilePath {
			return a.SourceFilePath < b.SourceFilePath
		}
		if a.ModuleSpecifier != b.ModuleSpecifier {
			return a.ModuleSpecifier < b.ModuleSpecifier
		}
		return a.ImportedSymbol < b.ImportedSymbol
	})
}
