// Package schema defines the canonical shapes for every effect kind in the
// DevAC pipeline, the constructors that stamp identity and timestamp fields,
// and the validation that rejects malformed records before they reach storage.
// This package is a leaf: it depends on nothing else in the module so every
// pipeline stage can share its types without import cycles.
package schema

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EffectType tags the concrete variant of an effect record.
type EffectType string

// Code effect variants.
const (
	EffectFunctionCall EffectType = "function_call"
	EffectStore        EffectType = "store"
	EffectRetrieve     EffectType = "retrieve"
	EffectSend         EffectType = "send"
	EffectRequest      EffectType = "request"
	EffectResponse     EffectType = "response"
	EffectCondition    EffectType = "condition"
	EffectLoop         EffectType = "loop"
	EffectGroup        EffectType = "group"
)

// Workflow effect variants. Disjoint in purpose from code effects but share
// the same base fields and identity semantics.
const (
	EffectFileChanged      EffectType = "file_changed"
	EffectValidationResult EffectType = "validation_result"
	EffectDeploymentResult EffectType = "deployment_result"
	EffectReviewComment    EffectType = "review_comment"
)

// codeEffectTypes is the closed set of valid code effect tags.
var codeEffectTypes = map[EffectType]bool{
	EffectFunctionCall: true,
	EffectStore:        true,
	EffectRetrieve:     true,
	EffectSend:         true,
	EffectRequest:      true,
	EffectResponse:     true,
	EffectCondition:    true,
	EffectLoop:         true,
	EffectGroup:        true,
}

// workflowEffectTypes is the closed set of valid workflow effect tags.
var workflowEffectTypes = map[EffectType]bool{
	EffectFileChanged:      true,
	EffectValidationResult: true,
	EffectDeploymentResult: true,
	EffectReviewComment:    true,
}

// IsCodeEffectType reports whether t is one of the code effect variants.
func IsCodeEffectType(t EffectType) bool { return codeEffectTypes[t] }

// IsWorkflowEffectType reports whether t is one of the workflow effect variants.
func IsWorkflowEffectType(t EffectType) bool { return workflowEffectTypes[t] }

// Effect is the base record shared by every effect variant. Effects are
// immutable once constructed: a changed observation is a new record, never
// an in-place mutation, the same way an append-only log supersedes entries.
type Effect struct {
	EffectID       string         `json:"effect_id"`
	EffectType     EffectType     `json:"effect_type"`
	Timestamp      time.Time      `json:"timestamp"`
	SourceEntityID string         `json:"source_entity_id"`
	SourceFilePath string         `json:"source_file_path"`
	SourceLine     int            `json:"source_line"`
	SourceColumn   int            `json:"source_column"`
	Branch         string         `json:"branch"`
	Properties     map[string]any `json:"properties,omitempty"`
}

// Validate checks the base fields every variant must carry.
func (e *Effect) Validate() error {
	if e.EffectID == "" {
		return &SchemaViolation{Field: "effect_id", Reason: "must not be empty"}
	}
	if e.EffectType == "" {
		return &SchemaViolation{Field: "effect_type", Reason: "must not be empty"}
	}
	if !IsCodeEffectType(e.EffectType) && !IsWorkflowEffectType(e.EffectType) {
		return &SchemaViolation{Field: "effect_type", Reason: fmt.Sprintf("unknown effect type %q", e.EffectType)}
	}
	if e.Timestamp.IsZero() {
		return &SchemaViolation{Field: "timestamp", Reason: "must not be zero"}
	}
	if e.SourceLine < 0 {
		return &SchemaViolation{Field: "source_line", Reason: "must not be negative"}
	}
	if e.SourceColumn < 0 {
		return &SchemaViolation{Field: "source_column", Reason: "must not be negative"}
	}
	return nil
}

// effectIDClock guards the monotonic millisecond component of effect ids.
// If the wall clock stalls or steps backward the counter still advances, so
// two ids generated in the same process can never share a timestamp prefix
// out of order.
var effectIDClock struct {
	mu   sync.Mutex
	last int64
}

// NewEffectID returns a fresh effect identity: a monotonic unix-millisecond
// component followed by a random uuid fragment. The millisecond prefix keeps
// ids sortable by creation time; the fragment makes collisions within one
// millisecond impossible in practice.
func NewEffectID() string {
	effectIDClock.mu.Lock()
	now := time.Now().UnixMilli()
	if now <= effectIDClock.last {
		now = effectIDClock.last + 1
	}
	effectIDClock.last = now
	effectIDClock.mu.Unlock()

	frag := uuid.NewString()[:8]
	return fmt.Sprintf("%013d-%s", now, frag)
}

// newBase stamps identity, timestamp and position fields for a new effect.
func newBase(t EffectType, entityID, filePath string, line, column int, branch string) Effect {
	return Effect{
		EffectID:       NewEffectID(),
		EffectType:     t,
		Timestamp:      time.Now().UTC(),
		SourceEntityID: entityID,
		SourceFilePath: filePath,
		SourceLine:     line,
		SourceColumn:   column,
		Branch:         branch,
	}
}
