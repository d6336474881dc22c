package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Entity kinds produced by extraction.
const (
	KindModule    = "module"
	KindClass     = "class"
	KindFunction  = "function"
	KindMethod    = "method"
	KindParameter = "parameter"
	KindVariable  = "variable"
	KindConstant  = "constant"
)

// Edge types between entities.
const (
	EdgeContains    = "CONTAINS"
	EdgeExtends     = "EXTENDS"
	EdgeCalls       = "CALLS"
	EdgeParameterOf = "PARAMETER_OF"
)

// UnresolvedPrefix marks a target entity id whose definition was not seen
// during extraction (e.g. a call into another package).
const UnresolvedPrefix = "unresolved:"

// Entity is one row of the entities relation: a named code construct with
// its position and kind.
type Entity struct {
	EntityID      string `json:"entity_id"`
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	FilePath      string `json:"file_path"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	StartColumn   int    `json:"start_column"`
	EndColumn     int    `json:"end_column"`
	Language      string `json:"language"`
	IsExported    bool   `json:"is_exported"`
	Documentation string `json:"documentation,omitempty"`
	IsAsync       bool   `json:"is_async,omitempty"`
}

// Edge is one row of the relationships relation: a typed link between two
// entities. CALLS edges additionally carry the callee string, argument count
// and call site position.
type Edge struct {
	EdgeID         string `json:"edge_id"`
	EdgeType       string `json:"edge_type"`
	SourceEntityID string `json:"source_entity_id"`
	TargetEntityID string `json:"target_entity_id"`
	SourceFilePath string `json:"source_file_path"`
	TargetName     string `json:"target_name,omitempty"`
	Callee         string `json:"callee,omitempty"`
	ArgumentCount  int    `json:"argument_count,omitempty"`
	StartLine      int    `json:"start_line,omitempty"`
	StartColumn    int    `json:"start_column,omitempty"`
}

// ExternalRef is one row of the external references relation: an import of
// a symbol from outside the package.
type ExternalRef struct {
	SourceEntityID  string `json:"source_entity_id"`
	SourceFilePath  string `json:"source_file_path"`
	ModuleSpecifier string `json:"module_specifier"`
	ImportedSymbol  string `json:"imported_symbol"`
	LocalName       string `json:"local_name,omitempty"`
	IsRelative      bool   `json:"is_relative"`
}

// ScopeHash returns the 12-hex-char hash of a scoped name used inside
// entity ids.
func ScopeHash(scopedName string) string {
	sum := sha256.Sum256([]byte(scopedName))
	return hex.EncodeToString(sum[:])[:12]
}

// EntityID builds an entity id in the {repo}:{pkg}:{kind}:{hash} format.
// The hash component is derived from the fully scoped name, so the same
// declaration always maps to the same id across extractions.
func EntityID(repo, pkg, kind, scopedName string) string {
	return fmt.Sprintf("%s:%s:%s:%s", repo, pkg, kind, ScopeHash(scopedName))
}

// EdgeID builds an edge id from its type and endpoints.
func EdgeID(edgeType, sourceID, targetID string) string {
	return fmt.Sprintf("%s:%s:%s", edgeType, sourceID, targetID)
}

// SourceHash returns the sha256 hex digest of a file's content, recorded in
// partition metadata so unchanged files can be detected.
func SourceHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
