// Package enrich joins domain effects against the entity relation to attach
// human-readable names and normalized paths. Unresolved entity ids degrade
// to deterministic fallback names instead of failing the batch.
package enrich

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"devac/internal/logging"
	"devac/internal/schema"
)

// EntityLookup indexes entities by id. Built once per run, read-only after.
type EntityLookup struct {
	byID map[string]*schema.Entity
}

// NewEntityLookup builds a lookup over the given entity rows.
func NewEntityLookup(entities []schema.Entity) *EntityLookup {
	byID := make(map[string]*schema.Entity, len(entities))
	for i := range entities {
		byID[entities[i].EntityID] = &entities[i]
	}
	return &EntityLookup{byID: byID}
}

// Get returns the entity for an id, or nil.
func (l *EntityLookup) Get(entityID string) *schema.Entity {
	return l.byID[entityID]
}

// Len reports the number of indexed entities.
func (l *EntityLookup) Len() int { return len(l.byID) }

// Enricher resolves domain effects against an entity lookup and normalizes
// file paths relative to a base directory.
type Enricher struct {
	lookup  *EntityLookup
	baseDir string

	unresolved int
}

func NewEnricher(lookup *EntityLookup, baseDir string) *Enricher {
	return &Enricher{lookup: lookup, baseDir: baseDir}
}

// Unresolved reports how many effects fell back to a derived name because
// their entity id had no row in the lookup.
func (e *Enricher) Unresolved() int { return e.unresolved }

// Enrich resolves one domain effect. It always produces exactly one output.
func (e *Enricher) Enrich(de schema.DomainEffect) schema.EnrichedDomainEffect {
	out := schema.EnrichedDomainEffect{DomainEffect: de}
	if entity := e.lookup.Get(de.SourceEntityID); entity != nil {
		out.SourceName = entity.Name
		out.SourceQualifiedName = entity.QualifiedName
		out.SourceKind = entity.Kind
	} else {
		e.unresolved++
		out.SourceName = fallbackName(de.SourceEntityID)
		out.SourceQualifiedName = out.SourceName
	}
	out.RelativeFilePath = relativePath(de.SourceFilePath, e.baseDir)
	return out
}

// EnrichAll runs the batch form, honoring cancellation between effects.
func (e *Enricher) EnrichAll(ctx context.Context, effects []schema.DomainEffect) ([]schema.EnrichedDomainEffect, error) {
	out := make([]schema.EnrichedDomainEffect, 0, len(effects))
	for _, de := range effects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.Enrich(de))
	}
	if e.unresolved > 0 {
		logging.Enrich("enriched %d effects, %d unresolved entity ids", len(out), e.unresolved)
	} else {
		logging.EnrichDebug("enriched %d effects, all entities resolved", len(out))
	}
	return out, nil
}

// fallbackName derives a readable name from the structural components of an
// entity id. "repo:pkg:function:abc123" becomes "function abc123";
// "unresolved:os.path.join" becomes "os.path.join". An empty id names the
// effect "unknown"; anything else passes through unchanged, so the output
// is never empty.
func fallbackName(entityID string) string {
	if entityID == "" {
		return "unknown"
	}
	if rest, ok := strings.CutPrefix(entityID, schema.UnresolvedPrefix); ok {
		return rest
	}
	parts := strings.Split(entityID, ":")
	if len(parts) == 4 {
		return parts[2] + " " + parts[3]
	}
	return entityID
}

var homePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/home/[^/]+/`),
	regexp.MustCompile(`^/Users/[^/]+/`),
	regexp.MustCompile(`^[A-Za-z]:\\Users\\[^\\]+\\`),
}

// relativePath normalizes an absolute path for display: strict prefix match
// against the base directory first, then home directory patterns, then the
// original path unchanged.
func relativePath(path, baseDir string) string {
	if baseDir != "" {
		base := strings.TrimSuffix(baseDir, string(filepath.Separator)) + string(filepath.Separator)
		if strings.HasPrefix(path, base) {
			return strings.TrimPrefix(path, base)
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		prefix := strings.TrimSuffix(home, string(filepath.Separator)) + string(filepath.Separator)
		if strings.HasPrefix(path, prefix) {
			return strings.TrimPrefix(path, prefix)
		}
	}
	for _, pat := range homePatterns {
		if loc := pat.FindStringIndex(path); loc != nil {
			return path[loc[1]:]
		}
	}
	return path
}

// Name implements the handler contract.
func (e *Enricher) Name() string { return "enricher" }

// Handle implements the handler contract: the lookup passes through
// unchanged and every input yields exactly one output.
func (e *Enricher) Handle(ctx context.Context, lookup *EntityLookup, in []schema.DomainEffect) (*EntityLookup, []schema.EnrichedDomainEffect, error) {
	out, err := e.EnrichAll(ctx, in)
	return lookup, out, err
}

var _ schema.Handler[*EntityLookup, schema.DomainEffect, schema.EnrichedDomainEffect] = (*Enricher)(nil)
