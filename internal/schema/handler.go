package schema

import "context"

// Handler is the capability contract every pipeline stage satisfies:
// read a piece of state, consume one batch of input effects, return the
// updated state plus the effects destined for downstream handlers.
//
// The contract deliberately says nothing about strategy. The extractor
// traverses a syntax tree, the store persists and emits nothing, the
// classifier matches a rule table, the enricher joins a lookup — four
// independent implementations, none of them "the" definition. State that a
// handler only reads (rule sets, entity lookups) is passed in explicitly
// and returned unchanged rather than held as process-wide globals, so tests
// can substitute fixtures freely.
type Handler[S, In, Out any] interface {
	// Name identifies the handler in logs and stats.
	Name() string
	// Handle consumes in against state and returns the successor state and
	// output effects. Implementations that can block honor ctx cancellation
	// before their commit point, leaving state untouched on abort.
	Handle(ctx context.Context, state S, in []In) (S, []Out, error)
}
