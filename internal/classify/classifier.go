package classify

import (
	"context"
	"sync"

	"devac/internal/logging"
	"devac/internal/schema"
)

// Stats reports classification coverage for one run. Matched plus
// Unmatched always equals Total.
type Stats struct {
	Total     int            `json:"total"`
	Matched   int            `json:"matched"`
	Unmatched int            `json:"unmatched"`
	PerRule   map[string]int `json:"per_rule"`
}

// Classifier evaluates code effects against a rule set, first match wins.
// It is pure with respect to both the rules and the effects and is safe
// for concurrent use; the coverage counters are guarded by a mutex.
type Classifier struct {
	rules *RuleSet

	mu    sync.Mutex
	stats Stats
}

func NewClassifier(rules *RuleSet) *Classifier {
	return &Classifier{
		rules: rules,
		stats: Stats{PerRule: make(map[string]int)},
	}
}

// Classify evaluates one effect. Returns nil when no rule matches, which
// is expected steady-state behavior and only counted, never an error.
func (c *Classifier) Classify(effect *schema.CodeEffect) *schema.DomainEffect {
	in := ruleInput(effect)
	for _, rule := range c.rules.Rules() {
		if !rule.matches(in) {
			continue
		}
		c.mu.Lock()
		c.stats.Total++
		c.stats.Matched++
		c.stats.PerRule[rule.ID]++
		c.mu.Unlock()
		return emit(effect, rule)
	}
	c.mu.Lock()
	c.stats.Total++
	c.stats.Unmatched++
	c.mu.Unlock()
	return nil
}

// ClassifyAll runs the batch form, honoring cancellation between effects.
func (c *Classifier) ClassifyAll(ctx context.Context, effects []*schema.CodeEffect) ([]schema.DomainEffect, error) {
	out := make([]schema.DomainEffect, 0, len(effects))
	for _, effect := range effects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if de := c.Classify(effect); de != nil {
			out = append(out, *de)
		}
	}
	s := c.Stats()
	logging.Classify("classified %d effects: %d matched, %d unmatched (%d rules)",
		s.Total, s.Matched, s.Unmatched, c.rules.Len())
	return out, nil
}

// Stats returns a copy of the accumulated coverage counters.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.PerRule = make(map[string]int, len(c.stats.PerRule))
	for id, n := range c.stats.PerRule {
		out.PerRule[id] = n
	}
	return out
}

func ruleInput(effect *schema.CodeEffect) RuleInput {
	return RuleInput{
		EffectType: string(effect.EffectType),
		Callee:     effect.Callee,
		Target:     effect.Target,
		IsExternal: effect.IsExternal,
		IsAsync:    effect.IsAsync,
	}
}

func emit(effect *schema.CodeEffect, rule *Rule) *schema.DomainEffect {
	return &schema.DomainEffect{
		SourceEffectID: effect.EffectID,
		SourceEntityID: effect.SourceEntityID,
		SourceFilePath: effect.SourceFilePath,
		SourceLine:     effect.SourceLine,
		Domain:         rule.Emit.Domain,
		Action:         rule.Emit.Action,
		RuleID:         rule.ID,
	}
}

// Name implements the handler contract.
func (c *Classifier) Name() string { return "classifier" }

// Handle implements the handler contract: the rule set passes through
// unchanged and each input yields at most one domain effect.
func (c *Classifier) Handle(ctx context.Context, rules *RuleSet, in []*schema.CodeEffect) (*RuleSet, []schema.DomainEffect, error) {
	out, err := c.ClassifyAll(ctx, in)
	return rules, out, err
}

var _ schema.Handler[*RuleSet, *schema.CodeEffect, schema.DomainEffect] = (*Classifier)(nil)
