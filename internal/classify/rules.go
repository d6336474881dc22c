// Package classify turns code effects into domain effects by matching them
// against an externally configured, priority-ordered rule table.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"devac/internal/logging"
)

// Predicate is a named custom match function. Predicates are registered by
// the caller and referenced from rule files by name, so rule files stay
// declarative while arbitrary checks remain possible.
type Predicate func(effect RuleInput) bool

// RuleInput is the subset of a code effect the match clause can see.
// Keeping it an interface-free struct makes predicates trivial to test.
type RuleInput struct {
	EffectType string
	Callee     string
	Target     string
	IsExternal bool
	IsAsync    bool
}

// MatchClause holds the ANDed predicates of one rule. Absent fields do not
// constrain the match; pointer booleans distinguish "unset" from "false".
type MatchClause struct {
	EffectType    string `yaml:"effect_type,omitempty"`
	CalleePattern string `yaml:"callee_pattern,omitempty"`
	TargetPattern string `yaml:"target_pattern,omitempty"`
	IsExternal    *bool  `yaml:"is_external,omitempty"`
	IsAsync       *bool  `yaml:"is_async,omitempty"`
	Predicate     string `yaml:"predicate,omitempty"`
}

// EmitClause names the domain effect a matching rule produces.
type EmitClause struct {
	Domain string `yaml:"domain"`
	Action string `yaml:"action"`
}

// Rule is one immutable classification rule. Higher priority evaluates
// first; equal priorities keep declaration order.
type Rule struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name,omitempty"`
	Match    MatchClause `yaml:"match"`
	Emit     EmitClause  `yaml:"emit"`
	Priority int         `yaml:"priority"`

	calleeRE  *regexp.Regexp
	targetRE  *regexp.Regexp
	predicate Predicate
	order     int
}

// RuleConfigError reports a rule that could not be loaded. Malformed rules
// are skipped, logged, and reported; they never abort the rest of the set.
type RuleConfigError struct {
	RuleID string
	Reason string
}

func (e *RuleConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("rule config: %s", e.Reason)
	}
	return fmt.Sprintf("rule config: rule %q: %s", e.RuleID, e.Reason)
}

// RuleSet is a loaded, validated, priority-sorted rule table. It is pure
// input to the classifier and never mutated after load.
type RuleSet struct {
	rules   []*Rule
	Skipped []*RuleConfigError
}

// Rules returns the rules in evaluation order (descending priority,
// declaration order on ties).
func (rs *RuleSet) Rules() []*Rule {
	return rs.rules
}

// Len reports the number of usable rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file and returns the validated rule set.
// Duplicate rule ids are a hard error; individually malformed rules are
// skipped and recorded in Skipped.
func LoadRules(path string, predicates map[string]Predicate) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data, predicates)
}

// ParseRules parses YAML rule data. See LoadRules.
func ParseRules(data []byte, predicates map[string]Predicate) (*RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rs := &RuleSet{}
	for i, rule := range file.Rules {
		if rule == nil {
			continue
		}
		if rule.ID == "" {
			rs.skip(&RuleConfigError{Reason: fmt.Sprintf("rule at index %d has no id", i)})
			continue
		}
		if seen[rule.ID] {
			return nil, &RuleConfigError{RuleID: rule.ID, Reason: "duplicate rule id"}
		}
		seen[rule.ID] = true

		if err := compileRule(rule, predicates); err != nil {
			rs.skip(err)
			continue
		}
		rule.order = i
		rs.rules = append(rs.rules, rule)
	}

	// Stable sort keeps declaration order as the tie-break for equal
	// priorities, which makes classification fully deterministic.
	sort.SliceStable(rs.rules, func(a, b int) bool {
		return rs.rules[a].Priority > rs.rules[b].Priority
	})
	return rs, nil
}

func compileRule(rule *Rule, predicates map[string]Predicate) *RuleConfigError {
	if rule.Emit.Domain == "" || rule.Emit.Action == "" {
		return &RuleConfigError{RuleID: rule.ID, Reason: "emit clause requires domain and action"}
	}
	var err error
	if rule.Match.CalleePattern != "" {
		if rule.calleeRE, err = regexp.Compile(rule.Match.CalleePattern); err != nil {
			return &RuleConfigError{RuleID: rule.ID, Reason: fmt.Sprintf("bad callee_pattern: %v", err)}
		}
	}
	if rule.Match.TargetPattern != "" {
		if rule.targetRE, err = regexp.Compile(rule.Match.TargetPattern); err != nil {
			return &RuleConfigError{RuleID: rule.ID, Reason: fmt.Sprintf("bad target_pattern: %v", err)}
		}
	}
	if rule.Match.Predicate != "" {
		pred, ok := predicates[rule.Match.Predicate]
		if !ok {
			return &RuleConfigError{RuleID: rule.ID, Reason: fmt.Sprintf("unknown predicate %q", rule.Match.Predicate)}
		}
		rule.predicate = pred
	}
	return nil
}

func (rs *RuleSet) skip(err *RuleConfigError) {
	rs.Skipped = append(rs.Skipped, err)
	logging.Classify("skipping rule: %v", err)
}

// matches reports whether every non-absent predicate in the match clause
// is satisfied by the input.
func (r *Rule) matches(in RuleInput) bool {
	m := &r.Match
	if m.EffectType != "" && m.EffectType != in.EffectType {
		return false
	}
	if r.calleeRE != nil && !r.calleeRE.MatchString(in.Callee) {
		return false
	}
	if r.targetRE != nil && !r.targetRE.MatchString(in.Target) {
		return false
	}
	if m.IsExternal != nil && *m.IsExternal != in.IsExternal {
		return false
	}
	if m.IsAsync != nil && *m.IsAsync != in.IsAsync {
		return false
	}
	if r.predicate != nil && !r.predicate(in) {
		return false
	}
	return true
}
