package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_DuplicateIDRejected(t *testing.T) {
	yamlRules := `
rules:
  - id: dup
    emit: {domain: a, action: x}
    priority: 1
  - id: dup
    emit: {domain: b, action: y}
    priority: 2
`
	_, err := ParseRules([]byte(yamlRules), nil)
	require.Error(t, err)

	var cfgErr *RuleConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "dup", cfgErr.RuleID)
}

func TestParseRules_MalformedRulesSkippedNotFatal(t *testing.T) {
	yamlRules := `
rules:
  - id: bad-regex
    match: {callee_pattern: "stripe.["}
    emit: {domain: a, action: x}
    priority: 1
  - id: no-emit
    match: {effect_type: function_call}
    priority: 1
  - id: missing-pred
    match: {predicate: nope}
    emit: {domain: a, action: x}
    priority: 1
  - id: good
    emit: {domain: a, action: x}
    priority: 1
`
	rs, err := ParseRules([]byte(yamlRules), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Len(t, rs.Skipped, 3)
	assert.Equal(t, "good", rs.Rules()[0].ID)
}

func TestParseRules_MissingIDSkipped(t *testing.T) {
	yamlRules := `
rules:
  - emit: {domain: a, action: x}
    priority: 1
`
	rs, err := ParseRules([]byte(yamlRules), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	require.Len(t, rs.Skipped, 1)
}

func TestParseRules_SortedByPriorityDescending(t *testing.T) {
	yamlRules := `
rules:
  - id: low
    emit: {domain: a, action: x}
    priority: 1
  - id: high
    emit: {domain: a, action: x}
    priority: 100
  - id: mid
    emit: {domain: a, action: x}
    priority: 50
`
	rs, err := ParseRules([]byte(yamlRules), nil)
	require.NoError(t, err)

	var ids []string
	for _, r := range rs.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, ids)
}

func TestLoadRules_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yamlRules := `
rules:
  - id: billing
    name: Stripe charges
    match: {effect_type: function_call, callee_pattern: "^stripe\\."}
    emit: {domain: billing, action: charge}
    priority: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yamlRules), 0644))

	rs, err := LoadRules(path, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, "Stripe charges", rs.Rules()[0].Name)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
