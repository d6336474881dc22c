package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devac/internal/schema"
)

func querySnapshot(files ...string) *Snapshot {
	snap := &Snapshot{Meta: Meta{SourceHashes: make(map[string]string)}}
	for _, f := range files {
		entityID := schema.EntityID("myrepo", "api", schema.KindFunction, f+".f")
		snap.Meta.SourceHashes[f] = "hash-" + f
		snap.Entities = append(snap.Entities, schema.Entity{
			EntityID: entityID,
			Kind:     schema.KindFunction,
			Name:     "f",
			FilePath: f,
		})
		call := schema.NewFunctionCall(entityID, f, schema.Position{Line: 2, Column: 0}, "base",
			schema.CallInfo{Callee: "json.dumps", ArgumentCount: 1})
		snap.Effects = append(snap.Effects, FromCode(call))
	}
	return snap
}

func TestQueryEngine_FilterByType(t *testing.T) {
	q, err := NewQueryEngine()
	require.NoError(t, err)
	defer q.Close()

	snap := querySnapshot("a.py")
	loop := schema.NewLoopEffect("e1", "a.py", schema.Position{Line: 9}, "base", "for")
	snap.Effects = append(snap.Effects, FromCode(loop))
	require.NoError(t, q.LoadPartition(snap, nil))

	calls, err := q.Effects(EffectFilter{EffectType: schema.EffectFunctionCall})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "json.dumps", calls[0].Callee)

	loops, err := q.Effects(EffectFilter{EffectType: schema.EffectLoop})
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Equal(t, 9, loops[0].Line)
}

func TestQueryEngine_FilterByFileAndCallee(t *testing.T) {
	q, err := NewQueryEngine()
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.LoadPartition(querySnapshot("a.py", "b.py"), nil))

	byFile, err := q.Effects(EffectFilter{FilePath: "a.py"})
	require.NoError(t, err)
	require.Len(t, byFile, 1)
	assert.Equal(t, "a.py", byFile[0].FilePath)

	byCallee, err := q.Effects(EffectFilter{CalleePattern: "json.%"})
	require.NoError(t, err)
	assert.Len(t, byCallee, 2)

	none, err := q.Effects(EffectFilter{CalleePattern: "stripe.%"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryEngine_BranchShadowsBaseByFile(t *testing.T) {
	q, err := NewQueryEngine()
	require.NoError(t, err)
	defer q.Close()

	base := querySnapshot("a.py", "b.py")
	// The branch re-extracted a.py with a different callee; its rows must
	// replace the base rows for that file, while b.py shows through.
	branch := &Snapshot{Meta: Meta{SourceHashes: map[string]string{"a.py": "newhash"}}}
	call := schema.NewFunctionCall("e-branch", "a.py", schema.Position{Line: 5}, "feature",
		schema.CallInfo{Callee: "stripe.charges.create", ArgumentCount: 1})
	branch.Effects = append(branch.Effects, FromCode(call))

	require.NoError(t, q.LoadPartition(base, branch))

	all, err := q.Effects(EffectFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	inA, err := q.Effects(EffectFilter{FilePath: "a.py"})
	require.NoError(t, err)
	require.Len(t, inA, 1)
	assert.Equal(t, "stripe.charges.create", inA[0].Callee)
}

func TestQueryEngine_Aggregates(t *testing.T) {
	q, err := NewQueryEngine()
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.LoadPartition(querySnapshot("a.py", "b.py", "c.py"), nil))

	counts, err := q.CountsByType()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[schema.EffectFunctionCall])

	entities, err := q.EntityCount()
	require.NoError(t, err)
	assert.Equal(t, 3, entities)

	callees, err := q.Callees(10)
	require.NoError(t, err)
	assert.Equal(t, 3, callees["json.dumps"])
}
