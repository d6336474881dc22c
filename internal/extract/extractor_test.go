package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devac/internal/schema"
)

const sampleSrc = `import requests
from collections import OrderedDict as OD

MAX_RETRIES = 3

class Widget(Base):
    def __init__(self, name):
        self.name = name

    async def fetch(self, url):
        data = await requests.get(url)
        return data

def process(items):
    """Process each item."""
    out = []
    for item in items:
        if item:
            out.append(compute(item))
    queue.publish(out)
    return out
`

func extractSample(t *testing.T) *FileResult {
	t.Helper()
	x := NewExtractor("myrepo", "api", "base", "/src")
	res, err := x.ExtractSource(context.Background(), "/src/mod.py", []byte(sampleSrc))
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	return res
}

func entityByName(res *FileResult, name string) *schema.Entity {
	for i := range res.Entities {
		if res.Entities[i].Name == name {
			return &res.Entities[i]
		}
	}
	return nil
}

func effectsOfType(res *FileResult, typ schema.EffectType) []*schema.CodeEffect {
	var out []*schema.CodeEffect
	for _, e := range res.Effects {
		if e.EffectType == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestExtract_Entities(t *testing.T) {
	res := extractSample(t)

	mod := entityByName(res, "mod.py")
	require.NotNil(t, mod, "module entity")
	assert.Equal(t, schema.KindModule, mod.Kind)

	class := entityByName(res, "Widget")
	require.NotNil(t, class)
	assert.Equal(t, schema.KindClass, class.Kind)
	assert.Equal(t, "Widget", class.QualifiedName)

	ctor := entityByName(res, "__init__")
	require.NotNil(t, ctor)
	assert.Equal(t, schema.KindMethod, ctor.Kind)
	assert.Equal(t, "Widget.__init__", ctor.QualifiedName)
	assert.False(t, ctor.IsExported)

	fetch := entityByName(res, "fetch")
	require.NotNil(t, fetch)
	assert.True(t, fetch.IsAsync)

	fn := entityByName(res, "process")
	require.NotNil(t, fn)
	assert.Equal(t, schema.KindFunction, fn.Kind)
	assert.Equal(t, "Process each item.", fn.Documentation)

	cst := entityByName(res, "MAX_RETRIES")
	require.NotNil(t, cst)
	assert.Equal(t, schema.KindConstant, cst.Kind)

	// self is skipped, the real parameters are recorded.
	assert.Nil(t, entityByName(res, "self"))
	require.NotNil(t, entityByName(res, "url"))
	require.NotNil(t, entityByName(res, "items"))
}

func TestExtract_EntityIDsAreDeterministic(t *testing.T) {
	a := extractSample(t)
	b := extractSample(t)

	fa := entityByName(a, "fetch")
	fb := entityByName(b, "fetch")
	require.NotNil(t, fa)
	require.NotNil(t, fb)
	assert.Equal(t, fa.EntityID, fb.EntityID)
	assert.Equal(t, schema.EntityID("myrepo", "api", schema.KindMethod, "Widget.fetch"), fa.EntityID)
}

func TestExtract_Edges(t *testing.T) {
	res := extractSample(t)

	var extends, calls, contains, paramOf int
	var sawComputeCall bool
	for _, e := range res.Edges {
		switch e.EdgeType {
		case schema.EdgeExtends:
			extends++
			assert.Equal(t, "Base", e.TargetName)
		case schema.EdgeCalls:
			calls++
			assert.True(t, len(e.TargetEntityID) > len(schema.UnresolvedPrefix))
			if e.Callee == "compute" {
				sawComputeCall = true
				assert.Equal(t, schema.UnresolvedPrefix+"compute", e.TargetEntityID)
				assert.Equal(t, 1, e.ArgumentCount)
			}
		case schema.EdgeContains:
			contains++
		case schema.EdgeParameterOf:
			paramOf++
		}
	}
	assert.Equal(t, 1, extends)
	assert.True(t, sawComputeCall, "CALLS edge for compute")
	assert.GreaterOrEqual(t, contains, 4, "module/class/method containment")
	assert.Equal(t, 3, paramOf, "name, url, items")
	assert.GreaterOrEqual(t, calls, 4, "requests.get, out.append, compute, queue.publish")
}

func TestExtract_Effects(t *testing.T) {
	res := extractSample(t)

	reqs := effectsOfType(res, schema.EffectRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, "requests.get", reqs[0].Target)
	assert.True(t, reqs[0].IsAsync, "awaited call")
	assert.True(t, reqs[0].IsExternal, "requests is imported")

	sends := effectsOfType(res, schema.EffectSend)
	require.Len(t, sends, 1)
	assert.Equal(t, "queue.publish", sends[0].Target)

	stores := effectsOfType(res, schema.EffectStore)
	require.Len(t, stores, 1)
	assert.Equal(t, "self.name", stores[0].Target)

	loops := effectsOfType(res, schema.EffectLoop)
	require.Len(t, loops, 1)
	assert.Equal(t, "for", loops[0].ConstructKind)

	conds := effectsOfType(res, schema.EffectCondition)
	require.Len(t, conds, 1)
	assert.Equal(t, "if", conds[0].ConstructKind)

	responses := effectsOfType(res, schema.EffectResponse)
	require.Len(t, responses, 2)

	var callees []string
	for _, c := range effectsOfType(res, schema.EffectFunctionCall) {
		callees = append(callees, c.Callee)
	}
	assert.Contains(t, callees, "compute")
	assert.Contains(t, callees, "out.append")

	// Every effect carries a position and passes validation.
	for _, e := range res.Effects {
		assert.NoError(t, e.Validate())
		assert.Greater(t, e.SourceLine, 0)
		assert.Equal(t, "mod.py", e.SourceFilePath)
		assert.Equal(t, "base", e.Branch)
	}
}

func TestExtract_ExternalRefs(t *testing.T) {
	res := extractSample(t)
	require.Len(t, res.ExternalRefs, 2)

	byModule := make(map[string]schema.ExternalRef)
	for _, r := range res.ExternalRefs {
		byModule[r.ModuleSpecifier] = r
	}

	req, ok := byModule["requests"]
	require.True(t, ok)
	assert.Equal(t, "*", req.ImportedSymbol)
	assert.False(t, req.IsRelative)

	coll, ok := byModule["collections"]
	require.True(t, ok)
	assert.Equal(t, "OrderedDict", coll.ImportedSymbol)
	assert.Equal(t, "OD", coll.LocalName)
}

func TestExtract_RelativeImport(t *testing.T) {
	x := NewExtractor("myrepo", "api", "base", "/src")
	res, err := x.ExtractSource(context.Background(), "/src/mod.py",
		[]byte("from ..common import helpers\n"))
	require.NoError(t, err)
	require.Len(t, res.ExternalRefs, 1)
	assert.Equal(t, "..common", res.ExternalRefs[0].ModuleSpecifier)
	assert.True(t, res.ExternalRefs[0].IsRelative)
}

func TestExtract_RelativeFilePath(t *testing.T) {
	x := NewExtractor("myrepo", "api", "base", "/src/myrepo")
	res, err := x.ExtractSource(context.Background(), "/src/myrepo/pkg/mod.py", []byte("x = 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "pkg/mod.py", res.FilePath)
	assert.Equal(t, schema.SourceHash([]byte("x = 1\n")), res.SourceHash)
}

func TestBatch_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.py"), []byte("def f(): pass\n"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "bad.py")))

	b := &Batch{Repo: "r", Package: "p", Branch: "base", BaseDir: dir, Parallelism: 2}
	res, err := b.Run(context.Background(), []string{
		filepath.Join(dir, "good.py"),
		filepath.Join(dir, "bad.py"),
	})
	require.NoError(t, err, "one failed file must not abort the batch")
	assert.Len(t, res.Results, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, filepath.Join(dir, "bad.py"), res.Failures[0].FilePath)
}

func TestBatch_SkipsKnownHashes(t *testing.T) {
	dir := t.TempDir()
	same := []byte("def f(): pass\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "same.py"), same, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changed.py"), []byte("def g(): pass\n"), 0644))

	b := &Batch{
		Repo: "r", Package: "p", Branch: "base", BaseDir: dir, Parallelism: 2,
		KnownHashes: map[string]string{
			"same.py":    schema.SourceHash(same),
			"changed.py": schema.SourceHash([]byte("def g(): return 1\n")),
		},
	}
	res, err := b.Run(context.Background(), []string{
		filepath.Join(dir, "same.py"),
		filepath.Join(dir, "changed.py"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "changed.py", res.Results[0].FilePath)
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__pycache__"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "b.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__pycache__", "c.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	files, err := DiscoverFiles(dir, []string{"*.py"}, []string{"__pycache__"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.py"),
		filepath.Join(dir, "pkg", "b.py"),
	}, files)
}
