package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devac/internal/schema"
)

func testLookup() *EntityLookup {
	return NewEntityLookup([]schema.Entity{
		{
			EntityID:      "myrepo:api:function:abc123def456",
			Kind:          schema.KindFunction,
			Name:          "create_charge",
			QualifiedName: "billing.create_charge",
			FilePath:      "/src/myrepo/billing.py",
		},
	})
}

func domainEffect(entityID, filePath string) schema.DomainEffect {
	return schema.DomainEffect{
		SourceEffectID: schema.NewEffectID(),
		SourceEntityID: entityID,
		SourceFilePath: filePath,
		Domain:         "billing",
		Action:         "charge",
		RuleID:         "stripe",
	}
}

func TestEnricher_HitCopiesEntityFields(t *testing.T) {
	e := NewEnricher(testLookup(), "/src/myrepo")
	out := e.Enrich(domainEffect("myrepo:api:function:abc123def456", "/src/myrepo/billing.py"))

	assert.Equal(t, "create_charge", out.SourceName)
	assert.Equal(t, "billing.create_charge", out.SourceQualifiedName)
	assert.Equal(t, schema.KindFunction, out.SourceKind)
	assert.Equal(t, "billing.py", out.RelativeFilePath)
	assert.Equal(t, 0, e.Unresolved())
}

func TestEnricher_MissDerivesFallbackName(t *testing.T) {
	e := NewEnricher(testLookup(), "/src/myrepo")
	out := e.Enrich(domainEffect("myrepo:api:method:ffffffffffff", "/src/myrepo/billing.py"))

	assert.Equal(t, "method ffffffffffff", out.SourceName)
	assert.Equal(t, out.SourceName, out.SourceQualifiedName)
	assert.Equal(t, 1, e.Unresolved())
}

func TestEnricher_UnresolvedTargetUsesCalleeName(t *testing.T) {
	e := NewEnricher(testLookup(), "/src/myrepo")
	out := e.Enrich(domainEffect("unresolved:os.path.join", "/src/myrepo/billing.py"))

	assert.Equal(t, "os.path.join", out.SourceName)
	assert.Equal(t, 1, e.Unresolved())
}

func TestEnricher_EmptyEntityIDGetsPlaceholderName(t *testing.T) {
	e := NewEnricher(testLookup(), "/src/myrepo")
	out := e.Enrich(domainEffect("", "/src/myrepo/billing.py"))

	// A record with no source entity still gets a non-empty name.
	assert.Equal(t, "unknown", out.SourceName)
	assert.Equal(t, "unknown", out.SourceQualifiedName)
	assert.Equal(t, 1, e.Unresolved())
}

func TestEnricher_ExactlyOneOutputPerInput(t *testing.T) {
	e := NewEnricher(testLookup(), "/src/myrepo")
	in := []schema.DomainEffect{
		domainEffect("myrepo:api:function:abc123def456", "/src/myrepo/billing.py"),
		domainEffect("unresolved:print", "/src/myrepo/util.py"),
		domainEffect("garbage-id", "/elsewhere/x.py"),
	}
	out, err := e.EnrichAll(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	// Partial enrichment is reportable, not a failure.
	assert.Equal(t, 2, e.Unresolved())
	assert.Equal(t, "garbage-id", out[2].SourceName)
}

func TestEnricher_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEnricher(testLookup(), "")
	_, err := e.EnrichAll(ctx, []schema.DomainEffect{domainEffect("x", "y")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		base string
		want string
	}{
		{"base prefix", "/src/repo/pkg/mod.py", "/src/repo", "pkg/mod.py"},
		{"base prefix with trailing slash", "/src/repo/mod.py", "/src/repo/", "mod.py"},
		{"base wins over home pattern", "/home/alice/work/mod.py", "/home/alice/work", "mod.py"},
		{"linux home", "/home/bob/project/mod.py", "/nowhere", "project/mod.py"},
		{"macos home", "/Users/carol/project/mod.py", "", "project/mod.py"},
		{"windows home", `C:\Users\dave\project\mod.py`, "", `project\mod.py`},
		{"no pattern applies", "/opt/app/mod.py", "/src/other", "/opt/app/mod.py"},
		{"empty base", "/opt/app/mod.py", "", "/opt/app/mod.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relativePath(tt.path, tt.base))
		})
	}
}

func TestEntityLookup(t *testing.T) {
	l := testLookup()
	assert.Equal(t, 1, l.Len())
	assert.NotNil(t, l.Get("myrepo:api:function:abc123def456"))
	assert.Nil(t, l.Get("missing"))
}
