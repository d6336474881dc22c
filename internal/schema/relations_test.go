package schema

import (
	"strings"
	"testing"
)

func TestEntityID_StableAcrossExtractions(t *testing.T) {
	a := EntityID("myrepo", "api", KindFunction, "billing.create_charge")
	b := EntityID("myrepo", "api", KindFunction, "billing.create_charge")
	if a != b {
		t.Fatalf("same declaration produced different ids: %s vs %s", a, b)
	}

	parts := strings.Split(a, ":")
	if len(parts) != 4 {
		t.Fatalf("expected repo:pkg:kind:hash, got %s", a)
	}
	if parts[0] != "myrepo" || parts[1] != "api" || parts[2] != "function" {
		t.Errorf("wrong id components: %s", a)
	}
	if len(parts[3]) != 12 {
		t.Errorf("expected 12-char hash, got %q", parts[3])
	}
}

func TestEntityID_DifferentScopesDiffer(t *testing.T) {
	a := EntityID("r", "p", KindFunction, "mod.f")
	b := EntityID("r", "p", KindFunction, "other.f")
	if a == b {
		t.Error("different scoped names collided")
	}
}

func TestScopeHash_Length(t *testing.T) {
	if h := ScopeHash("anything"); len(h) != 12 {
		t.Errorf("expected 12 hex chars, got %q", h)
	}
}

func TestEdgeID(t *testing.T) {
	id := EdgeID(EdgeCalls, "src", "unresolved:print")
	if id != "CALLS:src:unresolved:print" {
		t.Errorf("unexpected edge id %q", id)
	}
}

func TestSourceHash(t *testing.T) {
	a := SourceHash([]byte("def f(): pass"))
	b := SourceHash([]byte("def f(): pass"))
	if a != b {
		t.Error("same content hashed differently")
	}
	if len(a) != 64 {
		t.Errorf("expected full sha256 hex digest, got %d chars", len(a))
	}
	if a == SourceHash([]byte("def g(): pass")) {
		t.Error("different content collided")
	}
}
