package schema

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestNewEffectID_Format(t *testing.T) {
	id := NewEffectID()
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		t.Fatalf("expected millis-fragment format, got %q", id)
	}
	if len(parts[0]) != 13 {
		t.Errorf("expected 13-digit millis prefix, got %q", parts[0])
	}
	if _, err := strconv.ParseInt(parts[0], 10, 64); err != nil {
		t.Errorf("millis prefix not numeric: %v", err)
	}
	if len(parts[1]) != 8 {
		t.Errorf("expected 8-char uuid fragment, got %q", parts[1])
	}
}

func TestNewEffectID_MonotonicPrefix(t *testing.T) {
	prev := ""
	for i := 0; i < 1000; i++ {
		id := NewEffectID()
		millis := id[:13]
		if millis < prev {
			t.Fatalf("timestamp prefix went backward: %s after %s", millis, prev)
		}
		prev = millis
	}
}

func TestNewEffectID_UniqueUnderConcurrency(t *testing.T) {
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- NewEffectID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate effect id %s", id)
		}
		seen[id] = true
	}
}

func TestEffectTypeSets(t *testing.T) {
	if !IsCodeEffectType(EffectFunctionCall) {
		t.Error("function_call should be a code effect type")
	}
	if !IsWorkflowEffectType(EffectFileChanged) {
		t.Error("file_changed should be a workflow effect type")
	}
	if IsCodeEffectType(EffectFileChanged) {
		t.Error("file_changed is not a code effect type")
	}
	if IsCodeEffectType("bogus") || IsWorkflowEffectType("bogus") {
		t.Error("unknown type accepted")
	}
}

func TestEffect_Validate(t *testing.T) {
	valid := NewFunctionCall("e1", "a.py", Position{Line: 1}, "base", CallInfo{Callee: "f"})
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid effect rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*CodeEffect)
		field  string
	}{
		{"missing id", func(e *CodeEffect) { e.EffectID = "" }, "effect_id"},
		{"unknown type", func(e *CodeEffect) { e.EffectType = "nope" }, "effect_type"},
		{"negative line", func(e *CodeEffect) { e.SourceLine = -1 }, "source_line"},
		{"negative column", func(e *CodeEffect) { e.SourceColumn = -2 }, "source_column"},
		{"missing callee", func(e *CodeEffect) { e.Callee = "" }, "callee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewFunctionCall("e1", "a.py", Position{Line: 1}, "base", CallInfo{Callee: "f"})
			tt.mutate(e)
			err := e.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var sv *SchemaViolation
			if !asSchemaViolation(err, &sv) {
				t.Fatalf("expected SchemaViolation, got %T", err)
			}
			if sv.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, sv.Field)
			}
		})
	}
}

func asSchemaViolation(err error, target **SchemaViolation) bool {
	sv, ok := err.(*SchemaViolation)
	if ok {
		*target = sv
	}
	return ok
}

func TestCodeEffect_VariantValidation(t *testing.T) {
	store := NewStoreEffect("e1", "a.py", Position{Line: 3}, "base", "cache")
	if err := store.Validate(); err != nil {
		t.Fatalf("store effect rejected: %v", err)
	}
	store.Target = ""
	if store.Validate() == nil {
		t.Error("store effect without target accepted")
	}

	cond := NewConditionEffect("e1", "a.py", Position{Line: 5}, "base", "if")
	if err := cond.Validate(); err != nil {
		t.Fatalf("condition effect rejected: %v", err)
	}
	cond.ConstructKind = ""
	if cond.Validate() == nil {
		t.Error("condition effect without construct kind accepted")
	}
}

func TestWorkflowEffect_Validate(t *testing.T) {
	wf := NewValidationResult("a.py", "base", "passed", "all checks green")
	if err := wf.Validate(); err != nil {
		t.Fatalf("workflow effect rejected: %v", err)
	}
	wf.Status = ""
	if wf.Validate() == nil {
		t.Error("validation_result without status accepted")
	}
}
