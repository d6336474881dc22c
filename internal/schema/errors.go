package schema

import "fmt"

// SchemaViolation reports a malformed effect construction. The offending
// field is always named so callers can log something actionable. Records
// that fail validation are rejected outright, never coerced into shape.
type SchemaViolation struct {
	Field  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: field %q %s", e.Field, e.Reason)
}
