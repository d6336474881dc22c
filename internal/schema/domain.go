package schema

// DomainEffect is a code effect reclassified into a business-meaningful
// category by the rule classifier. It references its originating code
// effect and the rule that matched, and is read-only with respect to both.
type DomainEffect struct {
	SourceEffectID string            `json:"source_effect_id"`
	SourceEntityID string            `json:"source_entity_id"`
	SourceFilePath string            `json:"source_file_path"`
	SourceLine     int               `json:"source_line"`
	Domain         string            `json:"domain"`
	Action         string            `json:"action"`
	RuleID         string            `json:"rule_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// EnrichedDomainEffect is a domain effect joined against the entity lookup:
// human-readable names and a normalized path, ready for reporting.
type EnrichedDomainEffect struct {
	DomainEffect

	SourceName          string `json:"source_name"`
	SourceQualifiedName string `json:"source_qualified_name"`
	SourceKind          string `json:"source_kind"`
	RelativeFilePath    string `json:"relative_file_path"`
}
