package schema

// WorkflowEffect records development-process activity around the code rather
// than behavior of the code itself: a file changed on disk, a validation or
// deployment finished, a reviewer left a comment.
type WorkflowEffect struct {
	Effect

	// Actor is who or what produced the activity (a user, a CI job).
	Actor string `json:"actor,omitempty"`
	// Status is the outcome for result-style effects ("passed", "failed",
	// "deployed", "rolled_back").
	Status string `json:"status,omitempty"`
	// Detail is free-form human context (change summary, comment body).
	Detail string `json:"detail,omitempty"`
}

// NewFileChanged constructs a FileChanged workflow effect.
func NewFileChanged(filePath, branch, actor string) *WorkflowEffect {
	e := &WorkflowEffect{Effect: newBase(EffectFileChanged, "", filePath, 0, 0, branch)}
	e.Actor = actor
	return e
}

// NewValidationResult constructs a ValidationResult workflow effect.
func NewValidationResult(filePath, branch, status, detail string) *WorkflowEffect {
	e := &WorkflowEffect{Effect: newBase(EffectValidationResult, "", filePath, 0, 0, branch)}
	e.Status = status
	e.Detail = detail
	return e
}

// NewDeploymentResult constructs a DeploymentResult workflow effect.
func NewDeploymentResult(branch, status, detail string) *WorkflowEffect {
	e := &WorkflowEffect{Effect: newBase(EffectDeploymentResult, "", "", 0, 0, branch)}
	e.Status = status
	e.Detail = detail
	return e
}

// NewReviewComment constructs a ReviewComment workflow effect anchored to a
// source position.
func NewReviewComment(filePath string, pos Position, branch, actor, body string) *WorkflowEffect {
	e := &WorkflowEffect{Effect: newBase(EffectReviewComment, "", filePath, pos.Line, pos.Column, branch)}
	e.Actor = actor
	e.Detail = body
	return e
}

// Validate checks base fields plus the variant-specific requirements.
func (e *WorkflowEffect) Validate() error {
	if err := e.Effect.Validate(); err != nil {
		return err
	}
	if !IsWorkflowEffectType(e.EffectType) {
		return &SchemaViolation{Field: "effect_type", Reason: "not a workflow effect type"}
	}
	switch e.EffectType {
	case EffectValidationResult, EffectDeploymentResult:
		if e.Status == "" {
			return &SchemaViolation{Field: "status", Reason: "required for " + string(e.EffectType)}
		}
	case EffectReviewComment:
		if e.Detail == "" {
			return &SchemaViolation{Field: "detail", Reason: "required for review_comment"}
		}
	}
	return nil
}
