package schema

// CodeEffect records one action performed by code: a call, a storage access,
// an outbound request, a control-flow construct. The variant-specific fields
// are flat with omitempty tags so relation files stay column-friendly; the
// EffectType tag says which fields are meaningful.
type CodeEffect struct {
	Effect

	// FunctionCall fields.
	Callee        string `json:"callee,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	IsMethod      bool   `json:"is_method,omitempty"`
	IsAsync       bool   `json:"is_async,omitempty"`
	IsConstructor bool   `json:"is_constructor,omitempty"`
	ArgumentCount int    `json:"argument_count,omitempty"`
	IsExternal    bool   `json:"is_external,omitempty"`

	// Store / Retrieve / Send / Request / Response target (attribute path,
	// URL-ish callee, channel name).
	Target string `json:"target,omitempty"`

	// Condition / Loop / Group construct kind ("if", "ternary", "for",
	// "while", "with").
	ConstructKind string `json:"construct_kind,omitempty"`
}

// Position pins an effect to an exact source location. Lines are
// 1-indexed, columns 0-indexed.
type Position struct {
	Line   int
	Column int
}

// CallInfo carries the callee details for a FunctionCall effect.
type CallInfo struct {
	Callee        string
	QualifiedName string
	IsMethod      bool
	IsAsync       bool
	IsConstructor bool
	ArgumentCount int
	IsExternal    bool
}

// NewFunctionCall constructs a FunctionCall code effect.
func NewFunctionCall(entityID, filePath string, pos Position, branch string, call CallInfo) *CodeEffect {
	return &CodeEffect{
		Effect:        newBase(EffectFunctionCall, entityID, filePath, pos.Line, pos.Column, branch),
		Callee:        call.Callee,
		QualifiedName: call.QualifiedName,
		IsMethod:      call.IsMethod,
		IsAsync:       call.IsAsync,
		IsConstructor: call.IsConstructor,
		ArgumentCount: call.ArgumentCount,
		IsExternal:    call.IsExternal,
	}
}

// NewStoreEffect constructs a Store code effect for a write to target.
func NewStoreEffect(entityID, filePath string, pos Position, branch, target string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectStore, entityID, filePath, pos.Line, pos.Column, branch)}
	e.Target = target
	return e
}

// NewRetrieveEffect constructs a Retrieve code effect for a read of target.
func NewRetrieveEffect(entityID, filePath string, pos Position, branch, target string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectRetrieve, entityID, filePath, pos.Line, pos.Column, branch)}
	e.Target = target
	return e
}

// NewSendEffect constructs a Send code effect (outbound message or publish).
func NewSendEffect(entityID, filePath string, pos Position, branch, target string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectSend, entityID, filePath, pos.Line, pos.Column, branch)}
	e.Target = target
	return e
}

// NewRequestEffect constructs a Request code effect (outbound network call).
func NewRequestEffect(entityID, filePath string, pos Position, branch, target string, call CallInfo) *CodeEffect {
	e := &CodeEffect{
		Effect:        newBase(EffectRequest, entityID, filePath, pos.Line, pos.Column, branch),
		Callee:        call.Callee,
		QualifiedName: call.QualifiedName,
		ArgumentCount: call.ArgumentCount,
		IsAsync:       call.IsAsync,
		IsExternal:    call.IsExternal,
	}
	e.Target = target
	return e
}

// NewResponseEffect constructs a Response code effect (returning a payload
// to a caller or client).
func NewResponseEffect(entityID, filePath string, pos Position, branch, target string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectResponse, entityID, filePath, pos.Line, pos.Column, branch)}
	e.Target = target
	return e
}

// NewConditionEffect constructs a Condition code effect. kind is "if" or
// "ternary".
func NewConditionEffect(entityID, filePath string, pos Position, branch, kind string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectCondition, entityID, filePath, pos.Line, pos.Column, branch)}
	e.ConstructKind = kind
	return e
}

// NewLoopEffect constructs a Loop code effect. kind is "for" or "while".
func NewLoopEffect(entityID, filePath string, pos Position, branch, kind string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectLoop, entityID, filePath, pos.Line, pos.Column, branch)}
	e.ConstructKind = kind
	return e
}

// NewGroupEffect constructs a Group code effect for a scoped block such as
// a with-statement.
func NewGroupEffect(entityID, filePath string, pos Position, branch, kind string) *CodeEffect {
	e := &CodeEffect{Effect: newBase(EffectGroup, entityID, filePath, pos.Line, pos.Column, branch)}
	e.ConstructKind = kind
	return e
}

// Validate checks base fields plus the variant-specific requirements.
func (e *CodeEffect) Validate() error {
	if err := e.Effect.Validate(); err != nil {
		return err
	}
	if !IsCodeEffectType(e.EffectType) {
		return &SchemaViolation{Field: "effect_type", Reason: "not a code effect type"}
	}
	switch e.EffectType {
	case EffectFunctionCall:
		if e.Callee == "" {
			return &SchemaViolation{Field: "callee", Reason: "required for function_call"}
		}
		if e.ArgumentCount < 0 {
			return &SchemaViolation{Field: "argument_count", Reason: "must not be negative"}
		}
	case EffectStore, EffectRetrieve, EffectSend, EffectRequest, EffectResponse:
		if e.Target == "" {
			return &SchemaViolation{Field: "target", Reason: "required for " + string(e.EffectType)}
		}
	case EffectCondition, EffectLoop, EffectGroup:
		if e.ConstructKind == "" {
			return &SchemaViolation{Field: "construct_kind", Reason: "required for " + string(e.EffectType)}
		}
	}
	return nil
}
