package extract

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"devac/internal/schema"
)

// walker carries per-file traversal state: the scope stack for qualified
// names, the current class/function context used as effect source, and the
// import table used to flag external callees.
type walker struct {
	x    *Extractor
	tree *SourceTree
	res  *FileResult
	rel  string

	scope      []string
	moduleID   string
	classID    string
	className  string
	funcID     string
	funcName   string
	imports    map[string]string // local name -> module specifier
	inLeftSide bool              // suppress Retrieve inside assignment targets
}

func newWalker(x *Extractor, tree *SourceTree, res *FileResult, relPath string) *walker {
	return &walker{
		x:       x,
		tree:    tree,
		res:     res,
		rel:     relPath,
		imports: make(map[string]string),
	}
}

func (w *walker) run() {
	root := w.tree.Root()

	// The module itself is an entity so effects at file level have a
	// resolvable source.
	moduleName := filepath.Base(w.rel)
	w.moduleID = w.addEntity(schema.KindModule, moduleName, root, "")

	w.walk(root)
}

func (w *walker) text(n *sitter.Node) string {
	return w.tree.Text(n)
}

func (w *walker) pos(n *sitter.Node) schema.Position {
	return schema.Position{
		Line:   int(n.StartPoint().Row) + 1,
		Column: int(n.StartPoint().Column),
	}
}

// sourceEntity is the innermost enclosing entity: function, then class,
// then module.
func (w *walker) sourceEntity() string {
	if w.funcID != "" {
		return w.funcID
	}
	if w.classID != "" {
		return w.classID
	}
	return w.moduleID
}

func (w *walker) scopedName(name string) string {
	if len(w.scope) == 0 {
		return name
	}
	return strings.Join(w.scope, ".") + "." + name
}

// walk dispatches every named child. One pass per file.
func (w *walker) walk(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.dispatch(node.NamedChild(i))
	}
}

// dispatch routes one node by type and recurses.
func (w *walker) dispatch(child *sitter.Node) {
	switch child.Type() {
	case "class_definition":
		w.visitClass(child, child)

	case "function_definition":
		w.visitFunction(child, child)

	case "decorated_definition":
		// The decorated wrapper owns the start position so decorators
		// are included in the entity span.
		for j := 0; j < int(child.NamedChildCount()); j++ {
			inner := child.NamedChild(j)
			switch inner.Type() {
			case "function_definition":
				w.visitFunction(inner, child)
			case "class_definition":
				w.visitClass(inner, child)
			}
		}

	case "import_statement":
		w.visitImport(child)

	case "import_from_statement":
		w.visitImportFrom(child)

	case "expression_statement":
		w.visitExpressionStatement(child)

	case "call":
		w.visitCall(child, false)
		w.walk(child)

	case "await":
		w.visitAwait(child)

	case "if_statement":
		w.emitEffect(schema.NewConditionEffect(w.sourceEntity(), w.rel, w.pos(child), w.x.branch, "if"))
		w.walk(child)

	case "conditional_expression":
		w.emitEffect(schema.NewConditionEffect(w.sourceEntity(), w.rel, w.pos(child), w.x.branch, "ternary"))
		w.walk(child)

	case "for_statement":
		w.emitEffect(schema.NewLoopEffect(w.sourceEntity(), w.rel, w.pos(child), w.x.branch, "for"))
		w.walk(child)

	case "while_statement":
		w.emitEffect(schema.NewLoopEffect(w.sourceEntity(), w.rel, w.pos(child), w.x.branch, "while"))
		w.walk(child)

	case "with_statement":
		w.emitEffect(schema.NewGroupEffect(w.sourceEntity(), w.rel, w.pos(child), w.x.branch, "with"))
		w.walk(child)

	case "return_statement":
		w.visitReturn(child)

	case "subscript":
		w.visitSubscript(child)
		w.walk(child)

	default:
		w.walk(child)
	}
}

// visitExpressionStatement handles assignments and bare expressions.
func (w *walker) visitExpressionStatement(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "assignment", "augmented_assignment":
			w.visitAssignment(child)
		default:
			w.walk(node)
			return
		}
	}
}

// visitAssignment emits Store effects for attribute/subscript targets and
// entity rows for module-level variables.
func (w *walker) visitAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")

	if left != nil {
		switch left.Type() {
		case "attribute", "subscript":
			// Property access used as storage.
			w.emitEffect(schema.NewStoreEffect(w.sourceEntity(), w.rel, w.pos(node), w.x.branch, w.text(left)))
		case "identifier":
			// Module-level variables and constants become entities,
			// matching the structural parse.
			if w.funcID == "" {
				name := w.text(left)
				kind := schema.KindVariable
				if name == strings.ToUpper(name) && name != strings.ToLower(name) {
					kind = schema.KindConstant
				}
				w.addEntity(kind, name, node, w.classID)
			}
		}
		// Subscripts inside the target are writes, not reads.
		w.inLeftSide = true
		w.walk(left)
		w.inLeftSide = false
	}
	if right != nil {
		// The right side is a full expression node (a call, an await, a
		// ternary), so it is dispatched, not just recursed into.
		w.dispatch(right)
	}
}

// visitSubscript emits a Retrieve effect for subscript reads of a named
// container (obj[key] in expression position).
func (w *walker) visitSubscript(node *sitter.Node) {
	if w.inLeftSide {
		return
	}
	value := node.ChildByFieldName("value")
	if value == nil {
		return
	}
	if value.Type() != "identifier" && value.Type() != "attribute" {
		return
	}
	w.emitEffect(schema.NewRetrieveEffect(w.sourceEntity(), w.rel, w.pos(node), w.x.branch, w.text(node)))
}

// visitReturn emits a Response effect for value-bearing returns inside a
// function.
func (w *walker) visitReturn(node *sitter.Node) {
	if w.funcID != "" && node.NamedChildCount() > 0 {
		w.emitEffect(schema.NewResponseEffect(w.funcID, w.rel, w.pos(node), w.x.branch, w.funcName))
	}
	w.walk(node)
}

// visitAwait marks the awaited call async, if it is a call.
func (w *walker) visitAwait(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "call" {
			w.visitCall(child, true)
			w.walk(child)
		} else {
			w.dispatch(child)
		}
	}
}

// visitCall classifies a call expression into FunctionCall, Request or Send
// and records the CALLS edge.
func (w *walker) visitCall(node *sitter.Node, isAwaited bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	callee := w.calleeName(fn)
	if callee == "" {
		// Chained call like foo()() - skip the intermediate, per the
		// structural parse semantics.
		return
	}

	argCount := 0
	if args := node.ChildByFieldName("arguments"); args != nil {
		argCount = int(args.NamedChildCount())
	}

	pos := w.pos(node)
	source := w.sourceEntity()

	// CALLS edge with an unresolved target; resolution happens when
	// partitions are joined.
	target := schema.UnresolvedPrefix + callee
	w.res.Edges = append(w.res.Edges, schema.Edge{
		EdgeID:         schema.EdgeID(schema.EdgeCalls, source, target),
		EdgeType:       schema.EdgeCalls,
		SourceEntityID: source,
		TargetEntityID: target,
		SourceFilePath: w.rel,
		Callee:         callee,
		ArgumentCount:  argCount,
		StartLine:      pos.Line,
		StartColumn:    pos.Column,
	})

	call := schema.CallInfo{
		Callee:        callee,
		QualifiedName: callee,
		IsMethod:      strings.Contains(callee, "."),
		IsAsync:       isAwaited,
		IsConstructor: isConstructorName(callee),
		ArgumentCount: argCount,
		IsExternal:    w.isExternalCallee(callee),
	}

	switch {
	case isRequestCallee(callee):
		w.emitEffect(schema.NewRequestEffect(source, w.rel, pos, w.x.branch, callee, call))
	case isSendCallee(callee):
		w.emitEffect(schema.NewSendEffect(source, w.rel, pos, w.x.branch, callee))
	default:
		w.emitEffect(schema.NewFunctionCall(source, w.rel, pos, w.x.branch, call))
	}
}

// visitClass records the class entity, EXTENDS edges and recurses into the
// body with class context set. spanNode owns the start position (the
// decorated wrapper when decorators are present).
func (w *walker) visitClass(node, spanNode *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	entityID := w.addEntity(schema.KindClass, name, spanNode, w.containerID())

	// EXTENDS edges for base classes. The target id is a placeholder
	// derived from the base name; it resolves if the base lives in the
	// same package.
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			base := supers.NamedChild(i)
			baseName := w.text(base)
			baseID := schema.EntityID(w.x.repo, w.x.pkg, schema.KindClass, baseName)
			w.res.Edges = append(w.res.Edges, schema.Edge{
				EdgeID:         schema.EdgeID(schema.EdgeExtends, entityID, baseID),
				EdgeType:       schema.EdgeExtends,
				SourceEntityID: entityID,
				TargetEntityID: baseID,
				SourceFilePath: w.rel,
				TargetName:     baseName,
			})
		}
	}

	prevClassID, prevClassName := w.classID, w.className
	w.classID, w.className = entityID, name
	w.scope = append(w.scope, name)

	if body := node.ChildByFieldName("body"); body != nil {
		w.walk(body)
	}

	w.scope = w.scope[:len(w.scope)-1]
	w.classID, w.className = prevClassID, prevClassName
}

// visitFunction records the function/method entity, its parameters, and
// recurses into the body with function context set.
func (w *walker) visitFunction(node, spanNode *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	kind := schema.KindFunction
	if w.classID != "" {
		kind = schema.KindMethod
	}

	isAsync := strings.HasPrefix(w.text(node), "async ")

	entityID := w.addEntityWith(kind, name, spanNode, w.containerID(), func(e *schema.Entity) {
		e.IsAsync = isAsync
		e.Documentation = w.docstring(node)
	})

	prevFuncID, prevFuncName := w.funcID, w.funcName
	w.funcID = entityID
	w.funcName = w.scopedName(name)
	w.scope = append(w.scope, name)

	if params := node.ChildByFieldName("parameters"); params != nil {
		w.visitParameters(params, entityID)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		w.walk(body)
	}

	w.scope = w.scope[:len(w.scope)-1]
	w.funcID, w.funcName = prevFuncID, prevFuncName
}

// visitParameters records parameter entities and PARAMETER_OF edges,
// skipping self/cls.
func (w *walker) visitParameters(params *sitter.Node, funcID string) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		var nameNode *sitter.Node
		switch p.Type() {
		case "identifier":
			nameNode = p
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			nameNode = p.ChildByFieldName("name")
			if nameNode == nil && p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
				nameNode = p.NamedChild(0)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if p.NamedChildCount() > 0 {
				nameNode = p.NamedChild(0)
			}
		}
		if nameNode == nil {
			continue
		}
		name := w.text(nameNode)
		if name == "self" || name == "cls" {
			continue
		}
		paramID := w.addEntity(schema.KindParameter, name, p, "")
		w.res.Edges = append(w.res.Edges, schema.Edge{
			EdgeID:         schema.EdgeID(schema.EdgeParameterOf, paramID, funcID),
			EdgeType:       schema.EdgeParameterOf,
			SourceEntityID: paramID,
			TargetEntityID: funcID,
			SourceFilePath: w.rel,
		})
	}
}

// visitImport records `import X [as Y]` statements as external references.
func (w *walker) visitImport(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			module := w.text(child)
			w.addExternalRef(module, "*", "")
			w.imports[rootSegment(module)] = module
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			module := w.text(nameNode)
			local := ""
			if aliasNode != nil {
				local = w.text(aliasNode)
				w.imports[local] = module
			} else {
				w.imports[rootSegment(module)] = module
			}
			w.addExternalRef(module, "*", local)
		}
	}
}

// visitImportFrom records `from M import a [as b]` statements, preserving
// relative-import dots in the module specifier.
func (w *walker) visitImportFrom(node *sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	module := w.text(moduleNode)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.StartByte() == moduleNode.StartByte() && child.EndByte() == moduleNode.EndByte() {
			continue
		}
		switch child.Type() {
		case "dotted_name", "identifier":
			symbol := w.text(child)
			w.addExternalRef(module, symbol, "")
			w.imports[symbol] = module
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			symbol := w.text(nameNode)
			local := ""
			if aliasNode != nil {
				local = w.text(aliasNode)
				w.imports[local] = module
			} else {
				w.imports[symbol] = module
			}
			w.addExternalRef(module, symbol, local)
		case "wildcard_import":
			w.addExternalRef(module, "*", "")
		}
	}
}

// containerID is the parent for CONTAINS edges: enclosing class, else the
// module.
func (w *walker) containerID() string {
	if w.classID != "" {
		return w.classID
	}
	return w.moduleID
}

// addEntity records an entity row plus its CONTAINS edge.
func (w *walker) addEntity(kind, name string, node *sitter.Node, parentID string) string {
	return w.addEntityWith(kind, name, node, parentID, nil)
}

func (w *walker) addEntityWith(kind, name string, node *sitter.Node, parentID string, extra func(*schema.Entity)) string {
	scoped := w.scopedName(name)
	entityID := schema.EntityID(w.x.repo, w.x.pkg, kind, scoped)

	e := schema.Entity{
		EntityID:      entityID,
		Kind:          kind,
		Name:          name,
		QualifiedName: scoped,
		FilePath:      w.rel,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		StartColumn:   int(node.StartPoint().Column),
		EndColumn:     int(node.EndPoint().Column),
		Language:      "python",
		IsExported:    !strings.HasPrefix(name, "_"),
	}
	if extra != nil {
		extra(&e)
	}
	w.res.Entities = append(w.res.Entities, e)

	if parentID != "" {
		w.res.Edges = append(w.res.Edges, schema.Edge{
			EdgeID:         schema.EdgeID(schema.EdgeContains, parentID, entityID),
			EdgeType:       schema.EdgeContains,
			SourceEntityID: parentID,
			TargetEntityID: entityID,
			SourceFilePath: w.rel,
		})
	}
	return entityID
}

func (w *walker) addExternalRef(module, symbol, localName string) {
	ref := schema.ExternalRef{
		SourceEntityID:  w.sourceEntity(),
		SourceFilePath:  w.rel,
		ModuleSpecifier: module,
		ImportedSymbol:  symbol,
		IsRelative:      strings.HasPrefix(module, "."),
	}
	if localName != "" && localName != symbol {
		ref.LocalName = localName
	}
	w.res.ExternalRefs = append(w.res.ExternalRefs, ref)
}

func (w *walker) emitEffect(e *schema.CodeEffect) {
	if err := e.Validate(); err != nil {
		// A construction bug, not a user input problem; record and drop.
		w.res.Warnings = append(w.res.Warnings, err.Error())
		return
	}
	w.res.Effects = append(w.res.Effects, e)
}

// docstring returns the leading string literal of a function body, if any,
// with its quotes stripped.
func (w *walker) docstring(fn *sitter.Node) string {
	body := fn.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	s := w.text(str)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return s
}

// calleeName extracts the dotted callee from a call's function node.
func (w *walker) calleeName(fn *sitter.Node) string {
	switch fn.Type() {
	case "identifier":
		return w.text(fn)
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		if attr == nil {
			return ""
		}
		obj := fn.ChildByFieldName("object")
		if obj != nil {
			if objName := w.objectName(obj); objName != "" {
				return objName + "." + w.text(attr)
			}
		}
		return w.text(attr)
	case "call":
		// Chained call: foo()() - skip intermediate.
		return ""
	case "subscript":
		if value := fn.ChildByFieldName("value"); value != nil {
			return w.calleeName(value)
		}
	}
	return ""
}

// objectName flattens a nested attribute chain (a.b.c) to a dotted string.
func (w *walker) objectName(n *sitter.Node) string {
	switch n.Type() {
	case "identifier":
		return w.text(n)
	case "attribute":
		attr := n.ChildByFieldName("attribute")
		if attr == nil {
			return ""
		}
		if obj := n.ChildByFieldName("object"); obj != nil {
			if objName := w.objectName(obj); objName != "" {
				return objName + "." + w.text(attr)
			}
		}
		return w.text(attr)
	case "call":
		// foo().bar() - the receiver has no stable name.
		return ""
	}
	return ""
}

// isExternalCallee reports whether the callee's root identifier was bound by
// an import in this file.
func (w *walker) isExternalCallee(callee string) bool {
	_, ok := w.imports[rootSegment(callee)]
	return ok
}

func rootSegment(dotted string) string {
	if i := strings.Index(dotted, "."); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

func lastSegment(dotted string) string {
	if i := strings.LastIndex(dotted, "."); i >= 0 {
		return dotted[i+1:]
	}
	return dotted
}

// isConstructorName reports whether the final callee segment follows the
// class naming convention.
func isConstructorName(callee string) bool {
	last := lastSegment(callee)
	if last == "" {
		return false
	}
	c := last[0]
	return c >= 'A' && c <= 'Z'
}

// requestRoots are receiver roots whose verb-style methods indicate an
// outbound network request.
var requestRoots = map[string]bool{
	"requests": true,
	"httpx":    true,
	"aiohttp":  true,
	"urllib":   true,
	"http":     true,
	"session":  true,
	"client":   true,
}

var requestVerbs = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true, "request": true,
	"urlopen": true, "fetch": true,
}

// sendVerbs are method names that indicate an outbound message rather than
// a plain call.
var sendVerbs = map[string]bool{
	"send": true, "send_message": true, "publish": true,
	"emit": true, "produce": true, "put_record": true,
}

func isRequestCallee(callee string) bool {
	if !strings.Contains(callee, ".") {
		return false
	}
	return requestRoots[rootSegment(callee)] && requestVerbs[lastSegment(callee)]
}

func isSendCallee(callee string) bool {
	if !strings.Contains(callee, ".") {
		return false
	}
	return sendVerbs[lastSegment(callee)]
}
