package extract

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SourceTree is the parsed representation of one source file. It is state,
// not a throwaway artifact: the extractor owns it for the duration of one
// extraction pass, reads it exactly once, and must Close it when the code
// effects have been emitted. A SourceTree is never shared between concurrent
// extractions of the same file.
type SourceTree struct {
	FilePath string
	Content  []byte
	tree     *sitter.Tree
	closed   bool
}

// ParseSource parses Python source into a SourceTree. The caller owns the
// returned tree and must Close it.
func ParseSource(ctx context.Context, filePath string, content []byte) (*SourceTree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	return &SourceTree{FilePath: filePath, Content: content, tree: tree}, nil
}

// Root returns the root node of the tree.
func (t *SourceTree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text covered by a node.
func (t *SourceTree) Text(n *sitter.Node) string {
	return string(t.Content[n.StartByte():n.EndByte()])
}

// Close releases the underlying tree. Safe to call more than once.
func (t *SourceTree) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.tree.Close()
}
