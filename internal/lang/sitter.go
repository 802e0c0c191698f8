package lang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParseTree parses src with language and fails when the tree contains
// syntax errors.
func ParseTree(path string, src []byte, language *sitter.Language) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		tree.Close()
		return nil, &ParseError{Path: path, Line: line, Err: fmt.Errorf("syntax error")}
	}
	return tree, nil
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && c.HasError() {
			return firstErrorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// Key identifies a node within one tree.
type Key struct {
	Start, End uint32
	Type       string
}

// KeyOf returns the key of n.
func KeyOf(n *sitter.Node) Key {
	return Key{Start: n.StartByte(), End: n.EndByte(), Type: n.Type()}
}

// Walk visits n and its descendants depth-first in source order. Returning
// false from visit skips the node's children.
func Walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), visit)
	}
}

// Text returns the source text of n with runs of whitespace collapsed to a
// single space.
func Text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return strings.Join(strings.Fields(n.Content(src)), " ")
}

// Query runs pattern over root and returns the nodes captured under name,
// in match order.
func Query(root *sitter.Node, language *sitter.Language, pattern, name string) ([]*sitter.Node, error) {
	q, err := sitter.NewQuery([]byte(pattern), language)
	if err != nil {
		return nil, fmt.Errorf("lang: query: %w", err)
	}
	defer q.Close()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var out []*sitter.Node
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			if q.CaptureNameForId(c.Index) == name {
				out = append(out, c.Node)
			}
		}
	}
	return out, nil
}

// NewUnit fills the positional fields of a unit from its anchor node.
func NewUnit(file *File, node, anchor *sitter.Node) *Unit {
	return &Unit{
		Path:      file.Path,
		Language:  file.Language,
		StartLine: int(anchor.StartPoint().Row) + 1,
		EndLine:   int(anchor.EndPoint().Row) + 1,
		StartByte: int(anchor.StartByte()),
		EndByte:   int(anchor.EndByte()),
		Source:    anchor.Content(file.Src),
		Node:      node,
		Anchor:    anchor,
	}
}
