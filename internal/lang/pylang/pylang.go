// Package pylang is the Python language adapter. Blocks live inside the
// unit's docstring.
package pylang

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
)

const unitQuery = `
(function_definition) @unit
(class_definition) @unit
`

// Adapter implements lang.Adapter for Python.
type Adapter struct{}

// New returns the Python adapter.
func New() *Adapter { return &Adapter{} }

func (*Adapter) Language() string     { return "python" }
func (*Adapter) Extensions() []string { return []string{".py"} }

// Parse parses src and enumerates functions, methods and classes.
func (a *Adapter) Parse(path string, src []byte) (*lang.File, error) {
	tree, err := lang.ParseTree(path, src, python.GetLanguage())
	if err != nil {
		return nil, err
	}
	f := &lang.File{Path: path, Language: a.Language(), Src: src, Tree: tree}
	nodes, err := lang.Query(tree.RootNode(), python.GetLanguage(), unitQuery, "unit")
	if err != nil {
		tree.Close()
		return nil, err
	}
	for _, n := range nodes {
		anchor := n
		if p := n.Parent(); p != nil && p.Type() == "decorated_definition" {
			anchor = p
		}
		u := lang.NewUnit(f, n, anchor)
		u.Name = n.ChildByFieldName("name").Content(src)
		u.Kind, u.QualifiedName, u.Header = describe(n, u.Name, src)
		f.Units = append(f.Units, u)
	}
	sort.SliceStable(f.Units, func(i, j int) bool { return f.Units[i].StartByte < f.Units[j].StartByte })
	return f, nil
}

// describe derives kind, dotted qualified name and, for methods, the
// enclosing class header.
func describe(n *sitter.Node, name string, src []byte) (lang.Kind, string, string) {
	kind := lang.KindFunction
	if n.Type() == "class_definition" {
		kind = lang.KindClass
	}
	parts := []string{name}
	header := ""
	first := true
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() != "class_definition" && p.Type() != "function_definition" {
			continue
		}
		if first && p.Type() == "class_definition" && kind == lang.KindFunction {
			kind = lang.KindMethod
			if body := p.ChildByFieldName("body"); body != nil {
				header = strings.TrimSpace(string(src[p.StartByte():body.StartByte()]))
			}
		}
		first = false
		parts = append([]string{p.ChildByFieldName("name").Content(src)}, parts...)
	}
	return kind, strings.Join(parts, "."), header
}

// Validate reports whether src is syntactically valid Python.
func (a *Adapter) Validate(src []byte) error {
	tree, err := lang.ParseTree("", src, python.GetLanguage())
	if err != nil {
		return err
	}
	tree.Close()
	return nil
}

// Imports returns the imports bound at module scope, including those nested
// in top-level if/try blocks.
func (a *Adapter) Imports(file *lang.File) []lang.Import {
	var out []lang.Import
	src := file.Src
	lang.Walk(file.Tree.RootNode(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "function_definition", "class_definition":
			return false
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				out = append(out, importName(n.NamedChild(i), "", src))
			}
			return false
		case "import_from_statement":
			module := n.ChildByFieldName("module_name")
			prefix := module.Content(src)
			if !strings.HasSuffix(prefix, ".") {
				prefix += "."
			}
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				if lang.KeyOf(c) == lang.KeyOf(module) || c.Type() == "comment" {
					continue
				}
				if c.Type() == "wildcard_import" {
					out = append(out, lang.Import{Symbol: prefix + "*"})
					continue
				}
				out = append(out, importName(c, prefix, src))
			}
			return false
		case "future_import_statement":
			return false
		}
		return true
	})
	return out
}

func importName(n *sitter.Node, prefix string, src []byte) lang.Import {
	if n.Type() == "aliased_import" {
		return lang.Import{
			Symbol:  prefix + n.ChildByFieldName("name").Content(src),
			Binding: n.ChildByFieldName("alias").Content(src),
		}
	}
	name := n.Content(src)
	binding := name
	if prefix == "" {
		// "import os.path" binds "os".
		binding, _, _ = strings.Cut(name, ".")
	}
	return lang.Import{Symbol: prefix + name, Binding: binding}
}

var branchTypes = map[string]bool{
	"if_statement":           true,
	"elif_clause":            true,
	"for_statement":          true,
	"while_statement":        true,
	"except_clause":          true,
	"conditional_expression": true,
	"boolean_operator":       true,
	"case_clause":            true,
	"for_in_clause":          true,
	"if_clause":              true,
}

// Syntax walks the unit's subtree. Nested units are skipped so that each
// unit reports its own calls; decorators are recorded before body calls.
func (a *Adapter) Syntax(file *lang.File, unit *lang.Unit) lang.Syntax {
	src := file.Src
	nested := make(map[lang.Key]bool)
	for _, u := range file.Units {
		if u != unit {
			nested[lang.KeyOf(u.Node)] = true
		}
	}
	var calls, decorators, raises facts.OrderedSet
	s := lang.Syntax{Identifiers: make(map[string]bool)}

	visit := func(n *sitter.Node) bool {
		if nested[lang.KeyOf(n)] {
			return false
		}
		if n.Type() == "decorated_definition" {
			if def := n.ChildByFieldName("definition"); def != nil && nested[lang.KeyOf(def)] {
				return false
			}
		}
		switch n.Type() {
		case "call":
			calls.Add(lang.Text(n.ChildByFieldName("function"), src))
		case "raise_statement":
			if n.NamedChildCount() > 0 {
				raises.Add(lang.Text(callee(n.NamedChild(0)), src))
			}
		case "identifier":
			s.Identifiers[n.Content(src)] = true
		}
		if branchTypes[n.Type()] {
			s.Branches++
		}
		return true
	}

	if unit.Anchor.Type() == "decorated_definition" {
		for i := 0; i < int(unit.Anchor.NamedChildCount()); i++ {
			d := unit.Anchor.NamedChild(i)
			if d.Type() != "decorator" || d.NamedChildCount() == 0 {
				continue
			}
			name := lang.Text(callee(d.NamedChild(0)), src)
			decorators.Add(name)
			calls.Add(name)
			lang.Walk(d, visit)
		}
	}
	lang.Walk(unit.Node, visit)

	s.Calls = calls.Items()
	s.Decorators = decorators.Items()
	s.Raises = raises.Items()
	if unit.Node.Type() == "function_definition" {
		countParams(unit, src, &s)
	}
	return s
}

// callee returns the function of a call expression, or n itself.
func callee(n *sitter.Node) *sitter.Node {
	if n.Type() == "call" {
		if f := n.ChildByFieldName("function"); f != nil {
			return f
		}
	}
	return n
}

func countParams(unit *lang.Unit, src []byte, s *lang.Syntax) {
	params := unit.Node.ChildByFieldName("parameters")
	if params == nil {
		return
	}
	seen := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "comment", "keyword_separator", "positional_separator":
			continue
		}
		seen++
		if seen == 1 && unit.Kind == lang.KindMethod {
			if name := paramName(p, src); name == "self" || name == "cls" {
				continue
			}
		}
		s.Params++
		if p.Type() == "typed_parameter" || p.Type() == "typed_default_parameter" {
			s.TypedParams++
		}
	}
	s.TypedReturn = unit.Node.ChildByFieldName("return_type") != nil
}

func paramName(p *sitter.Node, src []byte) string {
	if p.Type() == "identifier" {
		return p.Content(src)
	}
	if n := p.ChildByFieldName("name"); n != nil {
		return n.Content(src)
	}
	if p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
		return p.NamedChild(0).Content(src)
	}
	return ""
}

// docstring returns the string node of the unit's docstring, if any.
func docstring(def *sitter.Node) *sitter.Node {
	first := firstStatement(def)
	if first == nil || first.Type() != "expression_statement" || first.NamedChildCount() != 1 {
		return nil
	}
	if s := first.NamedChild(0); s.Type() == "string" {
		return s
	}
	return nil
}

func firstStatement(def *sitter.Node) *sitter.Node {
	body := def.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		if c := body.NamedChild(i); c.Type() != "comment" {
			return c
		}
	}
	return nil
}

func statementCount(def *sitter.Node) int {
	body := def.ChildByFieldName("body")
	if body == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(body.NamedChildCount()); i++ {
		if body.NamedChild(i).Type() != "comment" {
			n++
		}
	}
	return n
}

// DocSlot returns the unit's docstring as the only container.
func (a *Adapter) DocSlot(file *lang.File, unit *lang.Unit) (*lang.Slot, error) {
	slot := &lang.Slot{Unit: unit}
	ds := docstring(unit.Node)
	if ds == nil {
		return slot, nil
	}
	lit, ok := parseLiteral(ds.Content(file.Src))
	if !ok {
		return slot, nil
	}
	start, end := int(ds.StartByte()), int(ds.EndByte())
	unwrap := func(raw string) (string, string) {
		if lit.raw {
			return "", raw
		}
		return "", unescape(raw)
	}
	c := lang.NewContainer(file.Src, start, end, start+lit.open(), end-len(lit.quote), unwrap)
	slot.Containers = append(slot.Containers, c)
	return slot, slot.FindBlock()
}

// Wrap replaces the existing block, appends to a human docstring, or
// inserts a new docstring as the first body statement.
func (a *Adapter) Wrap(file *lang.File, slot *lang.Slot, text string) (lang.Edit, error) {
	src := file.Src
	if slot.Block != nil {
		lit, _ := parseLiteral(string(src[slot.Block.Container.Start:slot.Block.Container.End]))
		esc, err := escaperFor(lit, text)
		if err != nil {
			return lang.Edit{}, err
		}
		return lang.ReplaceBlock(slot.Block, text, esc), nil
	}
	if len(slot.Containers) > 0 {
		return appendToDocstring(src, slot.Containers[0], text)
	}
	return insertDocstring(src, slot.Unit, text)
}

func insertDocstring(src []byte, unit *lang.Unit, text string) (lang.Edit, error) {
	first := firstStatement(unit.Node)
	if first == nil {
		return lang.Edit{}, fmt.Errorf("pylang: %s: %w", unit.QualifiedName, lang.ErrUnsupportedSlot)
	}
	lineStart := lang.LineStart(src, int(first.StartByte()))
	if !lang.OnlySpace(src, lineStart, int(first.StartByte())) {
		return lang.Edit{}, fmt.Errorf("pylang: %s: body shares a line with the signature: %w", unit.QualifiedName, lang.ErrUnsupportedSlot)
	}
	indent := string(src[lineStart:first.StartByte()])
	nl := lang.Newline(src)
	lines := lang.WrapLines(text, indent, escape)
	doc := indent + `"""` + nl + strings.Join(lines, nl) + nl + indent + `"""` + nl
	return lang.Edit{Start: lineStart, End: lineStart, Text: doc}, nil
}

func appendToDocstring(src []byte, c *lang.Container, text string) (lang.Edit, error) {
	lit, _ := parseLiteral(string(src[c.Start:c.End]))
	if len(lit.quote) != 3 {
		return lang.Edit{}, fmt.Errorf("pylang: single-quoted docstring: %w", lang.ErrUnsupportedSlot)
	}
	if !lang.OnlySpace(src, lang.LineStart(src, c.Start), c.Start) {
		return lang.Edit{}, fmt.Errorf("pylang: docstring shares a line with the signature: %w", lang.ErrUnsupportedSlot)
	}
	esc, err := escaperFor(lit, text)
	if err != nil {
		return lang.Edit{}, err
	}
	indent := lang.Indent(src, c.Start)
	nl := c.Newline
	body := strings.Join(lang.WrapLines(text, indent, esc), nl)
	last := len(c.Lines) - 1
	if last > 0 && strings.TrimSpace(c.Lines[last]) == "" {
		// Closing quotes on their own line.
		return lang.Edit{Start: c.LineStart[last], End: c.LineStart[last], Text: nl + body + nl}, nil
	}
	closeAt := c.End - len(lit.quote)
	return lang.Edit{Start: closeAt, End: closeAt, Text: nl + nl + body + nl + indent}, nil
}

// Strip removes the block. A docstring holding nothing but the block is
// removed entirely unless it is the only statement of the body.
func (a *Adapter) Strip(file *lang.File, slot *lang.Slot) (lang.Edit, error) {
	b := slot.Block
	if b == nil {
		return lang.Edit{}, fmt.Errorf("pylang: %s: no block to strip", slot.Unit.QualifiedName)
	}
	src := file.Src
	if b.Whole && statementCount(slot.Unit.Node) > 1 {
		if ds := docstring(slot.Unit.Node); ds != nil {
			stmt := ds.Parent()
			start := lang.LineStart(src, int(stmt.StartByte()))
			end := lang.LineEnd(src, int(stmt.EndByte()))
			if lang.OnlySpace(src, start, int(stmt.StartByte())) && lang.OnlySpace(src, int(stmt.EndByte()), end) {
				return lang.Edit{Start: start, End: end}, nil
			}
		}
	}
	return lang.RemoveBlockLines(b), nil
}
