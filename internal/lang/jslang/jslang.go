// Package jslang is the JavaScript and TypeScript language adapter. Blocks
// are written as their own /** ... */ comment above the declaration.
package jslang

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
)

// Adapter implements lang.Adapter for one grammar of the JavaScript family.
type Adapter struct {
	name     string
	exts     []string
	language func() *sitter.Language
}

// NewJavaScript returns the adapter for JavaScript and JSX.
func NewJavaScript() *Adapter {
	return &Adapter{name: "javascript", exts: []string{".js", ".jsx", ".mjs", ".cjs"}, language: javascript.GetLanguage}
}

// NewTypeScript returns the adapter for TypeScript.
func NewTypeScript() *Adapter {
	return &Adapter{name: "typescript", exts: []string{".ts", ".mts", ".cts"}, language: typescript.GetLanguage}
}

// NewTSX returns the adapter for TypeScript with JSX.
func NewTSX() *Adapter {
	return &Adapter{name: "typescript", exts: []string{".tsx"}, language: tsx.GetLanguage}
}

func (a *Adapter) Language() string     { return a.name }
func (a *Adapter) Extensions() []string { return a.exts }

var declTypes = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"class_declaration":              true,
	"abstract_class_declaration":     true,
	"method_definition":              true,
}

var classTypes = map[string]bool{
	"class_declaration":          true,
	"abstract_class_declaration": true,
	"class":                      true,
}

func isFunctionValue(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

// isUnitNode reports whether n declares a documentable unit.
func isUnitNode(n *sitter.Node) bool {
	if declTypes[n.Type()] {
		return n.ChildByFieldName("name") != nil
	}
	if n.Type() == "variable_declarator" {
		name, value := n.ChildByFieldName("name"), n.ChildByFieldName("value")
		return name != nil && name.Type() == "identifier" && value != nil && isFunctionValue(value)
	}
	return false
}

// Parse parses src and enumerates functions, methods, classes and
// function-valued variable declarations.
func (a *Adapter) Parse(path string, src []byte) (*lang.File, error) {
	tree, err := lang.ParseTree(path, src, a.language())
	if err != nil {
		return nil, err
	}
	f := &lang.File{Path: path, Language: a.name, Src: src, Tree: tree}
	lang.Walk(tree.RootNode(), func(n *sitter.Node) bool {
		if !isUnitNode(n) {
			return true
		}
		u := lang.NewUnit(f, n, anchorOf(n))
		if top := topOf(u); top != u.Anchor {
			u.StartLine = int(top.StartPoint().Row) + 1
			u.StartByte = int(top.StartByte())
			u.Source = string(src[u.StartByte:u.EndByte])
		}
		u.Name = n.ChildByFieldName("name").Content(src)
		u.Kind, u.QualifiedName, u.Header = describe(n, u.Name, src)
		f.Units = append(f.Units, u)
		return true
	})
	sort.SliceStable(f.Units, func(i, j int) bool { return f.Units[i].StartByte < f.Units[j].StartByte })
	return f, nil
}

// anchorOf returns the outermost node of the declaration: the enclosing
// variable statement for a single declarator, and the export statement.
func anchorOf(n *sitter.Node) *sitter.Node {
	a := n
	if n.Type() == "variable_declarator" {
		p := n.Parent()
		if p == nil || declaratorCount(p) != 1 {
			return n
		}
		a = p
	}
	if p := a.Parent(); p != nil && p.Type() == "export_statement" {
		a = p
	}
	return a
}

// leadingDecorators returns the decorators written ahead of a class member,
// top first. The grammar keeps them as siblings in the class body rather
// than children of the member.
func leadingDecorators(n *sitter.Node) []*sitter.Node {
	if p := n.Parent(); p == nil || p.Type() != "class_body" {
		return nil
	}
	var out []*sitter.Node
	for d := n.PrevNamedSibling(); d != nil && d.Type() == "decorator"; d = d.PrevNamedSibling() {
		out = append([]*sitter.Node{d}, out...)
	}
	return out
}

// topOf returns the first node of the unit's text: its first leading
// decorator, or the anchor.
func topOf(u *lang.Unit) *sitter.Node {
	if ds := leadingDecorators(u.Anchor); len(ds) > 0 {
		return ds[0]
	}
	return u.Anchor
}

func declaratorCount(n *sitter.Node) int {
	c := 0
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if n.NamedChild(i).Type() == "variable_declarator" {
			c++
		}
	}
	return c
}

func describe(n *sitter.Node, name string, src []byte) (lang.Kind, string, string) {
	kind := lang.KindFunction
	switch {
	case classTypes[n.Type()]:
		kind = lang.KindClass
	case n.Type() == "method_definition":
		kind = lang.KindMethod
	}
	parts := []string{name}
	header := ""
	for p := n.Parent(); p != nil; p = p.Parent() {
		if !classTypes[p.Type()] && !isUnitNode(p) {
			continue
		}
		pn := p.ChildByFieldName("name")
		if pn == nil {
			continue
		}
		if kind == lang.KindMethod && header == "" && classTypes[p.Type()] {
			if body := p.ChildByFieldName("body"); body != nil {
				header = strings.TrimSpace(string(src[p.StartByte():body.StartByte()]))
			}
		}
		parts = append([]string{pn.Content(src)}, parts...)
	}
	return kind, strings.Join(parts, "."), header
}

// Validate reports whether src parses without syntax errors.
func (a *Adapter) Validate(src []byte) error {
	tree, err := lang.ParseTree("", src, a.language())
	if err != nil {
		return err
	}
	tree.Close()
	return nil
}

// Imports returns ES module imports and top-level require bindings.
// Named imports are recorded as "module:name".
func (a *Adapter) Imports(file *lang.File) []lang.Import {
	var out []lang.Import
	src := file.Src
	root := file.Tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_statement":
			out = append(out, esImports(n, src)...)
		case "lexical_declaration", "variable_declaration":
			out = append(out, requireImports(n, src)...)
		}
	}
	return out
}

func unquote(n *sitter.Node, src []byte) string {
	return strings.Trim(n.Content(src), "'\"`")
}

func esImports(n *sitter.Node, src []byte) []lang.Import {
	source := n.ChildByFieldName("source")
	if source == nil {
		return nil
	}
	module := unquote(source, src)
	var clause *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "import_clause" {
			clause = c
		}
	}
	if clause == nil {
		return []lang.Import{{Symbol: module}}
	}
	var out []lang.Import
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier":
			out = append(out, lang.Import{Symbol: module, Binding: c.Content(src)})
		case "namespace_import":
			if c.NamedChildCount() > 0 {
				out = append(out, lang.Import{Symbol: module, Binding: c.NamedChild(0).Content(src)})
			}
		case "named_imports":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				spec := c.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				name := spec.ChildByFieldName("name").Content(src)
				binding := name
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					binding = alias.Content(src)
				}
				out = append(out, lang.Import{Symbol: module + ":" + name, Binding: binding})
			}
		}
	}
	return out
}

func requireImports(n *sitter.Node, src []byte) []lang.Import {
	var out []lang.Import
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		value, name := d.ChildByFieldName("value"), d.ChildByFieldName("name")
		if value == nil || name == nil || value.Type() != "call_expression" {
			continue
		}
		if fn := value.ChildByFieldName("function"); fn == nil || fn.Content(src) != "require" {
			continue
		}
		args := value.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 || args.NamedChild(0).Type() != "string" {
			continue
		}
		module := unquote(args.NamedChild(0), src)
		switch name.Type() {
		case "identifier":
			out = append(out, lang.Import{Symbol: module, Binding: name.Content(src)})
		case "object_pattern":
			for j := 0; j < int(name.NamedChildCount()); j++ {
				p := name.NamedChild(j)
				if p.Type() == "shorthand_property_identifier_pattern" {
					out = append(out, lang.Import{Symbol: module + ":" + p.Content(src), Binding: p.Content(src)})
				}
			}
		}
	}
	return out
}

var branchTypes = map[string]bool{
	"if_statement":       true,
	"for_statement":      true,
	"for_in_statement":   true,
	"while_statement":    true,
	"do_statement":       true,
	"catch_clause":       true,
	"ternary_expression": true,
	"switch_case":        true,
}

// Syntax walks the unit's subtree, skipping nested units. Decorators are
// recorded as calls ahead of body calls.
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

	for _, d := range decoratorsOf(unit) {
		if d.NamedChildCount() == 0 {
			continue
		}
		name := lang.Text(callee(d.NamedChild(0)), src)
		decorators.Add(name)
		calls.Add(name)
	}

	lang.Walk(unit.Anchor, func(n *sitter.Node) bool {
		if nested[lang.KeyOf(n)] {
			return false
		}
		switch n.Type() {
		case "call_expression":
			calls.Add(lang.Text(n.ChildByFieldName("function"), src))
		case "new_expression":
			calls.Add(lang.Text(n.ChildByFieldName("constructor"), src))
		case "throw_statement":
			if n.NamedChildCount() > 0 {
				raises.Add(lang.Text(callee(n.NamedChild(0)), src))
			}
		case "identifier", "type_identifier":
			s.Identifiers[n.Content(src)] = true
		case "binary_expression":
			if op := n.ChildByFieldName("operator"); op != nil {
				switch op.Type() {
				case "&&", "||", "??":
					s.Branches++
				}
			}
		}
		if branchTypes[n.Type()] {
			s.Branches++
		}
		return true
	})

	s.Calls = calls.Items()
	s.Decorators = decorators.Items()
	s.Raises = raises.Items()
	if fn := functionNode(unit.Node); fn != nil {
		countParams(fn, &s)
	}
	return s
}

func decoratorsOf(unit *lang.Unit) []*sitter.Node {
	out := leadingDecorators(unit.Anchor)
	collect := func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "decorator" {
				out = append(out, c)
			}
		}
	}
	if unit.Anchor.Type() == "export_statement" {
		collect(unit.Anchor)
	}
	collect(unit.Node)
	return out
}

// callee returns the target of a call or construction, or n itself.
func callee(n *sitter.Node) *sitter.Node {
	switch n.Type() {
	case "call_expression":
		if f := n.ChildByFieldName("function"); f != nil {
			return f
		}
	case "new_expression":
		if f := n.ChildByFieldName("constructor"); f != nil {
			return f
		}
	}
	return n
}

func functionNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "variable_declarator" {
		return n.ChildByFieldName("value")
	}
	if classTypes[n.Type()] {
		return nil
	}
	return n
}

func countParams(fn *sitter.Node, s *lang.Syntax) {
	if p := fn.ChildByFieldName("parameter"); p != nil {
		s.Params = 1
	}
	if params := fn.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() == "comment" {
				continue
			}
			s.Params++
			if (p.Type() == "required_parameter" || p.Type() == "optional_parameter") && p.ChildByFieldName("type") != nil {
				s.TypedParams++
			}
		}
	}
	s.TypedReturn = fn.ChildByFieldName("return_type") != nil
}
