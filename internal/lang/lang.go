// Package lang defines the language adapter capability used by the collectors
// and the rewriter, together with the parsed-file model they share.
//
// An Adapter knows how to parse one language family with tree-sitter, how to
// enumerate documentable units, and how that language wraps a documentation
// block (docstring, block comment). Everything above this package is
// language-agnostic.
package lang

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Kind classifies a documentable unit.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
)

// Unit is a SourceUnit: one documentable function, method or class.
// Lines are 1-based and inclusive; bytes are half-open offsets into File.Src.
// The span starts at the first decorator or export keyword that belongs to
// the declaration.
type Unit struct {
	Name          string
	QualifiedName string
	Kind          Kind
	Path          string
	Language      string
	StartLine     int
	EndLine       int
	StartByte     int
	EndByte       int
	Source        string
	// Header is the enclosing class header for methods, empty otherwise.
	Header string

	// Node is the declaration node; Anchor is the outermost node of the
	// declaration (decorators, export statement).
	Node   *sitter.Node
	Anchor *sitter.Node
}

// File is a parsed source file.
type File struct {
	Path     string
	Language string
	Src      []byte
	Units    []*Unit
	Tree     *sitter.Tree
}

// Close releases the syntax tree.
func (f *File) Close() {
	if f != nil && f.Tree != nil {
		f.Tree.Close()
		f.Tree = nil
	}
}

// Contains reports whether inner lies within the byte span of outer.
func Contains(outer, inner *Unit) bool {
	return inner.StartByte >= outer.StartByte && inner.EndByte <= outer.EndByte
}

// InnerBlockEdits returns the edits that strip every agentspec block lying
// inside unit's byte span, the unit's own included, in source order.
// Units whose block cannot be located or stripped are left out.
func InnerBlockEdits(a Adapter, file *File, unit *Unit) []Edit {
	var edits []Edit
	for _, u := range file.Units {
		if !Contains(unit, u) {
			continue
		}
		slot, err := a.DocSlot(file, u)
		if err != nil || slot.Block == nil {
			continue
		}
		e, err := a.Strip(file, slot)
		if err != nil || e.Start < unit.StartByte || e.End > unit.EndByte {
			continue
		}
		edits = append(edits, e)
	}
	return edits
}

// Import is one imported symbol at module scope. Binding is the local name
// the symbol is reachable under, empty for side-effect or wildcard imports.
type Import struct {
	Symbol  string
	Binding string
}

// Syntax is the raw, per-unit syntactic summary an adapter extracts. The
// static collector turns it into DependencyFacts.
type Syntax struct {
	Calls       []string
	Decorators  []string
	Raises      []string
	Identifiers map[string]bool
	Branches    int
	Params      int
	TypedParams int
	TypedReturn bool
}

// Edit replaces Src[Start:End] with Text. Start == End is an insertion.
type Edit struct {
	Start int
	End   int
	Text  string
}

// ParseError reports a file that could not be parsed at all.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrUnsupportedSlot is returned when a unit's documentation cannot be
// rewritten safely in its current form (for example a one-line Python
// function body, or a single-quoted human docstring).
var ErrUnsupportedSlot = errors.New("lang: documentation slot not supported")

// Adapter is the per-language capability.
type Adapter interface {
	// Language returns the language label recorded on files and units.
	Language() string
	// Extensions returns the file extensions handled, with leading dot.
	Extensions() []string
	// Parse parses src and enumerates its units in source order.
	Parse(path string, src []byte) (*File, error)
	// Validate reports whether src parses without syntax errors.
	Validate(src []byte) error
	// Syntax extracts the raw syntactic summary of unit, excluding nested units.
	Syntax(file *File, unit *Unit) Syntax
	// Imports returns module-scope imports in source order.
	Imports(file *File) []Import
	// DocSlot locates the documentation attached to unit and any agentspec
	// block inside it. A non-nil Slot is returned even with an error.
	DocSlot(file *File, unit *Unit) (*Slot, error)
	// Wrap builds the edit that inserts text as a new block, or replaces
	// slot.Block when present. text is block text with markers.
	Wrap(file *File, slot *Slot, text string) (Edit, error)
	// Strip builds the edit that removes slot.Block.
	Strip(file *File, slot *Slot) (Edit, error)
}

// Registry maps file extensions to adapters. It is built once at startup
// and passed explicitly.
type Registry struct {
	byExt map[string]Adapter
}

// NewRegistry returns a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byExt: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds a under each of its extensions, replacing earlier entries.
func (r *Registry) Register(a Adapter) {
	for _, ext := range a.Extensions() {
		r.byExt[strings.ToLower(ext)] = a
	}
}

// ForPath returns the adapter for path's extension.
func (r *Registry) ForPath(path string) (Adapter, bool) {
	a, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return a, ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
