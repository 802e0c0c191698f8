// Package static computes DependencyFacts for source units from their syntax
// trees. It never consults version control or a language model.
package static

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
)

// ImportScope selects how module imports are attributed to units.
type ImportScope string

const (
	// ScopeModule attributes every module import to every unit.
	ScopeModule ImportScope = "module"
	// ScopeReferenced keeps only imports whose local binding is used as an
	// identifier inside the unit.
	ScopeReferenced ImportScope = "referenced"
)

// ParseScope converts a configuration value to an ImportScope.
func ParseScope(s string) (ImportScope, error) {
	switch ImportScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeModule:
		return ScopeModule, nil
	case ScopeReferenced:
		return ScopeReferenced, nil
	}
	return "", fmt.Errorf("static: unknown import scope %q (want module or referenced)", s)
}

// Collector extracts dependency facts through the registered adapters.
type Collector struct {
	Registry *lang.Registry
	Scope    ImportScope
	Log      *zap.SugaredLogger
}

// New returns a collector using reg.
func New(reg *lang.Registry, scope ImportScope, log *zap.SugaredLogger) *Collector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if scope == "" {
		scope = ScopeModule
	}
	return &Collector{Registry: reg, Scope: scope, Log: log}
}

// Collect returns the dependency facts of unit. The file is already parsed,
// so failures inside the walk degrade to the facts gathered so far.
func (c *Collector) Collect(file *lang.File, unit *lang.Unit) (deps facts.Dependencies, err error) {
	adapter, ok := c.Registry.ForPath(file.Path)
	if !ok {
		return facts.Dependencies{}.Normalize(), fmt.Errorf("static: no adapter for %s", file.Path)
	}
	defer func() {
		if r := recover(); r != nil {
			c.Log.Debugw("partial dependency facts", "file", file.Path, "unit", unit.QualifiedName, "panic", fmt.Sprint(r))
			deps = deps.Normalize()
			err = nil
		}
	}()

	syn := adapter.Syntax(file, unit)
	deps.Calls = syn.Calls
	deps.Decorators = syn.Decorators
	deps.Raises = syn.Raises

	var imports facts.OrderedSet
	for _, imp := range adapter.Imports(file) {
		if c.Scope == ScopeReferenced && (imp.Binding == "" || !syn.Identifiers[imp.Binding]) {
			continue
		}
		imports.Add(imp.Symbol)
	}
	deps.Imports = imports.Items()

	deps.Metrics = facts.Metrics{
		Lines:       c.lines(adapter, file, unit),
		Branches:    syn.Branches,
		Complexity:  syn.Branches + 1,
		Params:      syn.Params,
		TypedParams: syn.TypedParams,
		TypedReturn: syn.TypedReturn,
	}
	return deps.Normalize(), nil
}

// lines counts the unit's lines, leaving out agentspec blocks inside its
// span so that writing a block does not change the facts it records.
func (c *Collector) lines(adapter lang.Adapter, file *lang.File, unit *lang.Unit) int {
	n := unit.EndLine - unit.StartLine + 1
	for _, e := range lang.InnerBlockEdits(adapter, file, unit) {
		n -= strings.Count(string(file.Src[e.Start:e.End]), "\n") - strings.Count(e.Text, "\n")
	}
	return n
}
