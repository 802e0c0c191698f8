package static

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/lang/jslang"
	"github.com/dshills/agentspec/internal/lang/pylang"
)

func testRegistry() *lang.Registry {
	return lang.NewRegistry(pylang.New(), jslang.NewJavaScript(), jslang.NewTypeScript())
}

func parse(t *testing.T, reg *lang.Registry, path, src string) *lang.File {
	t.Helper()
	a, ok := reg.ForPath(path)
	require.True(t, ok, "no adapter for %s", path)
	f, err := a.Parse(path, []byte(src))
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func unitNamed(t *testing.T, f *lang.File, name string) *lang.Unit {
	t.Helper()
	for _, u := range f.Units {
		if u.QualifiedName == name {
			return u
		}
	}
	t.Fatalf("unit %q not found", name)
	return nil
}

func TestCollectPythonScenario(t *testing.T) {
	reg := testRegistry()
	f := parse(t, reg, "mod.py", "import os\n\n\ndef f():\n    g()\n    h()\n")
	deps, err := New(reg, ScopeModule, nil).Collect(f, unitNamed(t, f, "f"))
	require.NoError(t, err)

	assert.Equal(t, []string{"g", "h"}, deps.Calls)
	assert.Equal(t, []string{"os"}, deps.Imports)
	assert.Empty(t, deps.Decorators)
	assert.Empty(t, deps.Raises)
	assert.Equal(t, 3, deps.Metrics.Lines)
	assert.Equal(t, 1, deps.Metrics.Complexity)
}

func TestCollectPythonDecoratorsAndMetrics(t *testing.T) {
	src := `@app.route("/x")
@cached
def handler(req: Request) -> Response:
    if req.ok and req.body:
        return render(req)
    raise ValueError("bad")
`
	reg := testRegistry()
	f := parse(t, reg, "views.py", src)
	u := unitNamed(t, f, "handler")
	assert.Equal(t, 1, u.StartLine, "span starts at the first decorator")

	deps, err := New(reg, ScopeModule, nil).Collect(f, u)
	require.NoError(t, err)

	assert.Equal(t, []string{"app.route", "cached", "render", "ValueError"}, deps.Calls)
	assert.Equal(t, []string{"app.route", "cached"}, deps.Decorators)
	assert.Equal(t, []string{"ValueError"}, deps.Raises)
	assert.Equal(t, facts.Metrics{
		Lines:       6,
		Branches:    2,
		Complexity:  3,
		Params:      1,
		TypedParams: 1,
		TypedReturn: true,
	}, deps.Metrics)
}

func TestCollectNestedFunctionsOwnCalls(t *testing.T) {
	src := `def outer():
    a()

    def inner():
        b()

    inner()
`
	reg := testRegistry()
	f := parse(t, reg, "nest.py", src)
	c := New(reg, ScopeModule, nil)

	outer, err := c.Collect(f, unitNamed(t, f, "outer"))
	require.NoError(t, err)
	inner, err := c.Collect(f, unitNamed(t, f, "outer.inner"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "inner"}, outer.Calls)
	assert.Equal(t, []string{"b"}, inner.Calls)
}

func TestCollectMethodSkipsSelf(t *testing.T) {
	src := `class C:
    def m(self, x, y: int = 1):
        return self.helper(x)
`
	reg := testRegistry()
	f := parse(t, reg, "c.py", src)
	m := unitNamed(t, f, "C.m")
	assert.Equal(t, lang.KindMethod, m.Kind)
	assert.Equal(t, "class C:", m.Header)

	deps, err := New(reg, ScopeModule, nil).Collect(f, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"self.helper"}, deps.Calls)
	assert.Equal(t, 2, deps.Metrics.Params)
	assert.Equal(t, 1, deps.Metrics.TypedParams)
	assert.False(t, deps.Metrics.TypedReturn)
}

func TestImportScope(t *testing.T) {
	src := `import os
import sys as system
from collections import OrderedDict


def f():
    return os.getcwd()
`
	reg := testRegistry()
	f := parse(t, reg, "imp.py", src)
	u := unitNamed(t, f, "f")

	all, err := New(reg, ScopeModule, nil).Collect(f, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"os", "sys", "collections.OrderedDict"}, all.Imports)

	used, err := New(reg, ScopeReferenced, nil).Collect(f, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"os"}, used.Imports)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeModule, s)
	s, err = ParseScope("Referenced")
	require.NoError(t, err)
	assert.Equal(t, ScopeReferenced, s)
	_, err = ParseScope("everything")
	assert.Error(t, err)
}

func TestCollectJavaScript(t *testing.T) {
	src := `import fs from 'fs';
import { join as pjoin } from 'path';

export function load(p) {
  if (!p) throw new Error('missing');
  return fs.readFileSync(pjoin(p, 'x')) || null;
}
`
	reg := testRegistry()
	f := parse(t, reg, "load.js", src)
	u := unitNamed(t, f, "load")
	assert.Equal(t, 4, u.StartLine, "span starts at export")

	deps, err := New(reg, ScopeModule, nil).Collect(f, u)
	require.NoError(t, err)
	assert.Equal(t, []string{"Error", "fs.readFileSync", "pjoin"}, deps.Calls)
	assert.Equal(t, []string{"Error"}, deps.Raises)
	assert.Equal(t, []string{"fs", "path:join"}, deps.Imports)
	assert.Equal(t, 2, deps.Metrics.Branches)
	assert.Equal(t, 1, deps.Metrics.Params)
}

func TestCollectTypeScript(t *testing.T) {
	src := `export const add = (a: number, b?: number): number => a + (b ?? 0);

class Store {
  lookup(key: string): string {
    return this.cache.get(key);
  }
}
`
	reg := testRegistry()
	f := parse(t, reg, "store.ts", src)
	c := New(reg, ScopeModule, nil)

	add, err := c.Collect(f, unitNamed(t, f, "add"))
	require.NoError(t, err)
	assert.Equal(t, facts.Metrics{Lines: 1, Branches: 1, Complexity: 2, Params: 2, TypedParams: 2, TypedReturn: true}, add.Metrics)

	get := unitNamed(t, f, "Store.lookup")
	assert.Equal(t, lang.KindMethod, get.Kind)
	assert.Equal(t, "class Store", get.Header)
	deps, err := c.Collect(f, get)
	require.NoError(t, err)
	assert.Equal(t, []string{"this.cache.get"}, deps.Calls)
}

func TestCollectDeterministic(t *testing.T) {
	src := "import os\n\n\ndef f(a, b):\n    return g(a) or h(b, os.sep)\n"
	reg := testRegistry()
	c := New(reg, ScopeModule, nil)

	var rendered []string
	for i := 0; i < 2; i++ {
		f := parse(t, reg, "d.py", src)
		deps, err := c.Collect(f, unitNamed(t, f, "f"))
		require.NoError(t, err)
		text, err := block.Serialize(block.Block{Dependencies: deps})
		require.NoError(t, err)
		rendered = append(rendered, text)
	}
	assert.Equal(t, rendered[0], rendered[1])
}

func TestLinesIgnoreWrittenBlock(t *testing.T) {
	src := "def f():\n    return 1\n"
	reg := testRegistry()
	c := New(reg, ScopeModule, nil)
	a, _ := reg.ForPath("f.py")

	f := parse(t, reg, "f.py", src)
	u := unitNamed(t, f, "f")
	before, err := c.Collect(f, u)
	require.NoError(t, err)

	text, err := block.Serialize(block.Block{Dependencies: before})
	require.NoError(t, err)
	slot, err := a.DocSlot(f, u)
	require.NoError(t, err)
	e, err := a.Wrap(f, slot, text)
	require.NoError(t, err)
	out := src[:e.Start] + e.Text + src[e.End:]

	g := parse(t, reg, "f.py", out)
	after, err := c.Collect(g, unitNamed(t, g, "f"))
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "facts changed after writing the block: %+v vs %+v", before, after)
}
