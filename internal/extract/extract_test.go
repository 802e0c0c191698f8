package extract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/lang/jslang"
	"github.com/dshills/agentspec/internal/lang/pylang"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/rewrite"
)

func sampleBlock(what string) block.Block {
	return block.Block{
		Narrative: block.Narrative{What: what, Why: "Because.", Guardrails: []string{"Keep | pipes escaped."}},
		Dependencies: facts.Dependencies{
			Calls:   []string{"fetch"},
			Metrics: facts.Metrics{Lines: 3, Complexity: 1, Params: 1},
		},
		History: facts.History{{Date: "2024-05-01", Hash: "abc1234", Subject: "Add load"}},
	}
}

// write documents unit in src with b and saves the result under dir.
func write(t *testing.T, reg *lang.Registry, dir, name, src, unit string, b block.Block) {
	t.Helper()
	path := filepath.Join(dir, name)
	a, ok := reg.ForPath(path)
	require.True(t, ok)
	f, err := a.Parse(path, []byte(src))
	require.NoError(t, err)
	defer f.Close()
	var edits []lang.Edit
	for _, u := range f.Units {
		if u.QualifiedName != unit {
			continue
		}
		slot, err := a.DocSlot(f, u)
		require.NoError(t, err)
		text, err := block.Serialize(b)
		require.NoError(t, err)
		e, err := a.Wrap(f, slot, text)
		require.NoError(t, err)
		edits = append(edits, e)
	}
	require.Len(t, edits, 1)
	out, err := rewrite.Apply([]byte(src), edits)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func setup(t *testing.T) (*Extractor, string) {
	t.Helper()
	reg := lang.NewRegistry(pylang.New(), jslang.NewJavaScript())
	dir := t.TempDir()
	write(t, reg, dir, "a.js", "function load(id) {\n  return fetch(id);\n}\n\nfunction bare() {}\n", "load", sampleBlock("Loads a record."))
	write(t, reg, dir, "b.py", "def f():\n    return 1\n", "f", sampleBlock("Returns one."))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.rb"), []byte("def x; end\n"), 0o644))
	return New(reg, locator.New(reg.Extensions(), nil), nil), dir
}

func TestRunCollectsBlocks(t *testing.T) {
	x, dir := setup(t)
	got, err := x.Run(context.Background(), []string{dir}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "load", got[0].Unit)
	assert.Equal(t, "Loads a record.", got[0].Block.Narrative.What)
	assert.Equal(t, "f", got[1].Unit)
	assert.Equal(t, sampleBlock("Returns one.").Normalize(), *got[1].Block)
}

func TestRunReportsUnreadableBlocks(t *testing.T) {
	reg := lang.NewRegistry(pylang.New())
	dir := t.TempDir()
	src := "def f():\n    \"\"\"\n    ---agentspec\n    what: [unclosed\n    ---/agentspec\n    \"\"\"\n    return 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.py"), []byte(src), 0o644))

	got, err := New(reg, locator.New(reg.Extensions(), nil), nil).Run(context.Background(), []string{dir}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Block)
	assert.NotEmpty(t, got[0].Error)
	assert.Contains(t, RenderMarkdown(got), "**Unreadable block:**")
}

func TestRenderJSON(t *testing.T) {
	x, dir := setup(t)
	got, err := x.Run(context.Background(), []string{dir}, 1)
	require.NoError(t, err)
	data, err := RenderJSON(got)
	require.NoError(t, err)

	var back []map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 2)
	b := back[0]["block"].(map[string]any)
	assert.Equal(t, "Loads a record.", b["what"])
	assert.Contains(t, b, "deps")

	empty, err := RenderJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestRenderMarkdown(t *testing.T) {
	x, dir := setup(t)
	got, err := x.Run(context.Background(), []string{dir}, 1)
	require.NoError(t, err)
	md := RenderMarkdown(got)
	assert.Contains(t, md, "## function `load`")
	assert.Contains(t, md, "**What:** Loads a record.")
	assert.Contains(t, md, "- Keep | pipes escaped.")
	assert.Contains(t, md, "| fetch | - | - | - |")
	assert.Contains(t, md, "- 2024-05-01 `abc1234` Add load")
	assert.True(t, strings.HasPrefix(RenderMarkdown(nil), "# agentspec blocks"))
}

func TestExtractDoesNotWrite(t *testing.T) {
	x, dir := setup(t)
	before, err := os.ReadFile(filepath.Join(dir, "b.py"))
	require.NoError(t, err)
	_, err = x.Run(context.Background(), []string{dir}, 1)
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, "b.py"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
