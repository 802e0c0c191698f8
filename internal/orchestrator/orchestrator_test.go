package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/history"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/lang/jslang"
	"github.com/dshills/agentspec/internal/lang/pylang"
	"github.com/dshills/agentspec/internal/llm"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/metrics"
	"github.com/dshills/agentspec/internal/narrative"
	"github.com/dshills/agentspec/internal/report"
	"github.com/dshills/agentspec/internal/rewrite"
	"github.com/dshills/agentspec/internal/static"
)

const scenario = `import os


def f():
    g()
    h()


def g():
    return os.getcwd()


def h():
    pass
`

var nameRe = regexp.MustCompile(`(?m)^Name: (.+)$`)

// fakeModel answers every unit with a narrative naming it. failFor lists
// units whose requests fail with a non-retryable provider error.
type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	failFor map[string]bool
}

func (m *fakeModel) Complete(_ context.Context, _, user string, _ int, _ float64) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, user)
	m.mu.Unlock()
	name := "unknown"
	if mm := nameRe.FindStringSubmatch(user); mm != nil {
		name = mm[1]
	}
	if m.failFor[name] || m.failFor["*"] {
		return "", &llm.GenerationError{Provider: "fake", StatusCode: 500, Err: errors.New("boom")}
	}
	return fmt.Sprintf(`{"what": "Documents %s.", "why": "Needed by callers.", "guardrails": ["Keep %s pure."]}`, name, name), nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func registry() *lang.Registry {
	return lang.NewRegistry(pylang.New(), jslang.NewJavaScript(), jslang.NewTypeScript(), jslang.NewTSX())
}

func build(reg *lang.Registry, model llm.Provider) *Orchestrator {
	c := Components{
		Registry: reg,
		Locator:  locator.New(reg.Extensions(), nil),
		Static:   static.New(reg, static.ScopeModule, nil),
		History:  history.NewCollector(history.CLI{}, 2, nil),
		Metrics:  metrics.NewRegistry(),
	}
	if model != nil {
		c.Narrative = narrative.New(model, narrative.Options{})
	}
	return New(c)
}

func writeSource(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func run(t *testing.T, o *Orchestrator, path string, opts Options) *report.RunReport {
	t.Helper()
	if opts.FileConcurrency == 0 {
		opts.FileConcurrency = 2
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = 3
	}
	rep, err := o.Run(context.Background(), []string{path}, opts)
	require.NoError(t, err)
	return rep
}

// blocks parses path and returns each unit's block keyed by qualified name.
func blocks(t *testing.T, path string) map[string]block.Block {
	t.Helper()
	reg := registry()
	a, ok := reg.ForPath(path)
	require.True(t, ok)
	f, err := a.Parse(path, []byte(read(t, path)))
	require.NoError(t, err)
	defer f.Close()
	out := make(map[string]block.Block)
	for _, u := range f.Units {
		_, span, err := rewrite.Locate(a, f, u)
		require.NoError(t, err)
		if span == nil {
			continue
		}
		b, err := block.Parse(span.Text)
		require.NoError(t, err)
		out[u.QualifiedName] = b
	}
	return out
}

func outcomes(rep *report.RunReport) map[string]report.Outcome {
	out := make(map[string]report.Outcome)
	for _, e := range rep.Entries {
		out[e.Unit] = e.Outcome
	}
	return out
}

func TestGenerateScenario(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	model := &fakeModel{}
	rep := run(t, build(registry(), model), path, Options{Mode: ModeGenerate})

	assert.Equal(t, report.Summary{Processed: 3}, rep.Summary)
	got := blocks(t, path)
	require.Len(t, got, 3)

	f := got["f"]
	assert.Equal(t, "Documents f.", f.Narrative.What)
	assert.Equal(t, []string{"g", "h"}, f.Dependencies.Calls)
	assert.Equal(t, []string{"os"}, f.Dependencies.Imports)
	assert.Equal(t, []string{"os.getcwd"}, got["g"].Dependencies.Calls)
	assert.Equal(t, []string{}, got["h"].Dependencies.Calls)
	assert.Empty(t, f.History, "no repository, no history")
	assert.Equal(t, 3, model.calls())
}

func TestGenerateSkipsExistingBlocks(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	model := &fakeModel{}
	o := build(registry(), model)
	run(t, o, path, Options{Mode: ModeGenerate})
	first := read(t, path)

	rep := run(t, o, path, Options{Mode: ModeGenerate})
	assert.Equal(t, first, read(t, path))
	assert.Equal(t, 3, rep.Summary.Skipped)
	assert.Equal(t, 3, model.calls(), "skipped units must not reach the model")
}

func TestUpdateIsIdempotent(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	o := build(registry(), &fakeModel{})
	run(t, o, path, Options{Mode: ModeGenerate})

	rep := run(t, o, path, Options{Mode: ModeUpdate})
	assert.Equal(t, report.OutcomeUpdated, outcomes(rep)["g"])
	once := read(t, path)
	run(t, o, path, Options{Mode: ModeUpdate})
	assert.Equal(t, once, read(t, path))
	assert.Equal(t, 3, strings.Count(once, block.StartMarker))
}

func TestPromptsNeverCarryFacts(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	o := build(registry(), &fakeModel{})
	run(t, o, path, Options{Mode: ModeGenerate})

	model := &fakeModel{}
	run(t, build(registry(), model), path, Options{Mode: ModeUpdate})
	require.Equal(t, 3, model.calls())
	for _, p := range model.prompts {
		for _, leak := range []string{block.StartMarker, "deps:", "calls:", "imports:", "history:", "metrics:"} {
			assert.NotContains(t, p, leak)
		}
	}
}

func TestNestedBlocksStayOutOfClassPrompt(t *testing.T) {
	src := "class Cache:\n    def lookup(self, key):\n        return self.items[key]\n"
	path := writeSource(t, "c.py", src)
	run(t, build(registry(), &fakeModel{}), path, Options{Mode: ModeGenerate})

	model := &fakeModel{}
	run(t, build(registry(), model), path, Options{Mode: ModeUpdate})
	for _, p := range model.prompts {
		assert.NotContains(t, p, block.StartMarker)
		if strings.Contains(p, "Name: Cache.lookup") {
			assert.Contains(t, p, "Enclosing class:\nclass Cache:")
		}
	}
}

func TestFailingProviderLeavesFileUntouched(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	rep := run(t, build(registry(), &fakeModel{failFor: map[string]bool{"*": true}}), path, Options{Mode: ModeGenerate})

	assert.Equal(t, scenario, read(t, path))
	assert.Equal(t, 3, rep.Summary.Failed)
	for _, e := range rep.Entries {
		assert.Contains(t, e.Reason, "boom")
	}
}

func TestPartialFailureKeepsOtherUnits(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	rep := run(t, build(registry(), &fakeModel{failFor: map[string]bool{"g": true}}), path, Options{Mode: ModeGenerate})

	got := outcomes(rep)
	assert.Equal(t, report.OutcomeFailed, got["g"])
	assert.Equal(t, report.OutcomeInserted, got["f"])
	assert.Equal(t, report.OutcomeInserted, got["h"])
	b := blocks(t, path)
	assert.Contains(t, b, "f")
	assert.NotContains(t, b, "g")
}

// brokenValidator rejects every rewritten file.
type brokenValidator struct{ lang.Adapter }

func (brokenValidator) Validate([]byte) error { return errors.New("injected syntax error") }

func TestInvariantViolationFailsWholeBatch(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	reg := lang.NewRegistry(brokenValidator{pylang.New()})
	rep := run(t, build(reg, &fakeModel{}), path, Options{Mode: ModeGenerate})

	assert.Equal(t, scenario, read(t, path))
	assert.Equal(t, 3, rep.Summary.Failed)
	for _, e := range rep.Entries {
		assert.Contains(t, e.Reason, "batch rejected")
	}
}

func TestStripRestoresSource(t *testing.T) {
	src := scenario + "\n\ndef k():\n    \"\"\"Human docs.\n\n    Kept.\n    \"\"\"\n    return 1\n"
	path := writeSource(t, "m.py", src)
	run(t, build(registry(), &fakeModel{}), path, Options{Mode: ModeGenerate})
	require.NotEqual(t, src, read(t, path))

	rep := run(t, build(registry(), nil), path, Options{Mode: ModeStrip})
	assert.Equal(t, src, read(t, path))
	assert.Equal(t, 4, rep.Summary.Processed)
	for _, e := range rep.Entries {
		assert.Equal(t, report.OutcomeRemoved, e.Outcome, e.Unit)
	}

	rep = run(t, build(registry(), nil), path, Options{Mode: ModeStrip})
	assert.Equal(t, 4, rep.Summary.Skipped)
	assert.Equal(t, src, read(t, path))
}

func TestRefreshKeepsNarrative(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	run(t, build(registry(), &fakeModel{}), path, Options{Mode: ModeGenerate})

	rep := run(t, build(registry(), nil), path, Options{Mode: ModeRefresh})
	assert.Equal(t, 3, rep.Summary.Skipped, "fresh facts equal recorded facts")

	changed := strings.Replace(read(t, path), "return os.getcwd()", "os.chdir('/')\n    return os.getcwd()", 1)
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	rep = run(t, build(registry(), nil), path, Options{Mode: ModeRefresh})
	assert.Equal(t, report.OutcomeRefreshed, outcomes(rep)["g"])
	g := blocks(t, path)["g"]
	assert.Equal(t, "Documents g.", g.Narrative.What)
	assert.Equal(t, []string{"os.chdir", "os.getcwd"}, g.Dependencies.Calls)
}

func TestDryRunWritesNothing(t *testing.T) {
	path := writeSource(t, "m.py", scenario)
	rep := run(t, build(registry(), &fakeModel{}), path, Options{Mode: ModeGenerate, DryRun: true})
	assert.Equal(t, scenario, read(t, path))
	assert.Equal(t, 3, rep.Summary.Processed)
	assert.True(t, rep.DryRun)
}

func TestUnsupportedFilesAndSlots(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rb"), []byte("def a; end\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("def one(): return 1\n"), 0o644))

	model := &fakeModel{}
	rep := run(t, build(registry(), model), dir, Options{Mode: ModeGenerate})
	assert.Equal(t, 2, rep.Summary.Unsupported)
	assert.Equal(t, 0, rep.Summary.Failed)
	assert.Equal(t, 0, model.calls())
}

func TestJavaScriptAndTypeScript(t *testing.T) {
	dir := t.TempDir()
	js := "export function load(id) {\n  return fetch(id);\n}\n"
	ts := "export class Store {\n  get(key: string): number {\n    return this.items[key];\n  }\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.js"), []byte(js), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte(ts), 0o644))

	o := build(registry(), &fakeModel{})
	rep := run(t, o, dir, Options{Mode: ModeGenerate})
	assert.Equal(t, 3, rep.Summary.Processed)
	assert.Equal(t, []string{"fetch"}, blocks(t, filepath.Join(dir, "a.js"))["load"].Dependencies.Calls)

	run(t, build(registry(), nil), dir, Options{Mode: ModeStrip})
	assert.Equal(t, js, read(t, filepath.Join(dir, "a.js")))
	assert.Equal(t, ts, read(t, filepath.Join(dir, "b.ts")))
}

func TestDiscoveryErrorAborts(t *testing.T) {
	_, err := build(registry(), &fakeModel{}).Run(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, Options{Mode: ModeGenerate})
	var de *locator.DiscoveryError
	assert.True(t, errors.As(err, &de), "got %v", err)
}

func TestGenerateRequiresNarrative(t *testing.T) {
	_, err := build(registry(), nil).Run(context.Background(), []string{t.TempDir()}, Options{Mode: ModeGenerate})
	assert.Error(t, err)
	_, err = ParseMode("explode")
	assert.Error(t, err)
}
