// Package narrative asks a language model for the prose sections of a
// documentation block. It sees only raw source text: deterministic facts are
// never part of a prompt and this package cannot reach them.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/agentspec/internal/llm"
)

// ErrSchema is returned when the model output fails schema validation after
// the corrective retry.
var ErrSchema = errors.New("narrative: model output failed schema validation")

// Request describes one unit to document.
type Request struct {
	Source   string // literal source text of the unit
	Language string
	Kind     string // function, method or class
	Name     string // qualified name
	Header   string // enclosing class header for methods
	Style    string
}

// Record holds the narrative sections of a block.
type Record struct {
	What          string   `json:"what"`
	Why           string   `json:"why"`
	Guardrails    []string `json:"guardrails"`
	ChangeSummary string   `json:"-"`
}

// Options configures a Generator.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Concurrency bounds in-flight model requests across all files.
	Concurrency int
	Log         *zap.SugaredLogger
}

// Generator produces narrative records with a Provider.
type Generator struct {
	provider llm.Provider
	opts     Options
	sem      *semaphore.Weighted
}

// New returns a Generator backed by p.
func New(p llm.Provider, opts Options) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Generator{provider: p, opts: opts, sem: semaphore.NewWeighted(int64(opts.Concurrency))}
}

// Generate returns the narrative for req. Provider failures are returned
// unchanged; output that fails validation twice yields ErrSchema.
func (g *Generator) Generate(ctx context.Context, req Request) (Record, error) {
	style, err := LoadStyle(req.Style)
	if err != nil {
		return Record{}, err
	}
	schema, err := recordSchemaFor(style)
	if err != nil {
		return Record{}, err
	}
	system := buildSystemPrompt(style)
	user := buildUserPrompt(req)

	var rec Record
	if err := g.complete(ctx, req.Name, system, user, func(raw string) []string {
		rec = Record{}
		return decode(raw, schema, &rec)
	}); err != nil {
		return Record{}, err
	}
	rec.What = strings.TrimSpace(rec.What)
	rec.Why = strings.TrimSpace(rec.Why)
	for i, s := range rec.Guardrails {
		rec.Guardrails[i] = strings.TrimSpace(s)
	}
	if rec.Guardrails == nil {
		rec.Guardrails = []string{}
	}
	return rec, nil
}

// SummarizeChanges condenses commit diffs into one change summary. The
// prompt carries only the diff text. No diffs yields an empty summary
// without a model call.
func (g *Generator) SummarizeChanges(ctx context.Context, diffs []string) (string, error) {
	var nonEmpty []string
	for _, d := range diffs {
		if strings.TrimSpace(d) != "" {
			nonEmpty = append(nonEmpty, d)
		}
	}
	if len(nonEmpty) == 0 {
		return "", nil
	}
	schema, err := compiled("summary", summarySchema)
	if err != nil {
		return "", err
	}
	var out struct {
		ChangeSummary string `json:"change_summary"`
	}
	if err := g.complete(ctx, "change summary", summarySystemPrompt, buildSummaryPrompt(nonEmpty), func(raw string) []string {
		out.ChangeSummary = ""
		return decode(raw, schema, &out)
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.ChangeSummary), nil
}

// complete sends the prompt and hands the response to check. When check
// reports problems, exactly one repair request is made with the previous
// response and the problems appended.
func (g *Generator) complete(ctx context.Context, name, system, user string, check func(raw string) []string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("narrative: %s: %w", name, err)
	}
	defer g.sem.Release(1)

	raw, err := g.provider.Complete(ctx, system, user, g.opts.MaxTokens, g.opts.Temperature)
	if err != nil {
		return fmt.Errorf("narrative: %s: %w", name, err)
	}
	problems := check(raw)
	if len(problems) == 0 {
		return nil
	}
	g.opts.Log.Debugw("narrative response invalid, repairing", "unit", name, "errors", problems)

	raw, err = g.provider.Complete(ctx, system, buildRepairPrompt(user, raw, problems), g.opts.MaxTokens, g.opts.Temperature)
	if err != nil {
		return fmt.Errorf("narrative: %s: repair: %w", name, err)
	}
	if problems = check(raw); len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrSchema, name, strings.Join(problems, "; "))
	}
	return nil
}
