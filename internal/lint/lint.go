// Package lint checks agentspec blocks without rewriting anything: marker
// structure, body schema and staleness of the deterministic sections.
package lint

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/static"
)

// Rule names a check.
type Rule string

const (
	RuleParse        Rule = "parse"
	RuleUnterminated Rule = "unterminated-marker"
	RuleDuplicate    Rule = "duplicate-block"
	RuleSchema       Rule = "schema"
	RuleMalformed    Rule = "malformed-block"
	RuleStaleDeps    Rule = "stale-deps"
	RuleMissingBlock Rule = "missing-block"
)

// Finding is one lint result.
type Finding struct {
	File     string   `json:"file"`
	Unit     string   `json:"unit,omitempty"`
	Line     int      `json:"line,omitempty"`
	Severity Severity `json:"severity"`
	Rule     Rule     `json:"rule"`
	Message  string   `json:"message"`
}

// Report is the lint output document.
type Report struct {
	Files    int       `json:"files"`
	Units    int       `json:"units"`
	Blocks   int       `json:"blocks"`
	Findings []Finding `json:"findings"`

	mu sync.Mutex
}

func (r *Report) add(files, units, blocks int, fs []Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files += files
	r.Units += units
	r.Blocks += blocks
	r.Findings = append(r.Findings, fs...)
}

// Highest returns the most severe finding severity, empty when clean.
func (r *Report) Highest() Severity {
	var h Severity
	for _, f := range r.Findings {
		if SeverityOrdinal(f.Severity) > SeverityOrdinal(h) {
			h = f.Severity
		}
	}
	return h
}

// Counts aggregates findings by severity.
func (r *Report) Counts() (errs, warns, infos int) {
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityError:
			errs++
		case SeverityWarn:
			warns++
		case SeverityInfo:
			infos++
		}
	}
	return
}

// Options configures a lint run.
type Options struct {
	// Stale enables the dependency staleness check.
	Stale bool
	// Missing reports units without a block (INFO).
	Missing         bool
	FileConcurrency int
}

// Linter checks files.
type Linter struct {
	Registry *lang.Registry
	Locator  *locator.Locator
	Static   *static.Collector
	Log      *zap.SugaredLogger
}

// New returns a linter.
func New(reg *lang.Registry, loc *locator.Locator, st *static.Collector, log *zap.SugaredLogger) *Linter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Linter{Registry: reg, Locator: loc, Static: st, Log: log}
}

// Run lints every supported file under paths. Unsupported files are
// ignored. Only discovery failures and cancellation return an error.
func (l *Linter) Run(ctx context.Context, paths []string, opts Options) (*Report, error) {
	files, err := l.Locator.Discover(paths)
	if err != nil {
		return nil, err
	}
	limit := opts.FileConcurrency
	if limit < 1 {
		limit = 1
	}
	rep := &Report{Findings: []Finding{}}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, f := range files {
		if !f.Supported {
			continue
		}
		adapter, ok := l.Registry.ForPath(f.Path)
		if !ok {
			continue
		}
		path := f.Path
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			units, blocks, fs := l.lintFile(adapter, path, opts)
			rep.add(1, units, blocks, fs)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(rep.Findings, func(i, j int) bool {
		a, b := rep.Findings[i], rep.Findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	errs, warns, infos := rep.Counts()
	l.Log.Infow("lint finished", "files", rep.Files, "blocks", rep.Blocks,
		"errors", errs, "warnings", warns, "info", infos)
	return rep, ctx.Err()
}

func (l *Linter) lintFile(adapter lang.Adapter, path string, opts Options) (units, blocks int, out []Finding) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, []Finding{{File: path, Severity: SeverityError, Rule: RuleParse, Message: err.Error()}}
	}
	file, err := adapter.Parse(path, src)
	if err != nil {
		return 0, 0, []Finding{{File: path, Severity: SeverityError, Rule: RuleParse, Message: err.Error()}}
	}
	defer file.Close()

	for _, u := range file.Units {
		fs, n := l.lintUnit(adapter, file, u, opts)
		out = append(out, fs...)
		blocks += n
	}
	return len(file.Units), blocks, out
}

// lintUnit returns the findings for u and the number of blocks it carries.
func (l *Linter) lintUnit(adapter lang.Adapter, file *lang.File, u *lang.Unit, opts Options) ([]Finding, int) {
	finding := func(sev Severity, rule Rule, msg string) Finding {
		return Finding{File: file.Path, Unit: u.QualifiedName, Line: u.StartLine, Severity: sev, Rule: rule, Message: msg}
	}
	var out []Finding

	slot, err := adapter.DocSlot(file, u)
	if slot == nil {
		msg := "documentation slot not found"
		if err != nil {
			msg = err.Error()
		}
		return []Finding{finding(SeverityError, RuleParse, msg)}, 0
	}
	spans, err := slot.Blocks()
	if err != nil {
		rule := RuleParse
		if errors.Is(err, block.ErrUnterminated) {
			rule = RuleUnterminated
		}
		out = append(out, finding(SeverityError, rule, err.Error()))
	}
	if len(spans) == 0 {
		if err == nil && opts.Missing {
			out = append(out, finding(SeverityInfo, RuleMissingBlock, "unit has no agentspec block"))
		}
		return out, 0
	}
	if len(spans) > 1 {
		out = append(out, finding(SeverityError, RuleDuplicate, "unit carries more than one agentspec block"))
	}

	for _, span := range spans {
		problems, err := validateBody(body(span.Text))
		if err != nil {
			out = append(out, finding(SeverityError, RuleSchema, err.Error()))
			continue
		}
		if len(problems) > 0 {
			out = append(out, finding(SeverityError, RuleSchema, strings.Join(problems, "; ")))
			continue
		}
		b, err := block.Parse(span.Text)
		if err != nil {
			out = append(out, finding(SeverityError, RuleMalformed, err.Error()))
			continue
		}
		if !opts.Stale || l.Static == nil {
			continue
		}
		fresh, err := l.Static.Collect(file, u)
		if err != nil {
			l.Log.Debugw("staleness check skipped", "file", file.Path, "unit", u.QualifiedName, "error", err)
			continue
		}
		if !fresh.Equal(b.Dependencies) {
			out = append(out, finding(SeverityWarn, RuleStaleDeps, "deps section differs from the current source; run refresh"))
		}
	}
	return out, len(spans)
}
