// Package orchestrator drives a run: discovery, per-unit fact collection and
// narrative generation, block assembly, and one verified rewrite per file.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/history"
	"github.com/dshills/agentspec/internal/inject"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/metrics"
	"github.com/dshills/agentspec/internal/narrative"
	"github.com/dshills/agentspec/internal/report"
	"github.com/dshills/agentspec/internal/rewrite"
	"github.com/dshills/agentspec/internal/static"
)

// Mode selects what a run does to blocks.
type Mode string

const (
	// ModeGenerate writes blocks for units without a valid one.
	ModeGenerate Mode = "generate"
	// ModeUpdate regenerates every block.
	ModeUpdate Mode = "update"
	// ModeStrip removes blocks. No collectors or model calls.
	ModeStrip Mode = "strip"
	// ModeRefresh re-injects deterministic sections into existing blocks and
	// keeps their narrative. No model calls.
	ModeRefresh Mode = "refresh"
)

// ParseMode converts a command name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeGenerate, ModeUpdate, ModeStrip, ModeRefresh:
		return m, nil
	}
	return "", fmt.Errorf("orchestrator: unknown mode %q", s)
}

// NeedsNarrative reports whether the mode calls the model.
func (m Mode) NeedsNarrative() bool { return m == ModeGenerate || m == ModeUpdate }

// Options configures one run.
type Options struct {
	Mode             Mode
	DryRun           bool
	Style            string
	HistoryLimit     int
	SummarizeChanges bool
	FileConcurrency  int
}

// Components are the collaborators of a run, built once at startup.
type Components struct {
	Registry  *lang.Registry
	Locator   *locator.Locator
	Static    *static.Collector
	History   *history.Collector
	Narrative *narrative.Generator // nil is allowed for strip and refresh
	Metrics   *metrics.Registry
	Log       *zap.SugaredLogger
	Version   string
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	c Components
}

// New returns an orchestrator over c.
func New(c Components) *Orchestrator {
	if c.Log == nil {
		c.Log = zap.NewNop().Sugar()
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	return &Orchestrator{c: c}
}

// Run processes paths. Unit and file failures are recorded in the report;
// only a missing root path (a *locator.DiscoveryError) or cancellation end
// the run with an error.
func (o *Orchestrator) Run(ctx context.Context, paths []string, opts Options) (*report.RunReport, error) {
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.Mode.NeedsNarrative() && o.c.Narrative == nil {
		return nil, fmt.Errorf("orchestrator: %s needs a narrative generator", opts.Mode)
	}
	files, err := o.c.Locator.Discover(paths)
	if err != nil {
		return nil, err
	}

	rep := report.New("agentspec", o.c.Version, string(opts.Mode), opts.DryRun)
	limit := opts.FileConcurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, f := range files {
		if !f.Supported {
			rep.Add(report.Entry{File: f.Path, Outcome: report.OutcomeUnsupported, Reason: "no adapter for " + f.Language})
			continue
		}
		adapter, ok := o.c.Registry.ForPath(f.Path)
		if !ok {
			rep.Add(report.Entry{File: f.Path, Outcome: report.OutcomeUnsupported, Reason: "no adapter for " + f.Path})
			continue
		}
		path := f.Path
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rep.Add(o.processFile(ctx, adapter, path, opts)...)
			return nil
		})
	}
	_ = g.Wait()
	rep.Finalize()

	for _, e := range rep.Entries {
		o.c.Metrics.UnitOutcome(string(e.Outcome))
	}
	o.c.Log.Infow("run finished",
		"run_id", rep.RunID, "mode", rep.Mode, "dry_run", rep.DryRun,
		"processed", rep.Summary.Processed, "skipped", rep.Summary.Skipped,
		"unsupported", rep.Summary.Unsupported, "failed", rep.Summary.Failed)
	return rep, ctx.Err()
}

// unitResult is the plan, or the failure, for one unit.
type unitResult struct {
	change  *rewrite.Change
	outcome report.Outcome
	reason  string
}

func entryFor(u *lang.Unit, outcome report.Outcome, reason string) report.Entry {
	return report.Entry{
		File:    u.Path,
		Unit:    u.QualifiedName,
		Kind:    string(u.Kind),
		Line:    u.StartLine,
		Outcome: outcome,
		Reason:  reason,
	}
}

// processFile plans every unit of one file, applies the successful plans as
// one batch and writes the result unless the run is dry.
func (o *Orchestrator) processFile(ctx context.Context, adapter lang.Adapter, path string, opts Options) []report.Entry {
	failFile := func(err error) []report.Entry {
		o.c.Log.Warnw("file failed", "file", path, "error", err)
		return []report.Entry{{File: path, Outcome: report.OutcomeFailed, Reason: err.Error()}}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return failFile(fmt.Errorf("orchestrator: read: %w", err))
	}
	file, err := adapter.Parse(path, src)
	if err != nil {
		return failFile(err)
	}
	defer file.Close()

	results := make([]unitResult, len(file.Units))
	var g errgroup.Group
	for i, u := range file.Units {
		i, u := i, u
		g.Go(func() error {
			results[i] = o.planUnit(ctx, adapter, file, u, opts)
			return nil
		})
	}
	_ = g.Wait()

	var changes []rewrite.Change
	for _, r := range results {
		if r.change != nil {
			changes = append(changes, *r.change)
		}
	}

	out, err := rewrite.Rewrite(adapter, file, changes)
	if err != nil {
		o.c.Log.Warnw("rewrite rejected", "file", path, "error", err)
		for i, r := range results {
			if r.change != nil && r.change.Outcome != rewrite.Skipped {
				results[i] = unitResult{outcome: report.OutcomeFailed, reason: err.Error()}
			}
		}
	} else if !opts.DryRun && string(out) != string(src) {
		if err := rewrite.WriteFile(path, out); err != nil {
			o.c.Log.Warnw("write failed", "file", path, "error", err)
			for i, r := range results {
				if r.change != nil && r.change.Outcome != rewrite.Skipped {
					results[i] = unitResult{outcome: report.OutcomeFailed, reason: err.Error()}
				}
			}
		}
	}

	entries := make([]report.Entry, 0, len(results))
	for i, r := range results {
		entries = append(entries, entryFor(file.Units[i], r.outcome, r.reason))
	}
	return entries
}

// planUnit decides the change for one unit in the given mode.
func (o *Orchestrator) planUnit(ctx context.Context, adapter lang.Adapter, file *lang.File, u *lang.Unit, opts Options) unitResult {
	failed := func(err error) unitResult {
		o.c.Log.Debugw("unit failed", "file", file.Path, "unit", u.QualifiedName, "error", err)
		return unitResult{outcome: report.OutcomeFailed, reason: err.Error()}
	}
	slot, span, err := rewrite.Locate(adapter, file, u)
	if err != nil {
		return failed(err)
	}

	switch opts.Mode {
	case ModeStrip:
		ch, err := rewrite.PlanStrip(adapter, file, slot)
		if err != nil {
			return failed(err)
		}
		return planned(ch, ModeStrip, "no block")

	case ModeRefresh:
		if span == nil {
			return unitResult{outcome: report.OutcomeSkipped, reason: "no block"}
		}
		existing, err := block.Parse(span.Text)
		if err != nil {
			return failed(fmt.Errorf("orchestrator: existing block: %w", err))
		}
		deps, hist, err := o.collect(ctx, file, u, opts)
		if err != nil {
			return failed(err)
		}
		fresh := inject.Refresh(existing, deps, hist)
		if same, err := sameBlock(existing, fresh); err == nil && same {
			return unitResult{outcome: report.OutcomeSkipped, reason: "up to date"}
		}
		ch, err := rewrite.PlanWrite(adapter, file, slot, fresh, true)
		if err != nil {
			return failed(err)
		}
		return planned(ch, ModeRefresh, "")
	}

	force := opts.Mode == ModeUpdate
	if span != nil && !force {
		if _, err := block.Parse(span.Text); err == nil {
			return unitResult{outcome: report.OutcomeSkipped, reason: "block exists"}
		}
		// A malformed block is replaced.
		force = true
	}
	if _, err := adapter.Wrap(file, slot, block.StartMarker+"\n"+block.EndMarker); err != nil {
		if errors.Is(err, lang.ErrUnsupportedSlot) {
			return unitResult{outcome: report.OutcomeUnsupported, reason: err.Error()}
		}
		return failed(err)
	}

	source, err := promptSource(adapter, file, u)
	if err != nil {
		return failed(err)
	}

	var (
		deps facts.Dependencies
		hist facts.History
		rec  narrative.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deps, hist, err = o.collect(gctx, file, u, opts)
		return err
	})
	g.Go(func() error {
		var err error
		rec, err = o.c.Narrative.Generate(gctx, narrative.Request{
			Source:   source,
			Language: u.Language,
			Kind:     string(u.Kind),
			Name:     u.QualifiedName,
			Header:   u.Header,
			Style:    opts.Style,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return failed(err)
	}

	if opts.SummarizeChanges {
		summary, err := o.c.Narrative.SummarizeChanges(ctx, hist.Diffs())
		if err != nil {
			o.c.Log.Warnw("change summary skipped", "file", file.Path, "unit", u.QualifiedName, "error", err)
		}
		rec.ChangeSummary = summary
	}

	ch, err := rewrite.PlanWrite(adapter, file, slot, inject.Merge(rec, deps, hist), force)
	if err != nil {
		return failed(err)
	}
	return planned(ch, opts.Mode, "")
}

// collect gathers the deterministic facts of u. History fails soft.
func (o *Orchestrator) collect(ctx context.Context, file *lang.File, u *lang.Unit, opts Options) (facts.Dependencies, facts.History, error) {
	var (
		deps facts.Dependencies
		hist facts.History
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deps, err = o.c.Static.Collect(file, u)
		return err
	})
	g.Go(func() error {
		hist = facts.History{}
		if o.c.History != nil {
			hist = o.c.History.Collect(gctx, u, opts.HistoryLimit)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return deps, hist, err
	}
	return deps, hist, nil
}

// planned converts a rewrite change to a unit result.
func planned(ch rewrite.Change, mode Mode, skipReason string) unitResult {
	r := unitResult{change: &ch}
	switch ch.Outcome {
	case rewrite.Inserted:
		r.outcome = report.OutcomeInserted
	case rewrite.Updated:
		r.outcome = report.OutcomeUpdated
		if mode == ModeRefresh {
			r.outcome = report.OutcomeRefreshed
		}
	case rewrite.Removed:
		r.outcome = report.OutcomeRemoved
	default:
		r.outcome = report.OutcomeSkipped
		r.reason = skipReason
	}
	return r
}

// promptSource is the unit's source with every agentspec block inside it
// removed, so recorded facts never reach a prompt.
func promptSource(adapter lang.Adapter, file *lang.File, u *lang.Unit) (string, error) {
	edits := lang.InnerBlockEdits(adapter, file, u)
	if len(edits) == 0 {
		return u.Source, nil
	}
	shifted := make([]lang.Edit, len(edits))
	for i, e := range edits {
		shifted[i] = lang.Edit{Start: e.Start - u.StartByte, End: e.End - u.StartByte, Text: e.Text}
	}
	out, err := rewrite.Apply([]byte(u.Source), shifted)
	if err != nil {
		return "", fmt.Errorf("orchestrator: prompt source: %w", err)
	}
	return string(out), nil
}

func sameBlock(a, b block.Block) (bool, error) {
	as, err := block.Serialize(a)
	if err != nil {
		return false, err
	}
	bs, err := block.Serialize(b)
	if err != nil {
		return false, err
	}
	return as == bs, nil
}
