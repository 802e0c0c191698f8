// Package extract reads agentspec blocks out of source files and renders
// them as JSON or Markdown. It never writes to the source tree.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/report"
)

// Entry is the block of one unit. Block is nil when the block could not be
// read; Error then says why.
type Entry struct {
	File  string       `json:"file"`
	Unit  string       `json:"unit"`
	Kind  string       `json:"kind"`
	Line  int          `json:"line"`
	Block *block.Block `json:"block,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Extractor collects blocks.
type Extractor struct {
	Registry *lang.Registry
	Locator  *locator.Locator
	Log      *zap.SugaredLogger
}

// New returns an extractor.
func New(reg *lang.Registry, loc *locator.Locator, log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{Registry: reg, Locator: loc, Log: log}
}

// Run returns the blocks found under paths ordered by file and line. Units
// without a block are left out. Files that fail to parse are logged and
// skipped.
func (x *Extractor) Run(ctx context.Context, paths []string, concurrency int) ([]Entry, error) {
	files, err := x.Locator.Discover(paths)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var (
		mu  sync.Mutex
		out = []Entry{}
	)
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, f := range files {
		adapter, ok := x.Registry.ForPath(f.Path)
		if !f.Supported || !ok {
			continue
		}
		path := f.Path
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			entries, err := x.file(adapter, path)
			if err != nil {
				x.Log.Warnw("extract skipped file", "file", path, "error", err)
				return nil
			}
			mu.Lock()
			out = append(out, entries...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out, ctx.Err()
}

func (x *Extractor) file(adapter lang.Adapter, path string) ([]Entry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read: %w", err)
	}
	file, err := adapter.Parse(path, src)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Entry
	for _, u := range file.Units {
		e := Entry{File: path, Unit: u.QualifiedName, Kind: string(u.Kind), Line: u.StartLine}
		slot, err := adapter.DocSlot(file, u)
		switch {
		case slot == nil || (err != nil && slot.Block == nil):
			if err == nil {
				continue
			}
			e.Error = err.Error()
		case slot.Block == nil:
			continue
		default:
			b, perr := block.Parse(slot.Block.Text)
			if perr != nil {
				e.Error = perr.Error()
			} else {
				e.Block = &b
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// RenderJSON renders entries as an indented JSON array.
func RenderJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("extract: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown renders one section per unit.
func RenderMarkdown(entries []Entry) string {
	var sb strings.Builder
	sb.WriteString("# agentspec blocks\n\n")
	if len(entries) == 0 {
		sb.WriteString("No blocks found.\n")
		return sb.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&sb, "## %s `%s`\n\n", e.Kind, e.Unit)
		fmt.Fprintf(&sb, "_%s:%d_\n\n", e.File, e.Line)
		if e.Block == nil {
			fmt.Fprintf(&sb, "**Unreadable block:** %s\n\n", e.Error)
			continue
		}
		n := e.Block.Narrative
		fmt.Fprintf(&sb, "**What:** %s\n\n", n.What)
		fmt.Fprintf(&sb, "**Why:** %s\n\n", n.Why)
		if len(n.Guardrails) > 0 {
			sb.WriteString("**Guardrails:**\n\n")
			for _, g := range n.Guardrails {
				fmt.Fprintf(&sb, "- %s\n", g)
			}
			sb.WriteString("\n")
		}
		if n.ChangeSummary != "" {
			fmt.Fprintf(&sb, "**Recent changes:** %s\n\n", n.ChangeSummary)
		}
		d := e.Block.Dependencies
		sb.WriteString("| Calls | Imports | Decorators | Raises |\n")
		sb.WriteString("|---|---|---|---|\n")
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n\n",
			cell(d.Calls), cell(d.Imports), cell(d.Decorators), cell(d.Raises))
		m := d.Metrics
		fmt.Fprintf(&sb, "Lines %d, branches %d, complexity %d, params %d (%d typed)\n\n",
			m.Lines, m.Branches, m.Complexity, m.Params, m.TypedParams)
		if len(e.Block.History) > 0 {
			sb.WriteString("**History:**\n\n")
			for _, c := range e.Block.History {
				fmt.Fprintf(&sb, "- %s `%s` %s\n", c.Date, c.Hash, c.Subject)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func cell(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return report.EscapeCell(strings.Join(items, ", "))
}
