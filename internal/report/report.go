// Package report defines the run report and renders it as JSON or Markdown.
// The report is observational: nothing reads it back.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Outcome is the result recorded for one unit (or one file, when the unit
// is empty).
type Outcome string

const (
	OutcomeInserted    Outcome = "inserted"
	OutcomeUpdated     Outcome = "updated"
	OutcomeRemoved     Outcome = "removed"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeFailed      Outcome = "failed"
)

// Processed reports whether o changed (or in a dry run, would change) a block.
func (o Outcome) Processed() bool {
	switch o {
	case OutcomeInserted, OutcomeUpdated, OutcomeRemoved, OutcomeRefreshed:
		return true
	}
	return false
}

// Entry is one line of the report.
type Entry struct {
	File    string  `json:"file"`
	Unit    string  `json:"unit,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Line    int     `json:"line,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Summary holds the outcome counts.
type Summary struct {
	Processed   int `json:"processed"`
	Skipped     int `json:"skipped"`
	Unsupported int `json:"unsupported"`
	Failed      int `json:"failed"`
}

// RunReport is the top-level output document of generate, update, strip
// and refresh.
type RunReport struct {
	Tool    string  `json:"tool"`
	Version string  `json:"version"`
	RunID   string  `json:"run_id"`
	Mode    string  `json:"mode"`
	DryRun  bool    `json:"dry_run"`
	Summary Summary `json:"summary"`
	Entries []Entry `json:"entries"`

	mu sync.Mutex
}

// New starts a report for one run.
func New(tool, version, mode string, dryRun bool) *RunReport {
	return &RunReport{
		Tool:    tool,
		Version: version,
		RunID:   uuid.NewString(),
		Mode:    mode,
		DryRun:  dryRun,
		Entries: []Entry{},
	}
}

// Add records entries. Safe for concurrent use.
func (r *RunReport) Add(entries ...Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, entries...)
}

// Finalize orders entries by file and line and computes the summary.
func (r *RunReport) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	var s Summary
	for _, e := range r.Entries {
		switch {
		case e.Outcome.Processed():
			s.Processed++
		case e.Outcome == OutcomeSkipped:
			s.Skipped++
		case e.Outcome == OutcomeUnsupported:
			s.Unsupported++
		case e.Outcome == OutcomeFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// RenderJSON produces a pretty-printed JSON representation of the report.
func RenderJSON(r *RunReport) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report: nil report")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary of the report.
// Skipped units are counted but not listed.
func RenderMarkdown(r *RunReport) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "## agentspec %s\n\n", r.Mode)
	if r.DryRun {
		sb.WriteString("_Dry run: no files were written._\n\n")
	}
	fmt.Fprintf(&sb, "**Run:** %s  \n", r.RunID)
	fmt.Fprintf(&sb, "**Processed:** %d | **Skipped:** %d | **Unsupported:** %d | **Failed:** %d\n\n",
		r.Summary.Processed, r.Summary.Skipped, r.Summary.Unsupported, r.Summary.Failed)

	var listed []Entry
	for _, e := range r.Entries {
		if e.Outcome != OutcomeSkipped {
			listed = append(listed, e)
		}
	}
	if len(listed) == 0 {
		return sb.String()
	}
	sb.WriteString("| File | Unit | Outcome | Reason |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, e := range listed {
		loc := e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d", e.File, e.Line)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", EscapeCell(loc), EscapeCell(e.Unit), e.Outcome, EscapeCell(e.Reason))
	}
	sb.WriteString("\n")
	return sb.String()
}

// EscapeCell replaces characters that would break Markdown table cells.
func EscapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
