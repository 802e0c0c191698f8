package lint

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/agentspec/internal/report"
)

// RenderJSON produces a pretty-printed JSON representation of the report.
func RenderJSON(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("lint: nil report")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("lint: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary of the report.
func RenderMarkdown(r *Report) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	errs, warns, infos := r.Counts()
	sb.WriteString("## agentspec lint\n\n")
	fmt.Fprintf(&sb, "**Files:** %d | **Units:** %d | **Blocks:** %d\n\n", r.Files, r.Units, r.Blocks)
	fmt.Fprintf(&sb, "**Errors:** %d | **Warnings:** %d | **Info:** %d\n\n", errs, warns, infos)
	if len(r.Findings) == 0 {
		sb.WriteString("No findings.\n")
		return sb.String()
	}
	sb.WriteString("| Severity | Location | Unit | Rule | Message |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, f := range r.Findings {
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			f.Severity, report.EscapeCell(loc), report.EscapeCell(f.Unit), f.Rule, report.EscapeCell(f.Message))
	}
	sb.WriteString("\n")
	return sb.String()
}
