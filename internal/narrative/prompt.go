package narrative

import (
	"fmt"
	"strings"
)

const baseSystemPrompt = `You document source code for other engineers and coding agents.
You are given the literal source text of one function, method or class.
Respond with a single JSON object and nothing else:

{"what": "<string>", "why": "<string>", "guardrails": ["<string>", ...]}

- "what": what the unit does, in plain language.
- "why": why the unit exists and what depends on its behavior.
- "guardrails": constraints a maintainer must not break. Use an empty array when there are none.

Do not list calls, imports, metrics, authors or commit history; those are recorded separately.
Do not wrap the JSON in markdown fences.`

const summarySystemPrompt = `You summarise recent changes to one unit of source code.
You are given the diffs of the most recent commits touching it, most recent first.
Respond with a single JSON object and nothing else:

{"change_summary": "<one or two sentences>"}

Describe the net behavioral change. Do not mention hashes, dates or authors.`

func buildSystemPrompt(style Style) string {
	if style.SystemPromptAddendum == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\n" + style.SystemPromptAddendum
}

// buildUserPrompt renders the unit. Only the request fields appear here.
func buildUserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Language: %s\n", req.Language)
	fmt.Fprintf(&sb, "Kind: %s\n", req.Kind)
	fmt.Fprintf(&sb, "Name: %s\n", req.Name)
	if req.Header != "" {
		fmt.Fprintf(&sb, "\nEnclosing class:\n%s\n", req.Header)
	}
	fmt.Fprintf(&sb, "\nSource:\n%s\n", strings.TrimRight(req.Source, "\n"))
	return sb.String()
}

func buildSummaryPrompt(diffs []string) string {
	var sb strings.Builder
	for i, d := range diffs {
		fmt.Fprintf(&sb, "Diff %d:\n%s\n\n", i+1, strings.TrimRight(d, "\n"))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// buildRepairPrompt constructs the follow-up user prompt sent when the
// first response fails validation.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []string) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		sb.WriteString("- ")
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond again with only the corrected JSON object.")
	return sb.String()
}
