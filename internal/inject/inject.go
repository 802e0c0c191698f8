// Package inject assembles documentation blocks from a narrative record and
// the deterministic facts of a unit. It never calls a model.
package inject

import (
	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/facts"
	"github.com/dshills/agentspec/internal/narrative"
)

// Merge combines the narrative with deps and hist into a block. The
// narrative passes through verbatim; the fact sections are exactly the
// collected values.
func Merge(rec narrative.Record, deps facts.Dependencies, hist facts.History) block.Block {
	b := block.Block{
		Narrative: block.Narrative{
			What:          rec.What,
			Why:           rec.Why,
			Guardrails:    append([]string(nil), rec.Guardrails...),
			ChangeSummary: rec.ChangeSummary,
		},
		Dependencies: deps,
		History:      hist,
	}
	return b.Normalize()
}

// Refresh replaces the fact sections of existing with deps and hist and
// keeps its narrative, including any change summary.
func Refresh(existing block.Block, deps facts.Dependencies, hist facts.History) block.Block {
	return Merge(Record(existing), deps, hist)
}

// Record extracts the narrative of b.
func Record(b block.Block) narrative.Record {
	return narrative.Record{
		What:          b.Narrative.What,
		Why:           b.Narrative.Why,
		Guardrails:    append([]string(nil), b.Narrative.Guardrails...),
		ChangeSummary: b.Narrative.ChangeSummary,
	}
}
