package narrative

import (
	"fmt"
	"sort"
	"strings"
)

// Style modulates how much narrative the model writes. Each style provides a
// SystemPromptAddendum appended to the generic instructions.
type Style struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
	// MaxGuardrails caps the guardrails list; zero means no cap.
	MaxGuardrails int
}

// DefaultStyle is used when a request names no style.
const DefaultStyle = "full"

// builtins is the registry of built-in styles keyed by name.
var builtins = map[string]Style{
	"full": {
		Name:        "full",
		Description: "Default style; a short paragraph for what and why plus every relevant guardrail.",
		SystemPromptAddendum: "Write 'what' as one to three sentences describing observable behavior. " +
			"Write 'why' as one to three sentences on the purpose the unit serves for its callers. " +
			"List every guardrail a maintainer must respect when changing the unit: preconditions, " +
			"invariants it keeps, side effects, and failure modes.",
	},
	"terse": {
		Name:        "terse",
		Description: "One sentence each for what and why, at most two guardrails.",
		SystemPromptAddendum: "Write 'what' and 'why' as exactly one sentence each. " +
			"List at most two guardrails, only the ones a maintainer is most likely to break.",
		MaxGuardrails: 2,
	},
}

// LoadStyle returns the named built-in style or an error if the name is
// unknown. The empty name selects DefaultStyle.
func LoadStyle(name string) (Style, error) {
	if name == "" {
		name = DefaultStyle
	}
	s, ok := builtins[name]
	if !ok {
		return Style{}, fmt.Errorf("narrative: unknown style %q (available: %s)", name, strings.Join(StyleNames(), ", "))
	}
	return s, nil
}

// StyleNames lists the built-in styles in sorted order.
func StyleNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
