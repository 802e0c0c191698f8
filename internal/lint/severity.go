package lint

import (
	"fmt"
	"strings"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// SeverityOrdinal returns the numeric ordinal for a severity, used to compare
// severity order. INFO=0, WARN=1, ERROR=2.
// Used by --fail-on comparison: exit 2 if SeverityOrdinal(highest) >= SeverityOrdinal(threshold).
func SeverityOrdinal(s Severity) int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarn:
		return 1
	case SeverityError:
		return 2
	default:
		return -1
	}
}

// ParseSeverity accepts a severity name in any case. "none" disables the
// threshold and returns the empty severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return SeverityError, nil
	case "WARN", "WARNING":
		return SeverityWarn, nil
	case "INFO":
		return SeverityInfo, nil
	case "NONE", "":
		return "", nil
	}
	return "", fmt.Errorf("lint: unknown severity %q (want error, warn, info or none)", s)
}

// Fails reports whether a report whose worst finding is highest reaches
// threshold. An empty threshold never fails.
func Fails(highest, threshold Severity) bool {
	if threshold == "" || highest == "" {
		return false
	}
	return SeverityOrdinal(highest) >= SeverityOrdinal(threshold)
}
