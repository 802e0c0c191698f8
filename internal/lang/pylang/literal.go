package pylang

import (
	"fmt"
	"strings"

	"github.com/dshills/agentspec/internal/lang"
)

// literal describes the delimiters of a Python string literal.
type literal struct {
	prefix string
	quote  string
	raw    bool
}

func (l literal) open() int { return len(l.prefix) + len(l.quote) }

// parseLiteral reads the prefix and quotes of a string literal. Byte and
// f-strings are never docstrings.
func parseLiteral(text string) (literal, bool) {
	i := 0
	for i < len(text) && strings.ContainsRune("rRbBuUfF", rune(text[i])) {
		i++
	}
	prefix := text[:i]
	if strings.ContainsAny(prefix, "bBfF") {
		return literal{}, false
	}
	rest := text[i:]
	var quote string
	switch {
	case strings.HasPrefix(rest, `"""`), strings.HasPrefix(rest, `'''`):
		quote = rest[:3]
	case strings.HasPrefix(rest, `"`), strings.HasPrefix(rest, `'`):
		quote = rest[:1]
	default:
		return literal{}, false
	}
	if len(rest) < 2*len(quote) || !strings.HasSuffix(rest, quote) {
		return literal{}, false
	}
	return literal{prefix: prefix, quote: quote, raw: strings.ContainsAny(prefix, "rR")}, true
}

// escape makes s safe inside a triple-quoted literal: backslashes are
// doubled and every quote in a run of three or more is backslash-escaped.
func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
			i++
		case '"', '\'':
			j := i
			for j < len(s) && s[j] == c {
				j++
			}
			if j-i >= 3 {
				for k := i; k < j; k++ {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
			} else {
				b.WriteString(s[i:j])
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// unescape reverses escape. Other escape sequences are left as written.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '"' || s[i+1] == '\'') {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escaperFor picks the escaping for lit. Raw literals cannot carry escapes,
// so text that would need one is refused.
func escaperFor(lit literal, text string) (func(string) string, error) {
	if !lit.raw {
		return escape, nil
	}
	for _, line := range strings.Split(text, "\n") {
		if escape(line) != line {
			return nil, fmt.Errorf("pylang: raw docstring cannot hold block text: %w", lang.ErrUnsupportedSlot)
		}
	}
	return func(s string) string { return s }, nil
}
