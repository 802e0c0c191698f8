package lang

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dshills/agentspec/internal/block"
)

// Container is one documentation container attached to a unit: a docstring
// or a comment. Raw content line i spans Src[LineStart[i]:LineEnd[i]] (no
// terminator); Lines[i] is the same line with the language wrapper removed and
// escapes undone, and Prefix[i] is the raw text the unwrapping dropped from
// the front of that line.
type Container struct {
	Start     int
	End       int
	LineStart []int
	LineEnd   []int
	Lines     []string
	Prefix    []string
	// Newline is the line terminator of the enclosing file.
	Newline string
}

// BlockSpan is an agentspec block found inside a Container. Start and End
// cover the raw marker lines, from the start of the first to the end of the
// last (newline excluded).
type BlockSpan struct {
	Container *Container
	Bounds    block.Bounds
	Start     int
	End       int
	// Text is the unwrapped block text, markers included.
	Text string
	// Whole is set when the container holds nothing but the block.
	Whole bool
}

// Slot is the documentation attached to one unit.
type Slot struct {
	Unit       *Unit
	Containers []*Container
	// Block is the first agentspec block, nil when the unit has none.
	Block *BlockSpan
}

// Blocks returns every agentspec block in the slot, in source order.
func (s *Slot) Blocks() ([]*BlockSpan, error) {
	var out []*BlockSpan
	for _, c := range s.Containers {
		all, err := block.FindAll(c.Lines)
		for _, b := range all {
			out = append(out, newBlockSpan(c, b))
		}
		if err != nil {
			return out, fmt.Errorf("lang: %s: %w", s.Unit.QualifiedName, err)
		}
	}
	return out, nil
}

// FindBlock fills s.Block with the first block of its containers.
func (s *Slot) FindBlock() error {
	all, err := s.Blocks()
	if len(all) > 0 {
		s.Block = all[0]
	}
	return err
}

func newBlockSpan(c *Container, b block.Bounds) *BlockSpan {
	whole := true
	for i, l := range c.Lines {
		if i >= b.Start && i <= b.End {
			continue
		}
		if strings.TrimSpace(l) != "" {
			whole = false
			break
		}
	}
	return &BlockSpan{
		Container: c,
		Bounds:    b,
		Start:     c.LineStart[b.Start],
		End:       c.LineEnd[b.End],
		Text:      b.Text(c.Lines),
		Whole:     whole,
	}
}

// NewContainer splits raw content src[start:end] into lines and unwraps each
// one with unwrap, which returns the dropped prefix and the cleaned line.
func NewContainer(src []byte, start, end, contentStart, contentEnd int, unwrap func(raw string) (prefix, line string)) *Container {
	c := &Container{Start: start, End: end, Newline: Newline(src)}
	pos := contentStart
	for {
		nl := strings.IndexByte(string(src[pos:contentEnd]), '\n')
		lineEnd := contentEnd
		if nl >= 0 {
			lineEnd = pos + nl
		}
		next := lineEnd + 1
		if nl >= 0 && lineEnd > pos && src[lineEnd-1] == '\r' {
			lineEnd--
		}
		prefix, line := unwrap(string(src[pos:lineEnd]))
		c.LineStart = append(c.LineStart, pos)
		c.LineEnd = append(c.LineEnd, lineEnd)
		c.Prefix = append(c.Prefix, prefix)
		c.Lines = append(c.Lines, line)
		if nl < 0 {
			break
		}
		pos = next
	}
	return c
}

// WrapLines renders block text as raw container lines sharing prefix.
// Empty lines carry the prefix with trailing blanks removed.
func WrapLines(text, prefix string, escape func(string) string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		if l == "" {
			out[i] = strings.TrimRight(prefix, " \t")
			continue
		}
		out[i] = prefix + escape(l)
	}
	return out
}

// ReplaceBlock returns the edit that swaps the marker-delimited lines of b
// for text, keeping the raw prefix of the existing start marker line.
func ReplaceBlock(b *BlockSpan, text string, escape func(string) string) Edit {
	c := b.Container
	prefix := c.Prefix[b.Bounds.Start] + b.Bounds.Indent
	return Edit{
		Start: b.Start,
		End:   b.End,
		Text:  strings.Join(WrapLines(text, prefix, escape), c.Newline),
	}
}

// RemoveBlockLines returns the edit that deletes the marker-delimited lines
// of b and the blank lines separating it from preceding content, leaving the
// rest of the container untouched.
func RemoveBlockLines(b *BlockSpan) Edit {
	c := b.Container
	prev := -1
	for i := b.Bounds.Start - 1; i >= 0; i-- {
		if strings.TrimSpace(c.Lines[i]) != "" {
			prev = i
			break
		}
	}
	if prev >= 0 {
		return Edit{Start: c.LineEnd[prev], End: b.End}
	}
	// The block opens the container: drop it with its trailing blank lines.
	next := b.Bounds.End + 1
	for next < len(c.Lines) && strings.TrimSpace(c.Lines[next]) == "" && next < len(c.Lines)-1 {
		next++
	}
	if next < len(c.Lines) {
		return Edit{Start: b.Start, End: c.LineStart[next]}
	}
	return Edit{Start: b.Start, End: b.End}
}

// Newline returns the line terminator used by src: "\r\n" when its first
// line ends that way, "\n" otherwise.
func Newline(src []byte) string {
	i := bytes.IndexByte(src, '\n')
	if i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// LineStart returns the offset of the first byte of the line holding off.
func LineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}

// LineEnd returns the offset just past the newline ending the line holding
// off, or len(src) on the last line.
func LineEnd(src []byte, off int) int {
	for off < len(src) && src[off] != '\n' {
		off++
	}
	if off < len(src) {
		off++
	}
	return off
}

// OnlySpace reports whether src[start:end] is blank.
func OnlySpace(src []byte, start, end int) bool {
	return strings.TrimSpace(string(src[start:end])) == ""
}

// Indent returns the leading whitespace of the line holding off.
func Indent(src []byte, off int) string {
	start := LineStart(src, off)
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return string(src[start:end])
}
