package jslang

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/agentspec/internal/lang"
)

// commentGroup returns the contiguous comments directly above anchor, top
// first. A blank line or a comment trailing code ends the group.
func commentGroup(src []byte, anchor *sitter.Node) []*sitter.Node {
	var group []*sitter.Node
	next := anchor
	for c := anchor.PrevSibling(); c != nil && c.Type() == "comment"; c = c.PrevSibling() {
		if int(c.EndPoint().Row)+1 < int(next.StartPoint().Row) {
			break
		}
		if !lang.OnlySpace(src, lang.LineStart(src, int(c.StartByte())), int(c.StartByte())) {
			break
		}
		group = append([]*sitter.Node{c}, group...)
		next = c
	}
	return group
}

// DocSlot collects the block comments above the declaration.
func (a *Adapter) DocSlot(file *lang.File, unit *lang.Unit) (*lang.Slot, error) {
	slot := &lang.Slot{Unit: unit}
	for _, c := range commentGroup(file.Src, topOf(unit)) {
		start, end := int(c.StartByte()), int(c.EndByte())
		text := string(file.Src[start:end])
		if !strings.HasPrefix(text, "/*") || !strings.HasSuffix(text, "*/") || len(text) < 4 {
			continue
		}
		slot.Containers = append(slot.Containers, lang.NewContainer(file.Src, start, end, start+2, end-2, unwrapLine))
	}
	return slot, slot.FindBlock()
}

// unwrapLine removes the leading " * " decoration of a comment line.
func unwrapLine(raw string) (string, string) {
	t := strings.TrimLeft(raw, " \t")
	if strings.HasPrefix(t, "*") {
		t = t[1:]
		t = strings.TrimPrefix(t, " ")
	}
	return raw[:len(raw)-len(t)], unescape(t)
}

// escape keeps text from closing the comment: backslashes are doubled and
// "*/" becomes "*\/".
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "*/", `*\/`)
}

// unescape reverses escape.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch {
			case s[i+1] == '\\':
				b.WriteByte('\\')
				i++
				continue
			case s[i+1] == '/' && i > 0 && s[i-1] == '*':
				b.WriteByte('/')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Wrap replaces the existing block or inserts a new block comment above the
// declaration, its decorators and any comments attached to it.
func (a *Adapter) Wrap(file *lang.File, slot *lang.Slot, text string) (lang.Edit, error) {
	if slot.Block != nil {
		return lang.ReplaceBlock(slot.Block, text, escape), nil
	}
	src := file.Src
	anchor := topOf(slot.Unit)
	lineStart := lang.LineStart(src, int(anchor.StartByte()))
	if !lang.OnlySpace(src, lineStart, int(anchor.StartByte())) {
		return lang.Edit{}, fmt.Errorf("jslang: %s: declaration does not start its line: %w", slot.Unit.QualifiedName, lang.ErrUnsupportedSlot)
	}
	at := lineStart
	if group := commentGroup(src, anchor); len(group) > 0 {
		at = lang.LineStart(src, int(group[0].StartByte()))
	}
	indent := string(src[lineStart:anchor.StartByte()])
	nl := lang.Newline(src)
	lines := lang.WrapLines(text, indent+" * ", escape)
	comment := indent + "/**" + nl + strings.Join(lines, nl) + nl + indent + " */" + nl
	return lang.Edit{Start: at, End: at, Text: comment}, nil
}

// Strip removes the block. A comment holding nothing but the block is
// removed with its lines.
func (a *Adapter) Strip(file *lang.File, slot *lang.Slot) (lang.Edit, error) {
	b := slot.Block
	if b == nil {
		return lang.Edit{}, fmt.Errorf("jslang: %s: no block to strip", slot.Unit.QualifiedName)
	}
	src := file.Src
	c := b.Container
	if b.Whole {
		start, end := lang.LineStart(src, c.Start), lang.LineEnd(src, c.End)
		if lang.OnlySpace(src, start, c.Start) && lang.OnlySpace(src, c.End, end) {
			return lang.Edit{Start: start, End: end}, nil
		}
	}
	return lang.RemoveBlockLines(b), nil
}
