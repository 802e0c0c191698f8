// Package rewrite turns per-unit block decisions into one ordered batch of
// byte edits, checks the result still parses and carries the intended
// blocks, and persists it atomically.
package rewrite

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/agentspec/internal/block"
	"github.com/dshills/agentspec/internal/lang"
)

// Outcome is the end state of one unit in a rewrite.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Updated  Outcome = "updated"
	Skipped  Outcome = "skipped"
	Removed  Outcome = "removed"
)

// ErrOverlap is returned by Apply when two edits touch the same bytes.
var ErrOverlap = errors.New("rewrite: overlapping edits")

// InvariantViolation reports a batch whose result failed the
// post-condition. The file is left untouched.
type InvariantViolation struct {
	Path  string
	Units []string
	Err   error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("rewrite: %s: batch rejected (%s): %v", e.Path, strings.Join(e.Units, ", "), e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// Change is the planned rewrite of one unit.
type Change struct {
	Unit    *lang.Unit
	Outcome Outcome
	Edit    lang.Edit
	// Text is the block text expected after the rewrite for Inserted and
	// Updated, empty otherwise.
	Text string
}

func (c Change) hasEdit() bool { return c.Outcome != Skipped }

// Locate finds the documentation slot of unit and the block inside it, if
// any. Only the exact marker lines identify a block.
func Locate(a lang.Adapter, file *lang.File, unit *lang.Unit) (*lang.Slot, *lang.BlockSpan, error) {
	slot, err := a.DocSlot(file, unit)
	if err != nil {
		return slot, nil, fmt.Errorf("rewrite: locate %s: %w", unit.QualifiedName, err)
	}
	return slot, slot.Block, nil
}

// PlanWrite decides how b reaches unit. Without an existing block the block
// is inserted; an existing block is replaced only when force is set.
func PlanWrite(a lang.Adapter, file *lang.File, slot *lang.Slot, b block.Block, force bool) (Change, error) {
	ch := Change{Unit: slot.Unit, Outcome: Skipped}
	if slot.Block != nil && !force {
		return ch, nil
	}
	text, err := block.Serialize(b)
	if err != nil {
		return ch, fmt.Errorf("rewrite: %s: %w", slot.Unit.QualifiedName, err)
	}
	e, err := a.Wrap(file, slot, text)
	if err != nil {
		return ch, fmt.Errorf("rewrite: %s: %w", slot.Unit.QualifiedName, err)
	}
	ch.Edit, ch.Text = e, text
	ch.Outcome = Inserted
	if slot.Block != nil {
		ch.Outcome = Updated
	}
	return ch, nil
}

// PlanStrip removes the unit's block. Units without one are skipped.
func PlanStrip(a lang.Adapter, file *lang.File, slot *lang.Slot) (Change, error) {
	ch := Change{Unit: slot.Unit, Outcome: Skipped}
	if slot.Block == nil {
		return ch, nil
	}
	e, err := a.Strip(file, slot)
	if err != nil {
		return ch, fmt.Errorf("rewrite: %s: %w", slot.Unit.QualifiedName, err)
	}
	ch.Edit = e
	ch.Outcome = Removed
	return ch, nil
}

// Apply splices edits into src in a single pass, from the highest offset to
// the lowest, so earlier offsets stay valid. Overlapping edits, including two
// insertions at the same offset, are rejected.
func Apply(src []byte, edits []lang.Edit) ([]byte, error) {
	sorted := append([]lang.Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > len(src) {
			return nil, fmt.Errorf("rewrite: edit [%d,%d) out of range for %d bytes", e.Start, e.End, len(src))
		}
		if i > 0 {
			prev := sorted[i-1]
			if e.Start < prev.End || e.Start == prev.Start {
				return nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlap, prev.Start, prev.End, e.Start, e.End)
			}
		}
	}
	out := append([]byte(nil), src...)
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		tail := append([]byte(e.Text), out[e.End:]...)
		out = append(out[:e.Start], tail...)
	}
	return out, nil
}

// Rewrite applies the changes to file and verifies the result: it must parse,
// enumerate the same units, and show each intended block (or its absence)
// where it was planned. Any failure is an *InvariantViolation naming the
// units in the batch. With no edits the source is returned unchanged.
func Rewrite(a lang.Adapter, file *lang.File, changes []Change) ([]byte, error) {
	var edits []lang.Edit
	var names []string
	for _, ch := range changes {
		if ch.hasEdit() {
			edits = append(edits, ch.Edit)
			names = append(names, ch.Unit.QualifiedName)
		}
	}
	if len(edits) == 0 {
		return file.Src, nil
	}
	fail := func(err error) error {
		return &InvariantViolation{Path: file.Path, Units: names, Err: err}
	}

	out, err := Apply(file.Src, edits)
	if err != nil {
		return nil, fail(err)
	}
	if err := a.Validate(out); err != nil {
		return nil, fail(err)
	}
	if err := verify(a, file, out, changes); err != nil {
		return nil, fail(err)
	}
	return out, nil
}

// verify re-parses out and checks every change landed as planned.
func verify(a lang.Adapter, before *lang.File, out []byte, changes []Change) error {
	after, err := a.Parse(before.Path, out)
	if err != nil {
		return err
	}
	defer after.Close()

	if len(after.Units) != len(before.Units) {
		return fmt.Errorf("unit count changed from %d to %d", len(before.Units), len(after.Units))
	}
	keys := unitKeys(before.Units)
	index := make(map[*lang.Unit]int, len(before.Units))
	for i, u := range before.Units {
		index[u] = i
	}
	afterKeys := unitKeys(after.Units)

	for _, ch := range changes {
		if !ch.hasEdit() {
			continue
		}
		i, ok := index[ch.Unit]
		if !ok || afterKeys[i] != keys[i] {
			return fmt.Errorf("%s: unit not found after rewrite", ch.Unit.QualifiedName)
		}
		slot, err := a.DocSlot(after, after.Units[i])
		if err != nil {
			return err
		}
		switch ch.Outcome {
		case Removed:
			if slot.Block != nil {
				return fmt.Errorf("%s: block still present after strip", ch.Unit.QualifiedName)
			}
		default:
			if slot.Block == nil {
				return fmt.Errorf("%s: block missing after write", ch.Unit.QualifiedName)
			}
			got, err := block.Parse(slot.Block.Text)
			if err != nil {
				return fmt.Errorf("%s: %w", ch.Unit.QualifiedName, err)
			}
			want, err := block.Parse(ch.Text)
			if err != nil {
				return fmt.Errorf("%s: %w", ch.Unit.QualifiedName, err)
			}
			gs, _ := block.Serialize(got)
			ws, _ := block.Serialize(want)
			if gs != ws {
				return fmt.Errorf("%s: block content changed by wrapping", ch.Unit.QualifiedName)
			}
		}
	}
	return nil
}

// unitKeys identifies units by kind, qualified name and occurrence, which
// survive edits that only touch documentation.
func unitKeys(units []*lang.Unit) []string {
	seen := make(map[string]int)
	keys := make([]string, len(units))
	for i, u := range units {
		k := string(u.Kind) + ":" + u.QualifiedName
		seen[k]++
		keys[i] = k + "#" + strconv.Itoa(seen[k])
	}
	return keys
}
