// Package block defines the agentspec documentation block: the only artifact
// written back into source files. A block is a marker-delimited YAML document
// with a fixed section order (narrative, dependencies, history). The package
// is language-agnostic; comment wrapping is done by the language adapters.
package block

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/agentspec/internal/facts"
)

// Marker lines. They are matched exactly, at the indentation of the start
// marker, once the language wrapper has been removed.
const (
	StartMarker = "---agentspec"
	EndMarker   = "---/agentspec"
)

var (
	// ErrUnterminated is returned when a start marker has no matching end marker.
	ErrUnterminated = errors.New("block: start marker without end marker")
	// ErrMalformed is returned when the block body is not a valid document.
	ErrMalformed = errors.New("block: malformed body")
)

// Narrative holds the model-authored section of a block.
type Narrative struct {
	What          string
	Why           string
	Guardrails    []string
	ChangeSummary string
}

// Block is a parsed documentation block. The three sections are distinct
// types so deterministic facts and narrative never share a field.
type Block struct {
	Narrative    Narrative
	Dependencies facts.Dependencies
	History      facts.History
}

// Normalize replaces nil slices with empty ones and drops history diffs,
// which are never serialized.
func (b Block) Normalize() Block {
	if b.Narrative.Guardrails == nil {
		b.Narrative.Guardrails = []string{}
	}
	b.Dependencies = b.Dependencies.Normalize()
	hist := make(facts.History, 0, len(b.History))
	for _, c := range b.History {
		c.Diff = ""
		hist = append(hist, c)
	}
	b.History = hist
	return b
}

// document is the on-disk shape of the block body. Field order is the
// canonical section order.
type document struct {
	What          string             `yaml:"what" json:"what"`
	Why           string             `yaml:"why" json:"why"`
	Guardrails    []string           `yaml:"guardrails" json:"guardrails"`
	ChangeSummary string             `yaml:"change_summary,omitempty" json:"change_summary,omitempty"`
	Deps          facts.Dependencies `yaml:"deps" json:"deps"`
	History       facts.History      `yaml:"history" json:"history"`
}

func toDocument(b Block) document {
	b = b.Normalize()
	return document{
		What:          b.Narrative.What,
		Why:           b.Narrative.Why,
		Guardrails:    b.Narrative.Guardrails,
		ChangeSummary: b.Narrative.ChangeSummary,
		Deps:          b.Dependencies,
		History:       b.History,
	}
}

func fromDocument(d document) Block {
	return Block{
		Narrative: Narrative{
			What:          d.What,
			Why:           d.Why,
			Guardrails:    d.Guardrails,
			ChangeSummary: d.ChangeSummary,
		},
		Dependencies: d.Deps,
		History:      d.History,
	}.Normalize()
}

// MarshalJSON renders b with the same keys as the block body.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDocument(b))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (b *Block) UnmarshalJSON(data []byte) error {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*b = fromDocument(d)
	return nil
}

// Serialize renders b as block text: start marker, YAML body, end marker,
// joined by "\n" without a trailing newline. Values are marshalled, never
// interpolated, so their content cannot alter the surrounding structure.
func Serialize(b Block) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toDocument(b)); err != nil {
		return "", fmt.Errorf("block: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("block: encode: %w", err)
	}
	body := strings.TrimRight(buf.String(), "\n")
	for _, line := range strings.Split(body, "\n") {
		if line == StartMarker || line == EndMarker {
			return "", fmt.Errorf("block: encode: body line collides with a marker")
		}
	}
	return StartMarker + "\n" + body + "\n" + EndMarker, nil
}

// Parse reads block text produced by Serialize (markers included). Unknown
// keys are rejected so typos surface in lint instead of being dropped.
func Parse(text string) (Block, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	bounds, ok, err := Find(lines)
	if err != nil {
		return Block{}, err
	}
	if !ok {
		return Block{}, fmt.Errorf("%w: no start marker", ErrMalformed)
	}
	return ParseBody(bodyLines(lines[bounds.Start+1:bounds.End], bounds.Indent))
}

// ParseBody decodes the YAML between the markers.
func ParseBody(body string) (Block, error) {
	var d document
	dec := yaml.NewDecoder(strings.NewReader(body))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromDocument(d), nil
}

// Bounds locates a block inside a slice of unwrapped lines. Start and End
// are the indices of the marker lines; Indent is the start marker's leading
// whitespace, which every body line shares.
type Bounds struct {
	Start  int
	End    int
	Indent string
}

// Find returns the first block in lines. ok is false when no start marker is
// present. A start marker without an end marker yields ErrUnterminated.
func Find(lines []string) (Bounds, bool, error) {
	all, err := FindAll(lines)
	if err != nil {
		return Bounds{}, false, err
	}
	if len(all) == 0 {
		return Bounds{}, false, nil
	}
	return all[0], true, nil
}

// FindAll returns every block in lines, in order.
func FindAll(lines []string) ([]Bounds, error) {
	var out []Bounds
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != StartMarker {
			continue
		}
		line := strings.TrimRight(lines[i], " \t\r")
		indent := line[:len(line)-len(StartMarker)]
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimRight(lines[j], " \t\r") == indent+EndMarker {
				end = j
				break
			}
		}
		if end < 0 {
			return out, fmt.Errorf("%w (line %d)", ErrUnterminated, i+1)
		}
		out = append(out, Bounds{Start: i, End: end, Indent: indent})
		i = end
	}
	return out, nil
}

// Text joins lines[b.Start:b.End+1] with the shared indent removed.
func (b Bounds) Text(lines []string) string {
	return StartMarker + "\n" + bodyLines(lines[b.Start+1:b.End], b.Indent) + "\n" + EndMarker
}

func bodyLines(lines []string, indent string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimPrefix(strings.TrimRight(l, "\r"), indent)
	}
	return strings.Join(out, "\n")
}
