// Package facts defines the deterministic metadata computed for a source unit:
// its outgoing dependencies and its version-control history. Nothing in this
// package is ever produced by a language model.
package facts

// Metrics holds structural measurements of one unit.
type Metrics struct {
	Lines       int  `yaml:"lines" json:"lines"`
	Branches    int  `yaml:"branches" json:"branches"`
	Complexity  int  `yaml:"complexity" json:"complexity"`
	Params      int  `yaml:"params" json:"params"`
	TypedParams int  `yaml:"typed_params" json:"typed_params"`
	TypedReturn bool `yaml:"typed_return" json:"typed_return"`
}

// Dependencies is the DependencyFacts record for one unit. All slices are
// ordered by first occurrence and contain no duplicates.
type Dependencies struct {
	Calls      []string `yaml:"calls" json:"calls"`
	Imports    []string `yaml:"imports" json:"imports"`
	Decorators []string `yaml:"decorators" json:"decorators"`
	Raises     []string `yaml:"raises" json:"raises"`
	Metrics    Metrics  `yaml:"metrics" json:"metrics"`
}

// Normalize replaces nil slices with empty ones so that serialized output
// does not depend on how the record was built.
func (d Dependencies) Normalize() Dependencies {
	d.Calls = nonNil(d.Calls)
	d.Imports = nonNil(d.Imports)
	d.Decorators = nonNil(d.Decorators)
	d.Raises = nonNil(d.Raises)
	return d
}

// Equal reports whether d and o describe the same dependencies.
func (d Dependencies) Equal(o Dependencies) bool {
	return equalStrings(d.Calls, o.Calls) &&
		equalStrings(d.Imports, o.Imports) &&
		equalStrings(d.Decorators, o.Decorators) &&
		equalStrings(d.Raises, o.Raises) &&
		d.Metrics == o.Metrics
}

// Commit is one entry of a unit's change history.
type Commit struct {
	Date    string `yaml:"date" json:"date"` // YYYY-MM-DD, author date
	Hash    string `yaml:"hash" json:"hash"` // abbreviated hash
	Subject string `yaml:"subject" json:"subject"`
	// Diff is the line-range patch for this commit. It feeds the optional
	// change summary and is never written into a block.
	Diff string `yaml:"-" json:"-"`
}

// History is the HistoryFacts record: most recent commit first.
type History []Commit

// Normalize returns an empty, non-nil history for nil input.
func (h History) Normalize() History {
	if h == nil {
		return History{}
	}
	return h
}

// Diffs returns the non-empty patch texts in history order.
func (h History) Diffs() []string {
	var out []string
	for _, c := range h {
		if c.Diff != "" {
			out = append(out, c.Diff)
		}
	}
	return out
}

// OrderedSet collects strings in first-seen order without duplicates.
// The zero value is ready to use.
type OrderedSet struct {
	seen  map[string]bool
	items []string
}

// Add appends s unless it is empty or already present.
func (s *OrderedSet) Add(v string) {
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

// Items returns a copy of the collected strings; never nil.
func (s *OrderedSet) Items() []string {
	return append([]string{}, s.items...)
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
