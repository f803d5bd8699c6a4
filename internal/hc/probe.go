package hc

import (
	"context"
	"slices"
	"time"
)

// Check is the work a probe performs. Implementations read external state
// and must not mutate it.
type Check interface {
	Execute(ctx context.Context) Result
}

// CheckFunc adapts a function into a Check.
type CheckFunc func(context.Context) Result

func (f CheckFunc) Execute(ctx context.Context) Result { return f(ctx) }

// Metadata describes a probe. Name is the stable identity used by the
// registry; DisplayName is what callers see.
type Metadata struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Title returns DisplayName, falling back to Name.
func (m Metadata) Title() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// HasTag reports whether tag is in m.Tags. Tags must be sorted, which
// Registry.Register guarantees.
func (m Metadata) HasTag(tag string) bool {
	_, ok := slices.BinarySearch(m.Tags, tag)
	return ok
}

func (m Metadata) clone() Metadata {
	m.Tags = slices.Clone(m.Tags)
	return m
}

// Probe is a named, tagged check.
type Probe struct {
	Metadata
	Check Check
}

// ExecutionResult is what the executor returns for each probe it ran.
type ExecutionResult struct {
	Metadata   Metadata
	Result     Result
	Elapsed    time.Duration
	FinishedAt time.Time
	TimedOut   bool
}

// TagMode selects how multiple requested tags combine.
type TagMode int

const (
	// TagsOr selects probes carrying any requested tag.
	TagsOr TagMode = iota
	// TagsAnd selects probes carrying every requested tag.
	TagsAnd
)

func (m TagMode) String() string {
	if m == TagsAnd {
		return "and"
	}
	return "or"
}

// ExecutionOptions selects which probes an execution runs.
type ExecutionOptions struct {
	Tags []string
	Mode TagMode
}

// Worst reduces results to the most severe status. An empty slice is OK.
func Worst(results []ExecutionResult) Status {
	worst := StatusOK
	for _, r := range results {
		if r.Result.Status > worst {
			worst = r.Result.Status
		}
	}
	return worst
}
