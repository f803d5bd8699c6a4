package hc

import (
	"slices"
	"strings"
	"sync"

	"github.com/keithlinneman/aem-healthcheck/internal/xerrors"
)

// Registry holds probes in registration order, unique by name.
type Registry struct {
	mu     sync.RWMutex
	probes []Probe
	names  map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds p. The tag set is copied, trimmed, deduplicated and sorted,
// so callers cannot change it afterwards.
func (r *Registry) Register(p Probe) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return xerrors.Wrap(ErrInvalidProbe, "probe name is required")
	}
	if p.Check == nil {
		return xerrors.Wrapf(ErrInvalidProbe, "probe %s has no check", p.Name)
	}
	p.Tags = normalizeTags(p.Tags)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	if _, dup := r.names[p.Name]; dup {
		return xerrors.Wrapf(ErrDuplicateName, "probe %s", p.Name)
	}
	r.names[p.Name] = struct{}{}
	r.probes = append(r.probes, p)
	return nil
}

// MustRegister is Register that panics on error, for static probe lists.
func (r *Registry) MustRegister(ps ...Probe) {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Probes returns a copy of all probes in registration order. Tag slices are
// copied too.
func (r *Registry) Probes() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Probe, len(r.probes))
	for i, p := range r.probes {
		out[i] = p.copy()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.probes)
}

// FindByTags returns, in registration order, the probes matching tags under
// mode. An empty tag set selects every probe. A tag prefixed with "-"
// excludes probes carrying it; a filter of only exclusions starts from all
// probes.
func (r *Registry) FindByTags(tags []string, mode TagMode) []Probe {
	include, exclude := splitTags(tags)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		if matches(p.Metadata, include, exclude, mode) {
			out = append(out, p.copy())
		}
	}
	return out
}

func (p Probe) copy() Probe {
	p.Metadata = p.Metadata.clone()
	return p
}

func matches(m Metadata, include, exclude []string, mode TagMode) bool {
	for _, t := range exclude {
		if m.HasTag(t) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	if mode == TagsAnd {
		for _, t := range include {
			if !m.HasTag(t) {
				return false
			}
		}
		return true
	}
	for _, t := range include {
		if m.HasTag(t) {
			return true
		}
	}
	return false
}

func splitTags(tags []string) (include, exclude []string) {
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if neg, ok := strings.CutPrefix(t, "-"); ok {
			if neg = strings.TrimSpace(neg); neg != "" {
				exclude = append(exclude, neg)
			}
			continue
		}
		if t != "" {
			include = append(include, t)
		}
	}
	return include, exclude
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
