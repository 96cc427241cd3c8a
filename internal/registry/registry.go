// Package registry maps operation signatures to the kernel families that
// implement them. Registration only appends; lookups return fresh slices.
package registry

import (
	"slices"
	"sync"

	"github.com/samcharles93/kprof/internal/kernel"
)

type family struct {
	name    string
	factory kernel.Factory
}

type Registry struct {
	mu       sync.RWMutex
	families map[kernel.Signature][]family
}

func New() *Registry {
	return &Registry{families: make(map[kernel.Signature][]family)}
}

// Register appends a named family under sig. Families are enumerated in
// registration order.
func (r *Registry) Register(sig kernel.Signature, name string, factory kernel.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[sig] = append(r.families[sig], family{name: name, factory: factory})
}

// Instances builds every candidate registered for sig: families in
// registration order, each family's candidates in table order. It returns
// an empty slice when nothing matches.
func (r *Registry) Instances(sig kernel.Signature) []kernel.Candidate {
	r.mu.RLock()
	fams := slices.Clone(r.families[sig])
	r.mu.RUnlock()

	out := []kernel.Candidate{}
	for _, f := range fams {
		out = append(out, f.factory()...)
	}
	return out
}

// Families lists the family names registered for sig.
func (r *Registry) Families(sig kernel.Signature) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families[sig]))
	for _, f := range r.families[sig] {
		names = append(names, f.name)
	}
	return names
}

// Signatures returns every signature with at least one family, sorted by key.
func (r *Registry) Signatures() []kernel.Signature {
	r.mu.RLock()
	out := make([]kernel.Signature, 0, len(r.families))
	for sig := range r.families {
		out = append(out, sig)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b kernel.Signature) int {
		switch ka, kb := a.Key(), b.Key(); {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return out
}
