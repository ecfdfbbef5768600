package probe

import (
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/samber/lo"

	"github.com/tracetap/tracetap/internal/tracecfg"
)

// Registry holds the full probe catalog and the enablement state. The
// catalog is fixed at construction: dependency edges are validated once
// there, so a cycle or a dangling dependency fails NewRegistry instead
// of surfacing during a later generation pass.
//
// Effective enablement is explicit OR forced: a probe stays on for as
// long as any enabled probe depends on it, even after the user switches
// it off explicitly.
type Registry struct {
	probes   map[string]*Probe
	regIndex map[string]int

	// order is the dependency-respecting probe order, computed once at
	// construction: every probe appears after all of its dependencies,
	// ties broken by registration order.
	order []string

	explicit map[string]bool
	forcedBy map[string]map[string]struct{}

	// generation increments on every enablement or setting mutation; a
	// cheap dirty flag for consumers caching derived state.
	generation uint64
}

// NewRegistry validates the probe set and computes the generation
// order. It returns an error when a probe depends on an unregistered id
// or when the dependency graph contains a cycle. Duplicate ids are a
// registration defect and panic.
func NewRegistry(probes ...*Probe) (*Registry, error) {
	r := &Registry{
		probes:   make(map[string]*Probe, len(probes)),
		regIndex: make(map[string]int, len(probes)),
		explicit: make(map[string]bool),
		forcedBy: make(map[string]map[string]struct{}),
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for i, p := range probes {
		if _, dup := r.probes[p.ID]; dup {
			panic(fmt.Sprintf("probe: duplicate probe id %q", p.ID))
		}
		r.probes[p.ID] = p
		r.regIndex[p.ID] = i
		if err := g.AddVertex(p.ID); err != nil {
			return nil, fmt.Errorf("probe %q: %w", p.ID, err)
		}
	}

	// Edges point dependency -> dependent so the topological order
	// yields dependencies first.
	for _, p := range probes {
		for _, dep := range p.Deps {
			if _, ok := r.probes[dep]; !ok {
				return nil, fmt.Errorf(
					"probe %q depends on unregistered probe %q", p.ID, dep)
			}
			if err := g.AddEdge(dep, p.ID); err != nil {
				return nil, fmt.Errorf(
					"probe %q dependency on %q: %w", p.ID, dep, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return r.regIndex[a] < r.regIndex[b]
	})
	if err != nil {
		return nil, fmt.Errorf("probe dependency graph: %w", err)
	}
	r.order = order
	return r, nil
}

// Get returns a registered probe by id.
func (r *Registry) Get(id string) (*Probe, bool) {
	p, ok := r.probes[id]
	return p, ok
}

// All returns every registered probe in registration order.
func (r *Registry) All() []*Probe {
	ps := lo.Map(lo.Keys(r.probes), func(id string, _ int) *Probe { return r.probes[id] })
	sort.Slice(ps, func(i, j int) bool { return r.regIndex[ps[i].ID] < r.regIndex[ps[j].ID] })
	return ps
}

// SetEnabled records the user's explicit choice for a probe. Unknown
// ids are a programmer error: ids are compile-time constants and the
// catalog is fixed at construction.
func (r *Registry) SetEnabled(id string, enabled bool) {
	if _, ok := r.probes[id]; !ok {
		panic(fmt.Sprintf("probe: SetEnabled on unregistered probe %q", id))
	}
	if enabled {
		r.explicit[id] = true
	} else {
		delete(r.explicit, id)
	}
	r.recomputeForced()
	r.generation++
}

// MarkDirty bumps the generation counter without changing enablement,
// used after a setting mutation so consumers recompute the descriptor.
func (r *Registry) MarkDirty() { r.generation++ }

// Generation returns the monotonically increasing mutation counter.
func (r *Registry) Generation() uint64 { return r.generation }

// ExplicitlyEnabled reports the user's own toggle for a probe,
// ignoring dependency forcing.
func (r *Registry) ExplicitlyEnabled(id string) bool { return r.explicit[id] }

// Enabled reports the probe's effective state: explicitly on, or
// forced on by at least one enabled dependent.
func (r *Registry) Enabled(id string) bool {
	return r.explicit[id] || len(r.forcedBy[id]) > 0
}

// Dependants returns the titles of enabled probes currently forcing id
// on, in registration order. Empty when nothing forces it.
func (r *Registry) Dependants(id string) []string {
	ids := lo.Keys(r.forcedBy[id])
	sort.Slice(ids, func(i, j int) bool { return r.regIndex[ids[i]] < r.regIndex[ids[j]] })
	return lo.Map(ids, func(id string, _ int) string { return r.probes[id].Title })
}

// recomputeForced rebuilds the forced-by sets from scratch. Walking the
// generation order backwards visits dependents before their
// dependencies, so each probe's effective state is settled by the time
// its dependencies are updated. Forcing is transitive through chains of
// forced probes.
func (r *Registry) recomputeForced() {
	r.forcedBy = make(map[string]map[string]struct{})
	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		if !r.Enabled(id) {
			continue
		}
		for _, dep := range r.probes[id].Deps {
			if r.forcedBy[dep] == nil {
				r.forcedBy[dep] = make(map[string]struct{})
			}
			r.forcedBy[dep][id] = struct{}{}
		}
	}
}

// EnabledInOrder returns the effective-enabled probes supporting pl, in
// dependency order.
func (r *Registry) EnabledInOrder(pl Platform) []*Probe {
	var out []*Probe
	for _, id := range r.order {
		p := r.probes[id]
		if r.Enabled(id) && p.SupportsPlatform(pl) {
			out = append(out, p)
		}
	}
	return out
}

// GenerateConfig resets the builder's per-generation state and replays
// every enabled probe's contribution in dependency order. The pass is
// synchronous and runs to completion, so readers never observe a
// half-built descriptor.
func (r *Registry) GenerateConfig(b *tracecfg.Builder, pl Platform) {
	b.ResetForGeneration()
	for _, p := range r.EnabledInOrder(pl) {
		if p.GenConfig != nil {
			p.GenConfig(b)
		}
	}
}
