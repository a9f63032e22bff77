// Package registry holds module descriptors and fallback chains and groups
// modules into dependency-ordered phases.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/pipelined/internal/executor"
	"github.com/aristath/pipelined/internal/resilience"
)

// DefaultTimeout applies to descriptors registered without a timeout.
const DefaultTimeout = 300 * time.Second

// Descriptor describes one module. Descriptors are immutable once
// registered; the registry only hands out copies.
type Descriptor struct {
	Name             string
	Dependencies     []string
	Critical         bool
	Timeout          time.Duration
	MaxRetries       int
	FallbackID       string // empty means no fallback
	ParallelEligible bool
	Executor         executor.Executor

	// Breaker overrides the default breaker settings when non-nil.
	Breaker *resilience.BreakerSettings
}

func (d Descriptor) clone() Descriptor {
	d.Dependencies = slices.Clone(d.Dependencies)
	if d.Breaker != nil {
		b := *d.Breaker
		d.Breaker = &b
	}
	return d
}

// Phase is a set of modules whose dependencies all live in earlier phases.
type Phase struct {
	Name    string
	Modules []Descriptor
}

// Names returns the module names of the phase in order.
func (p Phase) Names() []string {
	names := make([]string, len(p.Modules))
	for i, m := range p.Modules {
		names[i] = m.Name
	}
	return names
}

// Registry stores module descriptors and fallback chains.
type Registry struct {
	mu             sync.RWMutex
	modules        map[string]Descriptor
	order          []string // registration order
	fallbacks      map[string]*resilience.FallbackChain
	defaultTimeout time.Duration
}

// New creates an empty registry. A non-positive defaultTimeout falls back to
// DefaultTimeout.
func New(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		modules:        make(map[string]Descriptor),
		fallbacks:      make(map[string]*resilience.FallbackChain),
		defaultTimeout: defaultTimeout,
	}
}

// Register adds a module. MaxRetries below 1 becomes 1 and a zero timeout
// becomes the registry default. Dependencies are only checked by
// ResolvePhases, so modules may be registered in any order.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return &InvalidModuleError{Reason: "empty name"}
	}
	if d.Executor == nil {
		return &InvalidModuleError{Name: d.Name, Reason: "no executor"}
	}
	d = d.clone()
	if d.MaxRetries < 1 {
		d.MaxRetries = 1
	}
	if d.Timeout <= 0 {
		d.Timeout = r.defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[d.Name]; exists {
		return &DuplicateModuleError{Name: d.Name}
	}
	r.modules[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterFallback adds a fallback chain under its ID.
func (r *Registry) RegisterFallback(chain *resilience.FallbackChain) error {
	if err := chain.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fallbacks[chain.ID]; exists {
		return fmt.Errorf("fallback chain %q already registered", chain.ID)
	}
	cp := &resilience.FallbackChain{ID: chain.ID, Candidates: slices.Clone(chain.Candidates)}
	r.fallbacks[chain.ID] = cp
	return nil
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.modules[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Modules returns copies of all descriptors in registration order.
func (r *Registry) Modules() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name].clone())
	}
	return out
}

// Fallback returns the chain registered under id. Chains are not modified
// after registration and may be shared.
func (r *Registry) Fallback(id string) (*resilience.FallbackChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.fallbacks[id]
	return c, ok
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ResolvePhases groups modules into phases: phase k holds every module whose
// dependencies all sit in phases 0..k-1. Within a phase modules keep their
// registration order.
func (r *Registry) ResolvePhases() ([]Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		d := r.modules[name]
		for _, dep := range d.Dependencies {
			if dep == name {
				return nil, &DependencyCycleError{Members: []string{name}}
			}
			if _, ok := r.modules[dep]; !ok {
				return nil, &UnknownDependencyError{Module: name, Dependency: dep}
			}
		}
		if d.FallbackID != "" {
			if _, ok := r.fallbacks[d.FallbackID]; !ok {
				return nil, &UnknownFallbackError{Module: name, FallbackID: d.FallbackID}
			}
		}
	}

	sorted, err := r.sort()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(sorted))
	depth := 0
	for _, name := range sorted {
		lvl := 0
		for _, dep := range r.modules[name].Dependencies {
			lvl = max(lvl, level[dep]+1)
		}
		level[name] = lvl
		depth = max(depth, lvl+1)
	}

	phases := make([]Phase, depth)
	for i := range phases {
		phases[i].Name = fmt.Sprintf("phase-%d", i+1)
	}
	for _, name := range r.order {
		lvl := level[name]
		phases[lvl].Modules = append(phases[lvl].Modules, r.modules[name].clone())
	}
	return phases, nil
}

// sort must be called with r.mu held.
func (r *Registry) sort() ([]string, error) {
	edges := make([]toposort.Edge, 0, len(r.order))
	for _, name := range r.order {
		deps := r.modules[name].Dependencies
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range deps {
			edges = append(edges, toposort.Edge{dep, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &DependencyCycleError{Members: r.cycleMembers()}
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(r.order) {
		return nil, errors.New("topological sort lost modules")
	}
	return order, nil
}

// cycleMembers peels off every module that cannot be on a cycle: first those
// whose dependencies can all be satisfied, then those nothing remaining
// depends on. What is left sits on at least one cycle.
func (r *Registry) cycleMembers() []string {
	remaining := make(map[string]bool, len(r.modules))
	for name := range r.modules {
		remaining[name] = true
	}

	for changed := true; changed; {
		changed = false
		for name := range remaining {
			satisfied := true
			for _, dep := range r.modules[name].Dependencies {
				if remaining[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				delete(remaining, name)
				changed = true
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for name := range remaining {
			needed := false
			for other := range remaining {
				if slices.Contains(r.modules[other].Dependencies, name) {
					needed = true
					break
				}
			}
			if !needed {
				delete(remaining, name)
				changed = true
			}
		}
	}

	members := make([]string, 0, len(remaining))
	for name := range remaining {
		members = append(members, name)
	}
	sort.Strings(members)
	return members
}
