// ComponentPack is this repository's analogue of
// original_source/src/vt/runtime/component/base.h's ComponentRegistry
// + BaseComponent pair: components declare dependencies on other
// components by name, and the pack brings them up in dependency order
// (and tears them down in reverse) instead of requiring Initialize to
// hard-code a sequence by hand.
package runtime

import "fmt"

// Component is anything the runtime brings up and tears down as a
// unit. Progress is polled once per Runtime.Progress call for
// components that do real work there (the scheduler, the messenger);
// components with nothing to poll just return 0.
type Component interface {
	Name() string
	Initialize() error
	Finalize() error
	Progress() int
}

type registration struct {
	c    Component
	deps []string
}

// ComponentPack holds the set of components and their dependency
// edges, and computes a valid bring-up order once on Start.
type ComponentPack struct {
	regs  map[string]registration
	order []string
}

func NewComponentPack() *ComponentPack {
	return &ComponentPack{regs: map[string]registration{}}
}

// Register adds c to the pack; dependsOn names components that must
// be initialized before c (mirrors ComponentRegistry::dependsOn<T,
// Deps...>()).
func (p *ComponentPack) Register(c Component, dependsOn ...string) {
	p.regs[c.Name()] = registration{c: c, deps: dependsOn}
}

// Start topologically sorts the registered components by their
// declared dependencies and calls Initialize on each in that order.
// If any component's Initialize fails, already-started components are
// torn down in reverse before Start returns the error.
func (p *ComponentPack) Start() error {
	order, err := topoSort(p.regs)
	if err != nil {
		return err
	}
	p.order = order

	for i, name := range order {
		if err := p.regs[name].c.Initialize(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = p.regs[order[j]].c.Finalize()
			}
			return fmt.Errorf("runtime: initialize %q: %w", name, err)
		}
	}
	return nil
}

// Finalize tears every component down in reverse bring-up order,
// collecting (rather than stopping on) the first error so every
// component gets a chance to release its resources.
func (p *ComponentPack) Finalize() error {
	var firstErr error
	for i := len(p.order) - 1; i >= 0; i-- {
		if err := p.regs[p.order[i]].c.Finalize(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("runtime: finalize %q: %w", p.order[i], err)
		}
	}
	return firstErr
}

// Progress polls every pollable component in bring-up order, summing
// the amount of work each reports having done.
func (p *ComponentPack) Progress() int {
	n := 0
	for _, name := range p.order {
		n += p.regs[name].c.Progress()
	}
	return n
}

// topoSort runs Kahn's algorithm over the dependency graph; a cycle or
// a reference to an unregistered component is a configuration error.
func topoSort(regs map[string]registration) ([]string, error) {
	indeg := make(map[string]int, len(regs))
	dependents := make(map[string][]string, len(regs))
	for name := range regs {
		indeg[name] = 0
	}
	for name, r := range regs {
		for _, dep := range r.deps {
			if _, ok := regs[dep]; !ok {
				return nil, fmt.Errorf("runtime: component %q depends on unregistered %q", name, dep)
			}
			indeg[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	// deterministic order among ties: registration isn't ordered since
	// regs is a map, so sort the zero-indegree frontier by name.
	sortStrings(ready)

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, dependent := range dependents[next] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sortStrings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(regs) {
		return nil, fmt.Errorf("runtime: component dependency graph has a cycle")
	}
	return order, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
