// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package graph tracks dependency relationships between plugins and derives
// load/unload ordering from them.
//
// Edges point from a dependency to its dependents, so walking forward from a
// plugin reaches everything that (transitively) needs it.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// CodeDependency is the oops error code for dependency failures (missing
// dependencies and circular dependency groups).
const CodeDependency = "DEPENDENCY"

// Graph is a directed dependency graph over plugin names.
// It is safe for concurrent use.
type Graph struct {
	mu sync.RWMutex
	// dependents[a] holds the plugins that depend on a.
	dependents map[string]map[string]struct{}
	// dependencies[a] holds the plugins a depends on.
	dependencies map[string]map[string]struct{}
	// registered marks names that were explicitly added via Add, as opposed
	// to nodes created implicitly by being referenced as a dependency.
	registered map[string]struct{}
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		dependents:   make(map[string]map[string]struct{}),
		dependencies: make(map[string]map[string]struct{}),
		registered:   make(map[string]struct{}),
	}
}

// Add inserts a plugin node (idempotently) and one edge per dependency.
// Dependency names that are not yet registered become placeholder nodes;
// MissingDependencies reports them until they are added themselves.
func (g *Graph) Add(name string, deps []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureNode(name)
	g.registered[name] = struct{}{}

	for _, dep := range deps {
		g.ensureNode(dep)
		g.dependents[dep][name] = struct{}{}
		g.dependencies[name][dep] = struct{}{}
	}
}

// Remove deletes a plugin node and all incident edges.
// Unknown names are a no-op.
func (g *Graph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for dep := range g.dependencies[name] {
		delete(g.dependents[dep], name)
	}
	for dependent := range g.dependents[name] {
		delete(g.dependencies[dependent], name)
	}
	delete(g.dependencies, name)
	delete(g.dependents, name)
	delete(g.registered, name)
}

// Contains reports whether name is a registered plugin.
func (g *Graph) Contains(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.registered[name]
	return ok
}

// MissingDependencies returns the declared dependencies of name that have
// not been registered via Add. The result is sorted for determinism.
func (g *Graph) MissingDependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var missing []string
	for dep := range g.dependencies[name] {
		if _, ok := g.registered[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	sort.Strings(missing)
	return missing
}

// Dependencies returns the transitive dependency closure of name.
func (g *Graph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.reach(name, g.dependencies)
}

// Dependents returns every plugin that transitively depends on name.
func (g *Graph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.reach(name, g.dependents)
}

// CanUnloadSafely reports whether no other plugin transitively depends on
// name. Transitive semantics are deliberate: unloading a transitive
// dependency while an intermediate plugin remains loaded would break it.
func (g *Graph) CanUnloadSafely(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.reach(name, g.dependents)) == 0
}

// CheckCircular fails if any strongly connected component of size > 1
// exists, listing each cyclic group in the error.
func (g *Graph) CheckCircular() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cycles := g.cycles()
	if len(cycles) == 0 {
		return nil
	}

	groups := make([]string, 0, len(cycles))
	for _, cycle := range cycles {
		groups = append(groups, "["+strings.Join(cycle, ", ")+"]")
	}
	return oops.Code(CodeDependency).
		With("cycles", groups).
		Errorf("circular dependencies detected: %s", strings.Join(groups, "; "))
}

// LoadOrder returns a topological order with dependencies before their
// dependents. Independent plugins are ordered by name so the result is
// deterministic. Fails with a DEPENDENCY error if the graph has a cycle.
func (g *Graph) LoadOrder() ([]string, error) {
	if err := g.CheckCircular(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.dependencies))
	for name := range g.dependencies {
		indegree[name] = len(g.dependencies[name])
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var released []string
		for dependent := range g.dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		ready = append(ready, released...)
	}

	// Unreachable after CheckCircular, but surface it as an error rather
	// than returning a silently truncated order.
	if len(order) != len(indegree) {
		return nil, oops.Code(CodeDependency).
			Errorf("topological sort left %d plugins unordered", len(indegree)-len(order))
	}
	return order, nil
}

// UnloadOrder is the exact reverse of LoadOrder.
func (g *Graph) UnloadOrder() ([]string, error) {
	order, err := g.LoadOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Stats summarizes the graph.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := 0
	for _, deps := range g.dependencies {
		edges += len(deps)
	}

	var avg float64
	if len(g.registered) > 0 {
		avg = float64(edges) / float64(len(g.registered))
	}
	return Stats{
		Plugins:            len(g.registered),
		Dependencies:       edges,
		AvgDepsPerPlugin:   avg,
		PlaceholderPlugins: len(g.dependencies) - len(g.registered),
	}
}

// Stats describes the size and shape of a dependency graph.
type Stats struct {
	Plugins            int
	Dependencies       int
	AvgDepsPerPlugin   float64
	PlaceholderPlugins int
}

func (g *Graph) ensureNode(name string) {
	if _, ok := g.dependencies[name]; !ok {
		g.dependencies[name] = make(map[string]struct{})
	}
	if _, ok := g.dependents[name]; !ok {
		g.dependents[name] = make(map[string]struct{})
	}
}

// reach returns all nodes reachable from start via the given adjacency,
// excluding start itself. Caller must hold the lock.
func (g *Graph) reach(start string, adj map[string]map[string]struct{}) []string {
	if _, ok := adj[start]; !ok {
		return nil
	}

	seen := map[string]struct{}{start: {}}
	stack := []string{start}
	var out []string

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range adj[node] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
			out = append(out, next)
		}
	}
	sort.Strings(out)
	return out
}

// cycles returns every strongly connected component of size > 1 using
// Tarjan's algorithm. Each component is name-sorted. Caller must hold the
// lock.
func (g *Graph) cycles() [][]string {
	index := 0
	indices := make(map[string]int, len(g.dependents))
	lowlink := make(map[string]int, len(g.dependents))
	onStack := make(map[string]bool, len(g.dependents))
	var stack []string
	var sccs [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for w := range g.dependents[v] {
			if _, ok := indices[w]; !ok {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 {
				sort.Strings(comp)
				sccs = append(sccs, comp)
			}
		}
	}

	names := make([]string, 0, len(g.dependents))
	for name := range g.dependents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := indices[name]; !ok {
			strongconnect(name)
		}
	}
	return sccs
}
