package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle found in the story graph
type CycleError struct {
	Path []string // Cycle path, first node repeated last
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Graph holds story dependency edges and answers ordering queries.
// Dependencies on ids that were never added are treated as external and
// never block scheduling.
type Graph struct {
	deps       map[string][]string // story id -> forward dependencies
	dependents map[string][]string // story id -> stories depending on it
}

// NewGraph creates an empty dependency graph
func NewGraph() *Graph {
	return &Graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddStory registers a story and its dependencies.
// Adding the same id again replaces its dependency list.
func (g *Graph) AddStory(id string, deps []string) {
	if old, ok := g.deps[id]; ok {
		for _, dep := range old {
			g.dependents[dep] = remove(g.dependents[dep], id)
		}
	}

	g.deps[id] = append([]string(nil), deps...)
	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], id)
	}
}

// Contains returns true if the id was added as a story
func (g *Graph) Contains(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// Len returns the number of stories in the graph
func (g *Graph) Len() int {
	return len(g.deps)
}

// Dependencies returns the forward dependencies of a story
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the stories that depend on the given id
func (g *Graph) Dependents(id string) []string {
	out := append([]string(nil), g.dependents[id]...)
	sort.Strings(out)
	return out
}

// Executable returns the stories whose dependencies are all satisfied by
// the completed set, excluding stories already completed. A dependency on
// an id not present in the graph is considered satisfied.
func (g *Graph) Executable(completed map[string]bool) []string {
	var ready []string
	for id, deps := range g.deps {
		if completed[id] {
			continue
		}
		satisfied := true
		for _, dep := range deps {
			if !g.Contains(dep) {
				continue // External dependency never blocks
			}
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// DetectCycle searches for a dependency cycle and returns its path, or nil.
// The returned path starts and ends at the same story.
func (g *Graph) DetectCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range sorted(g.deps[id]) {
			if !g.Contains(dep) {
				continue
			}
			if onStack[dep] {
				// Slice the stack from the first occurrence for the minimal cycle
				for i, node := range stack {
					if node == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] && visit(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalOrder returns a deterministic dependency-respecting order of
// all stories using Kahn's algorithm. Ties among ready stories break
// lexicographically. Returns a CycleError if the graph is cyclic.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if cycle := g.DetectCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	inDegree := make(map[string]int, len(g.deps))
	for id, deps := range g.deps {
		count := 0
		for _, dep := range deps {
			if g.Contains(dep) {
				count++
			}
		}
		inDegree[id] = count
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.deps))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range g.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	return order, nil
}

// ids returns all story ids in lexicographic order
func (g *Graph) ids() []string {
	out := make([]string, 0, len(g.deps))
	for id := range g.deps {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func remove(in []string, value string) []string {
	out := in[:0]
	for _, v := range in {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
