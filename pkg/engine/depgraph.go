package engine

import (
	"fmt"
	"strings"
)

// depGraph validates DIMENSION[...] references across a compiled set.
// It checks that every reference points at a known dimension with a
// strictly lower index, and that the reference graph is acyclic. The
// index check already rules out cycles for well-formed sets, but the
// cycle walk produces a readable path when duplicate or misordered
// indexes slip through.
type depGraph struct {
	// byName maps dimension name to its compiled form.
	byName map[string]*CompiledDimension

	// edges maps dimension name to the names it references.
	edges map[string][]string
}

func buildDepGraph(dims []*CompiledDimension) *depGraph {
	g := &depGraph{
		byName: make(map[string]*CompiledDimension, len(dims)),
		edges:  make(map[string][]string, len(dims)),
	}
	for _, d := range dims {
		g.byName[d.Name] = d
	}
	for _, d := range dims {
		seen := make(map[string]bool)
		for _, st := range d.Statements {
			for _, ref := range st.Predicate.References() {
				if !seen[ref] {
					seen[ref] = true
					g.edges[d.Name] = append(g.edges[d.Name], ref)
				}
			}
		}
	}
	return g
}

// validate checks reference targets, index ordering and acyclicity.
func (g *depGraph) validate() error {
	for name, refs := range g.edges {
		from := g.byName[name]
		for _, ref := range refs {
			target, exists := g.byName[ref]
			if !exists {
				return NewPermanentError(
					fmt.Sprintf("dimension %q references unknown dimension %q", name, ref),
					nil,
				).WithCode(ErrCodeUnresolvedReference).WithDimension(name)
			}
			if target.Index >= from.Index {
				return NewPermanentError(
					fmt.Sprintf("dimension %q (index %d) references %q (index %d); references must point at a lower index",
						name, from.Index, ref, target.Index),
					nil,
				).WithCode(ErrCodeUnresolvedReference).WithDimension(name)
			}
		}
	}

	return g.detectCycles()
}

// detectCycles uses depth-first search over the reference edges.
func (g *depGraph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for name := range g.byName {
		if !visited[name] {
			if cycle := g.walk(name, visited, recStack, nil); cycle != nil {
				return NewPermanentError(
					fmt.Sprintf("circular dimension reference: %s", strings.Join(cycle, " -> ")),
					nil,
				).WithCode(ErrCodeDependencyCycle)
			}
		}
	}
	return nil
}

func (g *depGraph) walk(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, ref := range g.edges[name] {
		if _, exists := g.byName[ref]; !exists {
			continue
		}
		if !visited[ref] {
			if cycle := g.walk(ref, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[ref] {
			start := 0
			for i, id := range path {
				if id == ref {
					start = i
					break
				}
			}
			return append(path[start:], ref)
		}
	}

	recStack[name] = false
	return nil
}
