// Package dag provides the stage dependency graph: cycle detection,
// topological ordering, execution levels and upstream resolution for partial
// runs.
//
// An edge is either live or persisted. A live edge means the child consumes
// in-memory state the parent produces in the same run. A persisted edge means
// the child reads the parent's durable output, so a partial run can start at
// the child without rerunning the parent.
package dag

import (
	"fmt"
	"slices"
)

// EdgeKind classifies a dependency.
type EdgeKind int

const (
	// Live dependencies must run in the same session as their dependent.
	Live EdgeKind = iota
	// Persisted dependencies are satisfied by previously written output.
	Persisted
)

func (k EdgeKind) String() string {
	if k == Persisted {
		return "persisted"
	}
	return "live"
}

type edge struct {
	id   string
	kind EdgeKind
}

// Graph is a directed acyclic graph of named nodes carrying data of type T.
// Iteration follows insertion order, which keeps every result deterministic.
type Graph[T any] struct {
	order    []string
	nodes    map[string]T
	children map[string][]edge
	parents  map[string][]edge
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:    make(map[string]T),
		children: make(map[string][]edge),
		parents:  make(map[string][]edge),
	}
}

// Add adds a node. Adding an existing ID replaces its data.
func (g *Graph[T]) Add(id string, data T) {
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = data
}

// Connect adds an edge from parent to child (child depends on parent).
func (g *Graph[T]) Connect(parent, child string, kind EdgeKind) error {
	if _, exists := g.nodes[parent]; !exists {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if _, exists := g.nodes[child]; !exists {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}

	if slices.ContainsFunc(g.children[parent], func(e edge) bool { return e.id == child }) {
		return nil
	}
	g.children[parent] = append(g.children[parent], edge{id: child, kind: kind})
	g.parents[child] = append(g.parents[child], edge{id: parent, kind: kind})
	return nil
}

// Node returns the data for id.
func (g *Graph[T]) Node(id string) (T, bool) {
	data, ok := g.nodes[id]
	return data, ok
}

// IDs returns all node IDs in insertion order.
func (g *Graph[T]) IDs() []string {
	return slices.Clone(g.order)
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.order)
}

// Parents returns the dependencies of id.
func (g *Graph[T]) Parents(id string) []string {
	return ids(g.parents[id])
}

// Children returns the dependents of id.
func (g *Graph[T]) Children(id string) []string {
	return ids(g.children[id])
}

// EdgeKind returns the kind of the edge from parent to child.
func (g *Graph[T]) EdgeKind(parent, child string) (EdgeKind, bool) {
	for _, e := range g.children[parent] {
		if e.id == child {
			return e.kind, true
		}
	}
	return Live, false
}

// Cycle returns a cycle path if the graph has one.
func (g *Graph[T]) Cycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	via := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, e := range g.children[id] {
			if !visited[e.id] {
				via[e.id] = id
				if dfs(e.id) {
					return true
				}
			} else if onStack[e.id] {
				cycle = []string{e.id}
				for cur := id; cur != e.id; cur = via[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{e.id}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}
	return nil
}

// Sort returns node IDs with every dependency before its dependents. Ties
// keep insertion order.
func (g *Graph[T]) Sort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Levels groups nodes by execution level. Level 0 holds nodes without
// dependencies; a node at level N depends only on nodes at levels below N.
func (g *Graph[T]) Levels() ([][]string, error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}

	level := make(map[string]int, len(g.order))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[id] {
			l = max(l, depth(p.id)+1)
		}
		level[id] = l
		return l
	}

	var levels [][]string
	for _, id := range g.order {
		l := depth(id)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Closure returns the selected nodes plus every node they reach upstream
// through live edges, in insertion order. Persisted edges stop the walk.
func (g *Graph[T]) Closure(selected []string) ([]string, error) {
	in := make(map[string]bool)

	var walk func(id string)
	walk = func(id string) {
		if in[id] {
			return
		}
		in[id] = true
		for _, p := range g.parents[id] {
			if p.kind == Live {
				walk(p.id)
			}
		}
	}

	for _, id := range selected {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("unknown node %q", id)
		}
		walk(id)
	}

	var out []string
	for _, id := range g.order {
		if in[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Downstream returns every node that depends on id, directly or not, in
// insertion order.
func (g *Graph[T]) Downstream(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, c := range g.children[n] {
			if !seen[c.id] {
				seen[c.id] = true
				walk(c.id)
			}
		}
	}
	walk(id)

	var out []string
	for _, n := range g.order {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// Subgraph returns a graph holding only ids and the edges among them.
func (g *Graph[T]) Subgraph(keep []string) *Graph[T] {
	sub := New[T]()
	set := make(map[string]bool, len(keep))
	for _, id := range keep {
		set[id] = true
	}
	for _, id := range g.order {
		if set[id] {
			sub.Add(id, g.nodes[id])
		}
	}
	for _, id := range sub.order {
		for _, e := range g.children[id] {
			if set[e.id] {
				_ = sub.Connect(id, e.id, e.kind)
			}
		}
	}
	return sub
}

func ids(edges []edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.id
	}
	return out
}
