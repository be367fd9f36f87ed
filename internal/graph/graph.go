// Package graph answers dependency questions over a project snapshot. It
// holds no state of its own; every query is recomputed from the tasks it is
// given.
package graph

import (
	"container/heap"
	"slices"

	"github.com/nick-dorsch/relay/pkg/models"
)

// Graph is a read-only view of the dependency edges of a set of tasks.
type Graph struct {
	order []string
	deps  map[string][]string
}

// New builds a view over tasks, preserving their order.
func New(tasks []*models.Task) *Graph {
	g := &Graph{
		order: make([]string, 0, len(tasks)),
		deps:  make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		g.order = append(g.order, t.ID)
		g.deps[t.ID] = t.Dependencies
	}
	return g
}

// Eligible reports whether every dependency of t is in completed.
func Eligible(t *models.Task, completed map[string]bool) bool {
	for _, d := range t.Dependencies {
		if !completed[d] {
			return false
		}
	}
	return true
}

// WouldCreateCycle reports whether inserting t would close a cycle: starting
// from each of t's dependencies, it follows existing edges looking for t.ID.
// Dependencies that are not in the graph are treated as leaves.
func (g *Graph) WouldCreateCycle(t *models.Task) bool {
	return g.CyclePath(t) != nil
}

// CyclePath returns the cycle t would close as a list of ids starting and
// ending with t.ID, or nil if there is none. The walk visits dependencies in
// their declared order, so the witness is deterministic.
func (g *Graph) CyclePath(t *models.Task) []string {
	visited := make(map[string]bool)
	var path []string

	var walk func(id string) bool
	walk = func(id string) bool {
		path = append(path, id)
		if id == t.ID {
			return true
		}
		if !visited[id] {
			visited[id] = true
			for _, d := range g.deps[id] {
				if walk(d) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		return false
	}

	for _, d := range t.Dependencies {
		path = path[:0]
		if walk(d) {
			return append([]string{t.ID}, path...)
		}
	}
	return nil
}

// Dependents returns the ids that depend directly on id, in insertion order.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, tid := range g.order {
		if slices.Contains(g.deps[tid], id) {
			out = append(out, tid)
		}
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoOrder returns the ids in a deterministic topological order, breaking
// ties by insertion order. The second result is false when the graph has a
// cycle, in which case the order only covers the acyclic part. Edges to ids
// outside the graph are ignored.
func (g *Graph) TopoOrder() ([]string, bool) {
	index := make(map[string]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}

	indeg := make([]int, len(g.order))
	outgoing := make([][]int, len(g.order))
	for i, id := range g.order {
		for _, d := range g.deps[id] {
			j, ok := index[d]
			if !ok {
				continue
			}
			indeg[i]++
			outgoing[j] = append(outgoing[j], i)
		}
	}

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]string, 0, len(g.order))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, g.order[n])
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out, len(out) == len(g.order)
}

// FindCycle returns one cycle among the graph's tasks, or nil. Used to
// explain a failed TopoOrder.
func (g *Graph) FindCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, d := range g.deps[id] {
			if _, known := g.deps[d]; !known {
				continue
			}
			switch color[d] {
			case white:
				if dfs(d) {
					return true
				}
			case gray:
				start := slices.Index(stack, d)
				cycle = append(slices.Clone(stack[start:]), d)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}
