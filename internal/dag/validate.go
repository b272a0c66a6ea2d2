package dag

import (
	"container/heap"
	"sort"
)

// validateConfig checks referential integrity, alias termination and
// acyclicity, and returns a deterministic topological order.
//
// Checks run in a fixed order over sorted names, so the first error reported
// for a given graph is always the same.
func validateConfig(c *Config) ([]string, error) {
	names := sortedKeys(c.tasks)

	for _, name := range sortedKeys(c.parameters) {
		if name == "" {
			return nil, invalidf("parameter name is empty")
		}
		if err := c.parameters[name].validate(); err != nil {
			return nil, invalidf("parameter %q: %v", name, err)
		}
	}

	for _, name := range names {
		t := c.tasks[name]
		if err := t.validateShape(); err != nil {
			return nil, err
		}
		for _, ref := range t.References() {
			dep, ok := c.tasks[ref.Task]
			if !ok {
				return nil, danglingf("task %q references missing task %q", name, ref.Task)
			}
			if !dep.HasSlot(ref.Name) {
				return nil, danglingf("task %q references %q, but task %q declares no output %q", name, ref.String(), ref.Task, ref.Name)
			}
		}
		for _, p := range t.Parameters() {
			if _, ok := c.parameters[p]; !ok {
				return nil, danglingf("task %q references missing parameter %q", name, p)
			}
		}
	}

	for _, alias := range sortedKeys(c.aliases) {
		if _, err := c.Resolve(AliasTarget(alias)); err != nil {
			return nil, err
		}
	}

	g := newDepGraph(c.tasks, names)
	order := g.topoOrderIndices()
	if len(order) != len(names) {
		return nil, cycleError(g.findCycleDeterministic())
	}
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = names[idx]
	}
	return out, nil
}

// depGraph is the index form of the task dependency relation.
// An edge i -> j means task j consumes an output of task i.
type depGraph struct {
	names    []string
	outgoing [][]int
	indeg    []int
}

func newDepGraph(tasks map[string]Task, names []string) *depGraph {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	g := &depGraph{
		names:    names,
		outgoing: make([][]int, len(names)),
		indeg:    make([]int, len(names)),
	}
	for j, name := range names {
		seen := make(map[int]struct{})
		for _, ref := range tasks[name].References() {
			i := index[ref.Task]
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			g.outgoing[i] = append(g.outgoing[i], j)
			g.indeg[j]++
		}
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}
	return g
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

// topoOrderIndices is Kahn's algorithm with a min-heap ready queue, so ties
// resolve to the lexicographically smallest task name.
func (g *depGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycleDeterministic returns one stable cycle witness, in edge direction,
// with the first task repeated at the end.
func (g *depGraph) findCycleDeterministic() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.names))
	parent := make([]int, len(g.names))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back edge u -> v: walk parents from u back to v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.names {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.names[cycle[i]])
	}
	return out
}
