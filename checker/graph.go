package checker

import (
	"github.com/pkg/errors"
)

// EdgeType labels why one transaction must precede another.
type EdgeType int8

const (
	EdgeWW EdgeType = iota // version order between writes
	EdgeWR                 // a read observed this write
	EdgeRW                 // anti-dependency: read of an earlier version
	EdgeProcess            // same process, invocation order
	EdgeRealtime           // completed strictly before the other was invoked
)

func (t EdgeType) String() string {
	switch t {
	case EdgeWW:
		return "ww"
	case EdgeWR:
		return "wr"
	case EdgeRW:
		return "rw"
	case EdgeProcess:
		return "process"
	case EdgeRealtime:
		return "realtime"
	}
	return "unknown"
}

// graph is an arena of integer node ids with typed adjacency lists. No
// pointers, no per-node allocation beyond the lists; all searches run with
// explicit stacks.
type graph struct {
	adj   [][]int32
	types [][]EdgeType
}

func newGraph(n int) *graph {
	return &graph{
		adj:   make([][]int32, n),
		types: make([][]EdgeType, n),
	}
}

func (g *graph) len() int { return len(g.adj) }

func (g *graph) addNode() int32 {
	g.adj = append(g.adj, nil)
	g.types = append(g.types, nil)
	return int32(len(g.adj) - 1)
}

// addEdge links from → to. Self-loops are impossible by construction; one
// showing up means the builder is broken, so it is reported as an internal
// fault rather than a consistency violation.
func (g *graph) addEdge(from, to int32, t EdgeType) error {
	if from == to {
		return errors.Errorf("checker: self-loop on node %d (%s edge)", from, t)
	}
	g.adj[from] = append(g.adj[from], to)
	g.types[from] = append(g.types[from], t)
	return nil
}

// edgeType returns the label of some edge from → to.
func (g *graph) edgeType(from, to int32) EdgeType {
	for i, v := range g.adj[from] {
		if v == to {
			return g.types[from][i]
		}
	}
	return EdgeRealtime // unreachable when callers pass real edges
}

// sccIDs computes strongly connected components with an iterative Tarjan
// walk. Returns the component id per node and the size of each component.
func (g *graph) sccIDs() (comp []int32, sizes []int32) {
	n := g.len()
	const unvisited = int32(-1)
	index := make([]int32, n)
	low := make([]int32, n)
	onStack := make([]bool, n)
	comp = make([]int32, n)
	for i := range index {
		index[i] = unvisited
		comp[i] = unvisited
	}

	var next int32
	var stack []int32 // Tarjan stack
	type frame struct {
		node int32
		edge int
	}
	var frames []frame

	for root := int32(0); root < int32(n); root++ {
		if index[root] != unvisited {
			continue
		}
		frames = append(frames[:0], frame{node: root})
		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			v := f.node
			if f.edge == 0 {
				index[v] = next
				low[v] = next
				next++
				stack = append(stack, v)
				onStack[v] = true
			}
			advanced := false
			for f.edge < len(g.adj[v]) {
				w := g.adj[v][f.edge]
				f.edge++
				if index[w] == unvisited {
					frames = append(frames, frame{node: w})
					advanced = true
					break
				}
				if onStack[w] && low[v] > index[w] {
					low[v] = index[w]
				}
			}
			if advanced {
				continue
			}
			if low[v] == index[v] {
				id := int32(len(sizes))
				var size int32
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp[w] = id
					size++
					if w == v {
						break
					}
				}
				sizes = append(sizes, size)
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].node
				if low[parent] > low[v] {
					low[parent] = low[v]
				}
			}
		}
	}
	return comp, sizes
}

// shortestCycle returns the node sequence v0, v1, ..., v0 of a minimal
// cycle, or nil if the graph is acyclic. Minimality is by edge count: a BFS
// inside each non-trivial component from every member node.
func (g *graph) shortestCycle() []int32 {
	comp, sizes := g.sccIDs()
	var best []int32
	parent := make([]int32, g.len())
	depth := make([]int32, g.len())
	var queue []int32

	for v := int32(0); v < int32(g.len()); v++ {
		if sizes[comp[v]] < 2 {
			continue
		}
		if best != nil && len(best) <= 3 {
			break // a 2-cycle is already minimal
		}
		for i := range parent {
			parent[i] = -1
			depth[i] = -1
		}
		queue = append(queue[:0], v)
		depth[v] = 0
	search:
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			if best != nil && int(depth[u])+1 >= len(best) {
				continue // cannot improve on the best cycle
			}
			for _, w := range g.adj[u] {
				if comp[w] != comp[v] {
					continue
				}
				if w == v {
					cycle := collectPath(parent, u, v)
					if best == nil || len(cycle) < len(best) {
						best = cycle
					}
					break search
				}
				if depth[w] < 0 {
					depth[w] = depth[u] + 1
					parent[w] = u
					queue = append(queue, w)
				}
			}
		}
	}
	return best
}

// collectPath rebuilds v → ... → u → v from BFS parents, returned as
// v0..vk where v0 == vk == v.
func collectPath(parent []int32, u, v int32) []int32 {
	var rev []int32
	for w := u; w != v; w = parent[w] {
		rev = append(rev, w)
	}
	path := make([]int32, 0, len(rev)+1)
	path = append(path, v)
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	path = append(path, v)
	return path
}
