package node

import (
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/kiln/internal/entity"
)

// ID addresses a node inside its Graph.
type ID uint32

// Graph is the arena that owns every node of a build. Nodes refer to each
// other by ID; the scheduling edges (source nodes and dependency nodes) are
// kept as roaring bitmaps so closure and level computations stay cheap.
type Graph struct {
	mu       sync.RWMutex
	nodes    []*Node
	upstream []*roaring.Bitmap
}

// NewGraph returns an empty arena.
func NewGraph() *Graph {
	return &Graph{}
}

// Add creates a node for builder b over the raw sources. A source may be a
// path string, an entity.Entity, or a *Node whose targets become sources.
// Relative paths resolve against cwd, which defaults to the process working
// directory.
func (g *Graph) Add(b Builder, sources []any, cwd string) *Node {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	g.mu.Lock()
	id := ID(len(g.nodes))
	n := &Node{
		graph:    g,
		id:       id,
		builder:  b,
		cwd:      cwd,
		sources:  flatten(sources),
		depNodes: roaring.New(),
	}
	edges := roaring.New()
	for _, src := range n.sources {
		if up, ok := src.(*Node); ok && up.graph == g {
			edges.Add(uint32(up.id))
		}
	}
	n.sourceNodes = edges.Clone()
	g.nodes = append(g.nodes, n)
	g.upstream = append(g.upstream, edges)
	g.mu.Unlock()

	return n
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id ID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// All returns the set of every node ID.
func (g *Graph) All() *roaring.Bitmap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	all := roaring.New()
	all.AddRange(0, uint64(len(g.nodes)))
	return all
}

// Upstream returns a copy of the IDs node id waits for.
func (g *Graph) Upstream(id ID) *roaring.Bitmap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(id) >= len(g.upstream) {
		return roaring.New()
	}
	return g.upstream[id].Clone()
}

func (g *Graph) link(id ID, deps *roaring.Bitmap) {
	g.mu.Lock()
	g.upstream[id].Or(deps)
	g.mu.Unlock()
}

// Closure returns ids plus every node they transitively wait for.
func (g *Graph) Closure(ids ...ID) *roaring.Bitmap {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := roaring.New()
	queue := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(g.nodes) && seen.CheckedAdd(uint32(id)) {
			queue = append(queue, uint32(id))
		}
	}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		it := g.upstream[cur].Iterator()
		for it.HasNext() {
			up := it.Next()
			if seen.CheckedAdd(up) {
				queue = append(queue, up)
			}
		}
	}
	return seen
}

// Levels orders the nodes of subset (every node when nil) into topological
// levels: each node appears after all of its upstream nodes within subset.
// Nodes within a level are independent of each other.
func (g *Graph) Levels(subset *roaring.Bitmap) ([][]*Node, error) {
	if subset == nil {
		subset = g.All()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	pending := make(map[uint32]*roaring.Bitmap, subset.GetCardinality())
	it := subset.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) >= len(g.nodes) {
			continue
		}
		pending[id] = roaring.And(g.upstream[id], subset)
	}

	var levels [][]*Node
	done := roaring.New()
	for len(pending) > 0 {
		ready := roaring.New()
		for id, up := range pending {
			if up.IsEmpty() || roaring.AndNot(up, done).IsEmpty() {
				ready.Add(id)
			}
		}
		if ready.IsEmpty() {
			remaining := roaring.New()
			for id := range pending {
				remaining.Add(id)
			}
			return nil, &Error{Kind: ErrCycle, Detail: remaining.String()}
		}

		level := make([]*Node, 0, ready.GetCardinality())
		rit := ready.Iterator()
		for rit.HasNext() {
			id := rit.Next()
			level = append(level, g.nodes[id])
			delete(pending, id)
		}
		done.Or(ready)
		levels = append(levels, level)
	}
	return levels, nil
}

// flatten expands nested []any, []*Node, []entity.Entity and []string lists.
func flatten(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch vs := v.(type) {
		case []any:
			out = append(out, flatten(vs)...)
		case []*Node:
			for _, n := range vs {
				out = append(out, n)
			}
		case []entity.Entity:
			for _, e := range vs {
				out = append(out, e)
			}
		case []string:
			for _, s := range vs {
				out = append(out, s)
			}
		default:
			out = append(out, v)
		}
	}
	return out
}
