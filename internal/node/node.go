package node

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/kiln/internal/entity"
)

// State is where a node stands in the actuality protocol.
type State int

const (
	Unresolved State = iota
	Identified
	Unbuilt
	Actual
	Stale
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Identified:
		return "identified"
	case Unbuilt:
		return "unbuilt"
	case Actual:
		return "actual"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type verdict uint8

const (
	verdictNone verdict = iota
	verdictActual
	verdictStale
)

// Node is one build step instance: a builder applied to a set of sources.
// A node must not be used from more than one goroutine at a time.
type Node struct {
	graph   *Graph
	id      ID
	builder Builder
	cwd     string

	sources      []any
	sourceNodes  *roaring.Bitmap
	sourceValues []entity.Entity
	initiated    bool

	depNodes  *roaring.Bitmap
	depValues []entity.Entity

	identity  entity.Signature
	signature entity.Signature

	// nil means "not known yet"; an empty slice is a real, empty result.
	targets      []entity.Entity
	sideEffects  []entity.Entity
	implicitDeps []entity.Entity

	committed bool
	verdict   verdict

	shrunk bool
	descr  [2]BuildArgs // indexed by brief
}

// ID returns the node's address in its graph.
func (n *Node) ID() ID { return n.id }

// Graph returns the arena owning the node.
func (n *Node) Graph() *Graph { return n.graph }

// Builder returns the node's (possibly canonicalized) builder.
func (n *Node) Builder() Builder { return n.builder }

// Cwd is the directory relative source paths resolve against.
func (n *Node) Cwd() string { return n.cwd }

func (n *Node) String() string {
	if n.builder == nil {
		return fmt.Sprintf("node#%d", n.id)
	}
	return fmt.Sprintf("%s#%d", n.builder.Name(), n.id)
}

// Depends declares explicit dependencies. Each value is a *Node of the same
// graph (its targets become dependency values once it is built) or an
// entity.Entity; slices of either are flattened. Nothing is recorded unless
// every value is valid.
func (n *Node) Depends(deps ...any) error {
	nodes := roaring.New()
	var values []entity.Entity
	for _, d := range flatten(deps) {
		switch v := d.(type) {
		case *Node:
			if v == nil || v.graph != n.graph {
				return n.failf(ErrInvalidDependency, "node %v belongs to another graph", v)
			}
			nodes.Add(uint32(v.id))
		case entity.Entity:
			if v == nil {
				return n.failf(ErrInvalidDependency, "nil entity")
			}
			values = append(values, v)
		default:
			return n.failf(ErrInvalidDependency, "%T(%v)", d, d)
		}
	}

	if len(values) > 0 {
		n.depValues = append(n.depValues, values...)
		sortByName(n.depValues)
	}
	if !nodes.IsEmpty() {
		if n.depNodes == nil {
			n.depNodes = roaring.New()
		}
		n.depNodes.Or(nodes)
		n.graph.link(n.id, nodes)
	}
	return nil
}

// Initiate canonicalizes the builder, resolves the raw sources into entities
// and asks the builder for proposed targets. Calling it again is a no-op.
func (n *Node) Initiate() error {
	if n.initiated {
		return nil
	}
	if n.shrunk {
		return n.fail(ErrNotInitiated)
	}

	b, err := n.builder.Initiate()
	if err != nil {
		return fmt.Errorf("initiate %s: %w", n, err)
	}
	n.builder = b

	values := make([]entity.Entity, 0, len(n.sources))
	for _, src := range n.sources {
		switch v := src.(type) {
		case *Node:
			values = append(values, v.TargetValues()...)
		case entity.Entity:
			values = append(values, v)
		case string:
			if v != "" && !filepath.IsAbs(v) {
				v = filepath.Join(n.cwd, v)
			}
			e, err := n.builder.MakeValue(v, true)
			if err != nil {
				return fmt.Errorf("resolve source %q of %s: %w", v, n, err)
			}
			values = append(values, e)
		default:
			e, err := n.builder.MakeValue(v, true)
			if err != nil {
				return fmt.Errorf("resolve source %v of %s: %w", v, n, err)
			}
			values = append(values, e)
		}
	}
	n.sources = nil
	n.sourceValues = values
	n.initiated = true

	targets, err := n.builder.TargetValues(n)
	if err != nil {
		return fmt.Errorf("propose targets of %s: %w", n, err)
	}
	if targets != nil {
		n.targets = targets
	}
	return nil
}

// SourceValues returns the resolved source entities.
func (n *Node) SourceValues() ([]entity.Entity, error) {
	if !n.initiated {
		return nil, n.fail(ErrNotInitiated)
	}
	return n.sourceValues, nil
}

// Sources returns the display values of the resolved sources.
func (n *Node) Sources() ([]string, error) {
	values, err := n.SourceValues()
	if err != nil {
		return nil, err
	}
	return entity.Gets(values), nil
}

// SourceNodes returns the upstream nodes whose targets feed this node.
func (n *Node) SourceNodes() []*Node { return n.nodes(n.sourceNodes) }

// DepNodes returns the dependency nodes not yet drained into DepValues.
func (n *Node) DepNodes() []*Node { return n.nodes(n.depNodes) }

func (n *Node) nodes(ids *roaring.Bitmap) []*Node {
	if ids == nil {
		return nil
	}
	out := make([]*Node, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, n.graph.Node(ID(it.Next())))
	}
	return out
}

// DepValues returns the explicit dependency entities sorted by name. The
// first call drains the dependency nodes, splicing in their targets.
func (n *Node) DepValues() []entity.Entity {
	if n.depNodes != nil && !n.depNodes.IsEmpty() {
		it := n.depNodes.Iterator()
		for it.HasNext() {
			dep := n.graph.Node(ID(it.Next()))
			n.depValues = append(n.depValues, dep.TargetValues()...)
		}
		n.depNodes.Clear()
		sortByName(n.depValues)
	}
	return n.depValues
}

// Targets returns the display values of the current targets.
func (n *Node) Targets() []string { return entity.Gets(n.targets) }

// TargetValues returns the current target entities; nil when unknown.
func (n *Node) TargetValues() []entity.Entity { return n.targets }

// SideEffectValues returns the current side-effect entities; nil when unknown.
func (n *Node) SideEffectValues() []entity.Entity { return n.sideEffects }

// ImplicitDepValues returns the implicit dependencies set by the last build,
// or adopted from the persisted record when the node was found actual.
func (n *Node) ImplicitDepValues() []entity.Entity { return n.implicitDeps }

// SetTargets records the outcome of a build, converting raw values with the
// builder's value factory.
func (n *Node) SetTargets(targets, sideEffects, implicitDeps []any) error {
	return n.setTargets(n.builder.MakeValues, targets, sideEffects, implicitDeps)
}

// SetFileTargets is SetTargets using the builder's file factory.
func (n *Node) SetFileTargets(targets, sideEffects, implicitDeps []any) error {
	return n.setTargets(n.builder.MakeFileValues, targets, sideEffects, implicitDeps)
}

func (n *Node) setTargets(makeValues func([]any, bool) ([]entity.Entity, error), targets, sideEffects, implicitDeps []any) error {
	if err := n.ensureIDs(); err != nil {
		return err
	}

	t, err := makeValues(flatten(targets), false)
	if err != nil {
		return fmt.Errorf("targets of %s: %w", n, err)
	}
	se, err := makeValues(flatten(sideEffects), false)
	if err != nil {
		return fmt.Errorf("side effects of %s: %w", n, err)
	}
	deps, err := makeValues(flatten(implicitDeps), true)
	if err != nil {
		return fmt.Errorf("implicit deps of %s: %w", n, err)
	}

	n.targets = nonNil(t)
	n.sideEffects = nonNil(se)
	n.implicitDeps = nonNil(deps)
	n.committed = true
	n.verdict = verdictNone
	return nil
}

// Build runs the builder on the node.
func (n *Node) Build(ctx context.Context) error {
	return n.builder.Build(ctx, n)
}

// Prebuild lets the builder replace the node with sub-nodes. A nil result
// means the node builds itself.
func (n *Node) Prebuild() ([]*Node, error) {
	return n.builder.Prebuild(n)
}

// PrebuildFinished hands the finished sub-nodes back to the builder.
func (n *Node) PrebuildFinished(prebuilt []*Node) error {
	return n.builder.PrebuildFinished(n, prebuilt)
}

// Split creates one node per resolved source, built by b. Each sub-node
// inherits the dependency values and the scheduling edges of n.
func (n *Node) Split(b Builder) ([]*Node, error) {
	if !n.initiated {
		return nil, n.fail(ErrNotInitiated)
	}
	deps := n.DepValues()
	upstream := n.graph.Upstream(n.id)

	nodes := make([]*Node, 0, len(n.sourceValues))
	for _, src := range n.sourceValues {
		sub := n.graph.Add(b, []any{src}, n.cwd)
		sub.depValues = slices.Clone(deps)
		n.graph.link(sub.id, upstream)
		nodes = append(nodes, sub)
	}
	return nodes, nil
}

// Shrink drops everything but the targets, side effects, implicit
// dependencies and descriptions so a finished node holds as little memory as
// possible.
func (n *Node) Shrink() {
	if n.shrunk {
		return
	}
	n.descr[0] = n.buildArgs(false)
	n.descr[1] = n.buildArgs(true)
	n.shrunk = true

	n.builder = nil
	n.cwd = ""
	n.sources = nil
	n.sourceNodes = nil
	n.sourceValues = nil
	n.initiated = false
	n.depNodes = nil
	n.depValues = nil
	n.identity = nil
	n.signature = nil
}

// State reports the node's position in the actuality protocol.
func (n *Node) State() State {
	switch {
	case !n.initiated && !n.shrunk:
		return Unresolved
	case n.verdict == verdictActual:
		return Actual
	case n.verdict == verdictStale:
		return Stale
	case !n.committed:
		return Unbuilt
	default:
		return Identified
	}
}

func sortByName(values []entity.Entity) {
	slices.SortStableFunc(values, func(a, b entity.Entity) int {
		return strings.Compare(a.Name(), b.Name())
	})
}

func nonNil(values []entity.Entity) []entity.Entity {
	if values == nil {
		return []entity.Entity{}
	}
	return values
}
