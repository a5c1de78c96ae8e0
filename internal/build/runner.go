// Package build drives a node graph: it walks the graph level by level,
// reuses nodes whose persisted state is still actual and builds the rest.
package build

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/kiln/internal/ctxlog"
	"github.com/agentic-research/kiln/internal/node"
	"github.com/agentic-research/kiln/internal/store"
)

// Runner builds graphs against a store.
type Runner struct {
	Store store.Store
	// Jobs bounds the number of nodes processed at once; GOMAXPROCS when <= 0.
	Jobs int
}

func (r *Runner) jobs() int {
	if r.Jobs > 0 {
		return r.Jobs
	}
	return runtime.GOMAXPROCS(0)
}

// Report collects what a run did.
type Report struct {
	mu       sync.Mutex
	Built    []string
	UpToDate []string
}

func (rep *Report) add(list *[]string, line string) {
	rep.mu.Lock()
	*list = append(*list, line)
	rep.mu.Unlock()
}

func (rep *Report) String() string {
	return fmt.Sprintf("%d built, %d up to date", len(rep.Built), len(rep.UpToDate))
}

func (rep *Report) sort() {
	sort.Strings(rep.Built)
	sort.Strings(rep.UpToDate)
}

// subset returns the closure of only, or nil for the whole graph.
func subset(g *node.Graph, only []node.ID) *roaring.Bitmap {
	if len(only) == 0 {
		return nil
	}
	return g.Closure(only...)
}

// Run processes the nodes in only and everything they depend on; the whole
// graph when only is empty. Nodes of one level run in parallel. The first
// failure cancels the level and is returned.
func (r *Runner) Run(ctx context.Context, g *node.Graph, only ...node.ID) (*Report, error) {
	levels, err := g.Levels(subset(g, only))
	if err != nil {
		return nil, err
	}

	rep := &Report{}
	defer rep.sort()
	for _, level := range levels {
		if err := r.each(ctx, level, func(ctx context.Context, n *node.Node) error {
			return r.process(ctx, n, rep)
		}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (r *Runner) each(ctx context.Context, nodes []*node.Node, fn func(context.Context, *node.Node) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.jobs())
	for _, n := range nodes {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, n)
		})
	}
	return eg.Wait()
}

func (r *Runner) process(ctx context.Context, n *node.Node, rep *Report) error {
	logger := ctxlog.FromContext(ctx)

	if err := n.Initiate(); err != nil {
		return err
	}
	ok, err := n.IsActual(r.Store)
	if err != nil {
		return err
	}
	if ok {
		logger.Debug("Up to date.", "node", n.BuildStr(true))
		rep.add(&rep.UpToDate, n.BuildStr(true))
		n.Shrink()
		return nil
	}

	subs, err := n.Prebuild()
	if err != nil {
		return fmt.Errorf("prebuild %s: %w", n.BuildStr(true), err)
	}
	if subs != nil {
		if err := r.each(ctx, subs, func(ctx context.Context, sub *node.Node) error {
			return r.process(ctx, sub, rep)
		}); err != nil {
			return err
		}
		if err := n.PrebuildFinished(subs); err != nil {
			return fmt.Errorf("prebuild %s: %w", n.BuildStr(true), err)
		}
	} else {
		logger.Info("Building.", "node", n.BuildStr(true))
		if err := n.Build(ctx); err != nil {
			return fmt.Errorf("build %s: %w", n.BuildStr(true), err)
		}
	}

	if err := n.Save(r.Store); err != nil {
		return err
	}
	rep.add(&rep.Built, n.BuildStr(true))
	n.Shrink()
	return nil
}

// Status is the actuality of one node.
type Status struct {
	Node  *node.Node
	State node.State
}

// Status reports, in level order, whether each node could be reused without
// building anything.
func (r *Runner) Status(ctx context.Context, g *node.Graph, only ...node.ID) ([]Status, error) {
	levels, err := g.Levels(subset(g, only))
	if err != nil {
		return nil, err
	}

	var out []Status
	for _, level := range levels {
		for _, n := range level {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			if err := n.Initiate(); err != nil {
				return out, err
			}
			if _, err := n.IsActual(r.Store); err != nil {
				return out, err
			}
			out = append(out, Status{Node: n, State: n.State()})
		}
	}
	return out, nil
}

// Clear forgets the persisted state of each node and removes its targets.
// Nodes are visited upstream first so downstream nodes resolve the same
// identities they were built with.
func (r *Runner) Clear(ctx context.Context, g *node.Graph, only ...node.ID) error {
	logger := ctxlog.FromContext(ctx)

	levels, err := g.Levels(subset(g, only))
	if err != nil {
		return err
	}
	for _, level := range levels {
		for _, n := range level {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := n.Initiate(); err != nil {
				return err
			}
			if err := n.Clear(ctx, r.Store); err != nil {
				return err
			}
			logger.Info("Cleared.", "node", n.ClearStr(true))
		}
	}
	return nil
}
