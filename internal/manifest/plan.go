package manifest

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/agentic-research/kiln/api"
	"github.com/agentic-research/kiln/internal/builder"
	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/node"
	"github.com/agentic-research/kiln/internal/scan"
)

// Plan is a manifest turned into nodes.
type Plan struct {
	Graph *node.Graph
	Root  string
	// Steps maps step names to their nodes.
	Steps map[string]*node.Node
	// Order lists step names in declaration order.
	Order []string

	names map[node.ID]string
}

// Build creates one node per step. Input steps are created before the steps
// that consume them; a reference cycle is an error.
func Build(m *api.Manifest, root string, f *builder.Factory) (*Plan, error) {
	p := &Plan{
		Graph: node.NewGraph(),
		Root:  root,
		Steps: make(map[string]*node.Node, len(m.Steps)),
		names: make(map[node.ID]string, len(m.Steps)),
	}

	byName := make(map[string]*api.Step, len(m.Steps))
	for i := range m.Steps {
		s := &m.Steps[i]
		byName[s.Name] = s
		p.Order = append(p.Order, s.Name)
	}

	visiting := map[string]bool{}
	var add func(name string) (*node.Node, error)
	add = func(name string) (*node.Node, error) {
		if n, ok := p.Steps[name]; ok {
			return n, nil
		}
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown step %q", ErrInvalid, name)
		}
		if visiting[name] {
			return nil, fmt.Errorf("%w: step %q", node.ErrCycle, name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		sources := make([]any, 0, len(s.Sources)+len(s.Inputs))
		for _, src := range s.Sources {
			sources = append(sources, src)
		}
		for _, in := range s.Inputs {
			up, err := add(in)
			if err != nil {
				return nil, err
			}
			sources = append(sources, up)
		}

		var deps []any
		for _, after := range s.After {
			up, err := add(after)
			if err != nil {
				return nil, err
			}
			deps = append(deps, up)
		}

		b, err := newBuilder(s, root, f)
		if err != nil {
			return nil, err
		}
		for _, d := range s.Depends {
			e, err := b.MakeFileValue(absIn(root, d), false)
			if err != nil {
				return nil, fmt.Errorf("step %q: depends %q: %w", name, d, err)
			}
			deps = append(deps, e)
		}
		keys := make([]string, 0, len(s.Values))
		for k := range s.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			deps = append(deps, entity.NewValue(k, s.Values[k]))
		}

		n := p.Graph.Add(b, sources, root)
		if err := n.Depends(deps...); err != nil {
			return nil, err
		}
		p.Steps[name] = n
		p.names[n.ID()] = name
		return n, nil
	}

	for _, name := range p.Order {
		if _, err := add(name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newBuilder(s *api.Step, root string, f *builder.Factory) (node.Builder, error) {
	kind := entity.KindChecksum
	if s.Signature == "timestamp" {
		kind = entity.KindTimestamp
	}
	f = f.WithKind(kind)

	switch s.Builder {
	case "copy":
		return builder.NewCopy(f, s.Name, absIn(root, s.Dir)), nil
	case "command":
		lang, err := scan.ParseLanguage(s.Scan)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		c := builder.NewCommand(f, s.Name, s.Command)
		c.Outputs = s.Outputs
		c.SideEffects = s.SideEffects
		c.Scan = lang
		c.IncludeDirs = s.IncludeDirs
		c.Split = s.Split
		return c, nil
	default:
		return nil, fmt.Errorf("%w: step %q: unknown builder %q", ErrInvalid, s.Name, s.Builder)
	}
}

// IDs resolves step names to node IDs.
func (p *Plan) IDs(names ...string) ([]node.ID, error) {
	ids := make([]node.ID, 0, len(names))
	for _, name := range names {
		n, ok := p.Steps[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown step %q", ErrInvalid, name)
		}
		ids = append(ids, n.ID())
	}
	return ids, nil
}

// StepName returns the step a node was planned for, or "" for nodes added
// later, such as split nodes.
func (p *Plan) StepName(n *node.Node) string {
	return p.names[n.ID()]
}

func absIn(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}
