package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentic-research/kiln/internal/ctxlog"
	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/node"
	"github.com/agentic-research/kiln/internal/scan"
)

var ErrNoCommand = errors.New("command is empty")

// Command runs an external program over the node's sources.
//
// Argv elements "{sources}" and "{targets}" expand into every source and
// target path; "{source}" and "{target}" inside an element are replaced with
// the first of each. Outputs may use "{base}", "{stem}" and "{dir}", which
// expand once per source.
type Command struct {
	Base
	Argv        []string
	Outputs     []string
	SideEffects []string
	Scan        scan.Language
	IncludeDirs []string
	Split       bool
}

// NewCommand returns a command builder for step.
func NewCommand(f *Factory, step string, argv []string) *Command {
	return &Command{Base: newBase(f, "command", step), Argv: argv}
}

func (c *Command) Signature() entity.Signature {
	parts := []string{"argv"}
	parts = append(parts, c.Argv...)
	parts = append(parts, "outputs")
	parts = append(parts, c.Outputs...)
	parts = append(parts, "side_effects")
	parts = append(parts, c.SideEffects...)
	parts = append(parts, "scan", string(c.Scan), fmt.Sprintf("split=%t", c.Split))
	parts = append(parts, "include_dirs")
	parts = append(parts, c.IncludeDirs...)
	return c.digest(parts...)
}

// Initiate validates the configuration.
func (c *Command) Initiate() (node.Builder, error) {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrNoCommand)
	}
	if c.Split {
		for _, o := range c.Outputs {
			if !isTemplate(o) {
				return nil, fmt.Errorf("%s: split output %q must use {base}, {stem} or {dir}", c.Name(), o)
			}
		}
	}
	return c, nil
}

// TargetValues proposes the declared outputs.
func (c *Command) TargetValues(n *node.Node) ([]entity.Entity, error) {
	if len(c.Outputs) == 0 {
		return nil, nil
	}
	paths, err := c.expand(n, c.Outputs)
	if err != nil {
		return nil, err
	}
	return c.MakeFileValues(node.Raw(paths...), false)
}

func (c *Command) Build(ctx context.Context, n *node.Node) error {
	sources, err := n.Sources()
	if err != nil {
		return err
	}
	targets, err := c.expand(n, c.Outputs)
	if err != nil {
		return err
	}
	sideEffects, err := c.expand(n, c.SideEffects)
	if err != nil {
		return err
	}
	for _, p := range append(targets, sideEffects...) {
		if err := c.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}

	argv := c.argv(sources, targets)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = n.Cwd()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log := ctxlog.FromContext(ctx)
	log.Debug("running command", "step", c.Name(), "argv", argv, "dir", cmd.Dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s: %w\n%s", c.Name(), strings.Join(argv, " "), err, bytes.TrimSpace(out.Bytes()))
	}
	if out.Len() > 0 {
		log.Debug("command output", "step", c.Name(), "output", strings.TrimSpace(out.String()))
	}

	var deps []string
	if c.Scan != scan.None {
		s := scan.Scanner{Lang: c.Scan, Dirs: c.includeDirs(n)}
		if deps, err = s.Includes(ctx, sources...); err != nil {
			return fmt.Errorf("%s: scan: %w", c.Name(), err)
		}
	}

	c.Forget(targets...)
	c.Forget(sideEffects...)
	return n.SetFileTargets(node.Raw(targets...), node.Raw(sideEffects...), node.Raw(deps...))
}

// Prebuild splits a multi-source node into one node per source.
func (c *Command) Prebuild(n *node.Node) ([]*node.Node, error) {
	if !c.Split {
		return nil, nil
	}
	values, err := n.SourceValues()
	if err != nil || len(values) < 2 {
		return nil, err
	}
	single := *c
	single.Split = false
	return n.Split(&single)
}

// PrebuildFinished gathers the targets of the split nodes. The node keeps the
// union of their implicit dependencies so that its own record goes stale
// whenever one of theirs would.
func (c *Command) PrebuildFinished(n *node.Node, prebuilt []*node.Node) error {
	var targets, sideEffects, deps []any
	seen := make(map[string]bool)
	for _, sub := range prebuilt {
		for _, t := range sub.TargetValues() {
			targets = append(targets, t)
		}
		for _, se := range sub.SideEffectValues() {
			sideEffects = append(sideEffects, se)
		}
		for _, d := range sub.ImplicitDepValues() {
			if id := entity.ID(d); !seen[id] {
				seen[id] = true
				deps = append(deps, d)
			}
		}
	}
	return n.SetFileTargets(targets, sideEffects, deps)
}

func (c *Command) BuildStrArgs(n *node.Node, brief bool) node.BuildArgs {
	args := c.Base.BuildStrArgs(n, brief)
	if brief {
		args.Name = c.Step
		for i, s := range args.Sources {
			args.Sources[i] = filepath.Base(s)
		}
		for i, t := range args.Targets {
			args.Targets[i] = filepath.Base(t)
		}
	}
	return args
}

func (c *Command) argv(sources, targets []string) []string {
	first := func(xs []string) string {
		if len(xs) == 0 {
			return ""
		}
		return xs[0]
	}
	r := strings.NewReplacer("{source}", first(sources), "{target}", first(targets))

	out := make([]string, 0, len(c.Argv)+len(sources)+len(targets))
	for _, a := range c.Argv {
		switch a {
		case "{sources}":
			out = append(out, sources...)
		case "{targets}":
			out = append(out, targets...)
		default:
			out = append(out, r.Replace(a))
		}
	}
	return out
}

// expand resolves output patterns against the node's sources and working
// directory.
func (c *Command) expand(n *node.Node, patterns []string) ([]string, error) {
	sources, err := n.Sources()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !isTemplate(p) {
			out = append(out, absIn(n.Cwd(), p))
			continue
		}
		for _, src := range sources {
			base := filepath.Base(src)
			r := strings.NewReplacer(
				"{base}", base,
				"{stem}", strings.TrimSuffix(base, filepath.Ext(base)),
				"{dir}", filepath.Dir(src),
			)
			out = append(out, absIn(n.Cwd(), r.Replace(p)))
		}
	}
	return out, nil
}

func (c *Command) includeDirs(n *node.Node) []string {
	dirs := make([]string, len(c.IncludeDirs))
	for i, d := range c.IncludeDirs {
		dirs[i] = absIn(n.Cwd(), d)
	}
	return dirs
}

func isTemplate(p string) bool {
	return strings.Contains(p, "{base}") || strings.Contains(p, "{stem}") || strings.Contains(p, "{dir}")
}

func absIn(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

var _ node.Builder = (*Command)(nil)
