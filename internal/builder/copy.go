package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/node"
)

// ErrDuplicateTarget reports two copy sources sharing a base name.
var ErrDuplicateTarget = errors.New("sources share a target")

// Copy copies every source file into Dir, keeping base names.
type Copy struct {
	Base
	Dir string
}

// NewCopy returns a copy builder for step writing into dir.
func NewCopy(f *Factory, step, dir string) *Copy {
	return &Copy{Base: newBase(f, "copy", step), Dir: dir}
}

func (c *Copy) Signature() entity.Signature {
	return c.digest("dir=" + c.Dir)
}

// Initiate makes Dir absolute.
func (c *Copy) Initiate() (node.Builder, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("%s: dir is required", c.Name())
	}
	if !filepath.IsAbs(c.Dir) {
		dir, err := filepath.Abs(c.Dir)
		if err != nil {
			return nil, err
		}
		c.Dir = dir
	}
	return c, nil
}

func (c *Copy) targetPaths(n *node.Node) ([]string, error) {
	sources, err := n.Sources()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(sources))
	seen := make(map[string]string, len(sources))
	for i, src := range sources {
		out[i] = filepath.Join(c.Dir, filepath.Base(src))
		if prev, ok := seen[out[i]]; ok {
			return nil, fmt.Errorf("%s: %w: %s and %s => %s", c.Name(), ErrDuplicateTarget, prev, src, out[i])
		}
		seen[out[i]] = src
	}
	return out, nil
}

// TargetValues proposes Dir/<base> for every source.
func (c *Copy) TargetValues(n *node.Node) ([]entity.Entity, error) {
	paths, err := c.targetPaths(n)
	if err != nil {
		return nil, err
	}
	return c.MakeFileValues(node.Raw(paths...), false)
}

func (c *Copy) Build(ctx context.Context, n *node.Node) error {
	sources, err := n.Sources()
	if err != nil {
		return err
	}
	targets, err := c.targetPaths(n)
	if err != nil {
		return err
	}
	if err := c.fs.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.copyFile(src, targets[i]); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
	c.Forget(targets...)
	return n.SetFileTargets(node.Raw(targets...), nil, nil)
}

func (c *Copy) copyFile(src, dst string) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	mode := os.FileMode(0o644)
	if info, err := c.fs.Stat(src); err == nil {
		mode = info.Mode().Perm()
	}
	out, err := c.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var _ node.Builder = (*Copy)(nil)
