package builder

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/node"
)

// version is folded into every builder signature; bump it when builder
// output changes for the same configuration.
const version = "1"

// Base carries the value factory and the hooks most builders leave alone.
// Concrete builders embed it and add Signature, Initiate and Build.
type Base struct {
	*Factory
	Kind string
	Step string

	fs billy.Filesystem
}

func newBase(f *Factory, kind, step string) Base {
	return Base{Factory: f, Kind: kind, Step: step, fs: osfs.New("/")}
}

// Name is "<kind>:<step>".
func (b *Base) Name() string { return b.Kind + ":" + b.Step }

// digest fingerprints the builder kind, step and configuration parts.
func (b *Base) digest(parts ...string) entity.Signature {
	return entity.DigestStrings(append([]string{version, b.Kind, b.Step}, parts...)...)
}

// TargetValues proposes no targets.
func (b *Base) TargetValues(*node.Node) ([]entity.Entity, error) { return nil, nil }

// Prebuild does not split the node.
func (b *Base) Prebuild(*node.Node) ([]*node.Node, error) { return nil, nil }

// PrebuildFinished has nothing to gather.
func (b *Base) PrebuildFinished(*node.Node, []*node.Node) error { return nil }

// Clear removes the node's targets and side effects.
func (b *Base) Clear(n *node.Node) error { return n.RemoveTargets() }

// BuildStrArgs lists the step name, the sources and the targets.
func (b *Base) BuildStrArgs(n *node.Node, _ bool) node.BuildArgs {
	sources, _ := n.Sources()
	return node.BuildArgs{Name: b.Name(), Sources: sources, Targets: n.Targets()}
}
