package node

import (
	"context"

	"github.com/agentic-research/kiln/internal/entity"
)

// Builder is the step definition a Node wraps. The core only relies on its
// identity, its signature, its value factories and the lifecycle hooks below.
type Builder interface {
	// Name is the stable identity of the step definition.
	Name() string
	// Signature fingerprints the builder's configuration and version.
	Signature() entity.Signature

	// Initiate is idempotent and may return a canonical instance to use in
	// place of the receiver.
	Initiate() (Builder, error)

	// Value factories. useCache dedupes produced entities against ones the
	// factory already knows.
	MakeValue(v any, useCache bool) (entity.Entity, error)
	MakeFileValue(v any, useCache bool) (entity.Entity, error)
	MakeValues(vs []any, useCache bool) ([]entity.Entity, error)
	MakeFileValues(vs []any, useCache bool) ([]entity.Entity, error)

	// TargetValues proposes pre-build targets for an initiated node.
	TargetValues(n *Node) ([]entity.Entity, error)

	Build(ctx context.Context, n *Node) error
	Prebuild(n *Node) ([]*Node, error)
	PrebuildFinished(n *Node, prebuilt []*Node) error
	Clear(n *Node) error

	// BuildStrArgs describes the node for progress and clear messages.
	BuildStrArgs(n *Node, brief bool) BuildArgs
}

// BuildArgs is the human-readable description of a node.
type BuildArgs struct {
	Name    string
	Sources []string
	Targets []string
}

// Raw converts typed values into the []any accepted by SetTargets and the
// value factories.
func Raw[T any](xs ...T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
