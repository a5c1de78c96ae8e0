package node

import (
	"sort"

	"github.com/agentic-research/kiln/internal/entity"
)

// ensureIDs computes identity and signature once, on first need.
func (n *Node) ensureIDs() error {
	if !n.initiated {
		return n.fail(ErrNotInitiated)
	}
	if n.identity == nil {
		n.identity = n.computeIdentity()
		n.signature = n.computeSignature()
	}
	return nil
}

// Identity returns the node's stable identity, computing it if needed.
func (n *Node) Identity() (entity.Signature, error) {
	if err := n.ensureIDs(); err != nil {
		return nil, err
	}
	return n.identity, nil
}

// Signature returns the node's composite signature; unsigned when any source
// or dependency entity is unsigned.
func (n *Node) Signature() (entity.Signature, error) {
	if err := n.ensureIDs(); err != nil {
		return nil, err
	}
	return n.signature, nil
}

// Name is the hex identity, or "" before it is computed.
func (n *Node) Name() string {
	return n.identity.String()
}

// computeIdentity keys the node by its known targets, falling back to the
// builder name plus source names.
func (n *Node) computeIdentity() entity.Signature {
	if len(n.targets) > 0 {
		ids := make([]string, len(n.targets))
		for i, t := range n.targets {
			ids[i] = entity.ID(t)
		}
		sort.Strings(ids)
		return entity.DigestStrings(ids...)
	}

	names := entity.Names(n.sourceValues)
	sort.Strings(names)
	return entity.DigestStrings(append([]string{n.builder.Name()}, names...)...)
}

func (n *Node) computeSignature() entity.Signature {
	parts := [][]byte{n.builder.Signature()}

	for _, v := range n.sourceValues {
		if !entity.Signed(v) {
			return nil
		}
		parts = append(parts, v.Signature())
	}

	for _, v := range n.DepValues() {
		if !entity.Signed(v) {
			return nil
		}
		parts = append(parts, []byte(v.Name()), v.Signature())
	}

	return entity.Digest(parts...)
}
