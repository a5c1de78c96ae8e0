package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/kiln/internal/ctxlog"
	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/store"
)

// IsActual reports whether the persisted build of this node can be reused.
// On success the node adopts the persisted targets and side effects.
func (n *Node) IsActual(s store.Store) (bool, error) {
	if err := n.ensureIDs(); err != nil {
		return false, err
	}
	n.verdict = verdictStale

	if !n.signature.Signed() {
		return false, nil
	}

	found, err := s.FindValue(entity.RecordProbe(n.Name()))
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", n, err)
	}
	rec, ok := found.(entity.Record)
	if !ok || !rec.Signature().Equal(n.signature) {
		return false, nil
	}

	deps, err := actualDeps(s, rec.DepKeys(), rec.DepSignatures())
	if err != nil || deps == nil {
		return false, err
	}
	if !actualValues(rec.Targets()) || !actualValues(rec.SideEffects()) {
		return false, nil
	}

	n.targets = rec.Targets()
	n.sideEffects = rec.SideEffects()
	n.implicitDeps = deps
	n.verdict = verdictActual
	return true, nil
}

// actualDeps validates stored implicit dependencies against the signatures
// they had when the record was saved, and returns them when all are current.
// A dependency whose refreshed copy differs from the stored one is replaced
// in the store so the next build records against the current state.
func actualDeps(s store.Store, keys []entity.Key, sigs []entity.Signature) ([]entity.Entity, error) {
	if len(sigs) != len(keys) {
		return nil, nil
	}
	values, err := s.GetValues(keys)
	if err != nil {
		return nil, fmt.Errorf("load implicit deps: %w", err)
	}
	if values == nil {
		return nil, nil
	}

	for i, v := range values {
		if v == nil || !entity.Signed(v) {
			return nil, nil
		}
		current := v.Actual()
		if !entity.Equal(v, current) {
			if err := s.ReplaceValue(keys[i], current); err != nil {
				return nil, fmt.Errorf("refresh implicit dep %s: %w", v.Name(), err)
			}
			return nil, nil
		}
		if !current.Signature().Equal(sigs[i]) {
			return nil, nil
		}
	}
	return values, nil
}

func actualValues(values []entity.Entity) bool {
	if values == nil {
		return false
	}
	for _, v := range values {
		if !v.IsActual() {
			return false
		}
	}
	return true
}

// Save persists the node record: its signature, targets, side effects and
// the store keys of its implicit dependencies.
func (n *Node) Save(s store.Store) error {
	if err := n.ensureIDs(); err != nil {
		return err
	}
	if n.targets == nil || n.sideEffects == nil {
		return &Error{Kind: ErrNoTargets, Node: n.BuildStr(false)}
	}
	if n.implicitDeps == nil {
		return &Error{Kind: ErrNoImplicitDeps, Node: n.BuildStr(false)}
	}

	keys, err := s.AddValues(n.implicitDeps)
	if err != nil {
		return fmt.Errorf("save implicit deps of %s: %w", n, err)
	}
	sigs := make([]entity.Signature, len(n.implicitDeps))
	for i, d := range n.implicitDeps {
		sigs[i] = d.Signature()
	}
	rec := entity.NewRecord(n.Name(), n.signature, n.targets, n.sideEffects, keys, sigs)
	if _, err := s.AddValue(rec); err != nil {
		return fmt.Errorf("save %s: %w", n, err)
	}
	return nil
}

// Load adopts the targets and side effects of the persisted record, if any.
func (n *Node) Load(s store.Store) error {
	if err := n.ensureIDs(); err != nil {
		return err
	}
	found, err := s.FindValue(entity.RecordProbe(n.Name()))
	if err != nil {
		return fmt.Errorf("load %s: %w", n, err)
	}
	rec, ok := found.(entity.Record)
	if !ok {
		return nil
	}
	if targets := rec.Targets(); targets != nil {
		n.targets = targets
	}
	n.sideEffects = rec.SideEffects()
	n.committed = true
	return nil
}

// Clear forgets the persisted record and asks the builder to clean up.
// Builder failures are logged, not returned.
func (n *Node) Clear(ctx context.Context, s store.Store) error {
	if err := n.Load(s); err != nil {
		return err
	}
	if err := s.RemoveValues([]entity.Entity{entity.RecordProbe(n.Name())}); err != nil {
		return fmt.Errorf("clear %s: %w", n, err)
	}
	n.committed = false
	n.verdict = verdictNone

	if err := n.builder.Clear(n); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to clear node",
			"node", n.ClearStr(false), "error", err)
	}
	return nil
}

// RemoveTargets deletes every target and side effect. Failures do not stop
// the sweep; they come back joined.
func (n *Node) RemoveTargets() error {
	var errs []error
	for _, group := range [][]entity.Entity{n.targets, n.sideEffects} {
		for _, e := range group {
			if err := e.Remove(); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", e.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
