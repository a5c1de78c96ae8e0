package entity

import "slices"

// Record is the persisted outcome of a node build, stored under the node's
// identity. Implicit dependencies are held by store key so that one header
// shared by many compiles is stored once. depSigs holds the signature each
// of them had when this record was saved.
type Record struct {
	base
	built       bool
	targets     []Entity
	sideEffects []Entity
	depKeys     []Key
	depSigs     []Signature
}

// NewRecord captures a node's state. The name is the hex node identity.
// Nil targets mean the node was never built. depSigs runs parallel to depKeys.
func NewRecord(name string, sig Signature, targets, sideEffects []Entity, depKeys []Key, depSigs []Signature) Record {
	return Record{
		base:        newBase(name, sig, nil),
		built:       targets != nil,
		targets:     slices.Clone(targets),
		sideEffects: slices.Clone(sideEffects),
		depKeys:     slices.Clone(depKeys),
		depSigs:     slices.Clone(depSigs),
	}
}

// RecordProbe is the lookup key for the record of the named node.
func RecordProbe(name string) Record {
	return Record{base: base{name: name}}
}

func (Record) Kind() Kind    { return KindNode }
func (r Record) Get() string { return r.name }

// IsActual holds once the record is signed and carries targets. Validating
// the targets themselves is the node's job.
func (r Record) IsActual() bool { return r.sig.Signed() && r.built }
func (r Record) Actual() Entity { return r }
func (Record) Remove() error    { return nil }

// Targets returns the persisted targets, nil if none were recorded.
func (r Record) Targets() []Entity {
	if !r.built {
		return nil
	}
	if r.targets == nil {
		return []Entity{}
	}
	return r.targets
}

// SideEffects returns the persisted side effects.
func (r Record) SideEffects() []Entity {
	if r.built && r.sideEffects == nil {
		return []Entity{}
	}
	return r.sideEffects
}

func (r Record) DepKeys() []Key { return r.depKeys }

// DepSignatures returns the implicit dependency signatures as saved, in
// DepKeys order.
func (r Record) DepSignatures() []Signature { return r.depSigs }

func (r Record) equalPayload(o Record) bool {
	if r.built != o.built || !slices.Equal(r.depKeys, o.depKeys) {
		return false
	}
	if !slices.EqualFunc(r.depSigs, o.depSigs, Signature.Equal) {
		return false
	}
	return equalAll(r.targets, o.targets) && equalAll(r.sideEffects, o.sideEffects)
}

func equalAll(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
