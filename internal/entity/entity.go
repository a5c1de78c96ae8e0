// Package entity defines the immutable, content-identified values tracked by
// the build core: files signed by checksum or by timestamp, directories,
// in-memory string values and persisted node records.
//
// An entity is a name plus a signature. The signature changes iff the content
// changes; an empty signature means the entity is unsigned and never actual.
// Entities are never mutated: refreshing one yields a new value via Actual.
package entity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"slices"
)

// ErrNoName is returned when a file entity is constructed without a path.
var ErrNoName = errors.New("file name is not specified")

// Kind is the closed set of entity variants.
type Kind uint8

const (
	KindValue Kind = iota + 1
	KindChecksum
	KindTimestamp
	KindDir
	KindNode
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindChecksum:
		return "checksum"
	case KindTimestamp:
		return "timestamp"
	case KindDir:
		return "dir"
	case KindNode:
		return "node"
	default:
		return "unknown"
	}
}

// Signature is a content fingerprint. Nil or empty means unsigned.
type Signature []byte

// Signed reports whether the signature carries a fingerprint.
func (s Signature) Signed() bool { return len(s) > 0 }

// Equal compares two signatures byte for byte.
func (s Signature) Equal(o Signature) bool { return bytes.Equal(s, o) }

func (s Signature) String() string { return hex.EncodeToString(s) }

// Key identifies an entity inside a persistent store.
type Key uint64

// Entity is the uniform capability set shared by every kind.
type Entity interface {
	Kind() Kind
	Name() string
	Signature() Signature
	Tags() []string

	// Get returns the user-facing value: the path for file kinds, the
	// content for string values.
	Get() string

	// IsActual is false for unsigned entities; otherwise it recomputes the
	// signature from the current state and compares.
	IsActual() bool

	// Actual returns a copy carrying the current signature.
	Actual() Entity

	// Remove deletes the backing resource. A resource that is already gone
	// is not an error.
	Remove() error
}

// ID is the store identity of an entity: its kind and name.
func ID(e Entity) string {
	return e.Kind().String() + ":" + e.Name()
}

// Signed reports whether e is non-nil and carries a signature.
func Signed(e Entity) bool {
	return e != nil && e.Signature().Signed()
}

// Equal reports whether a and b are interchangeable.
func Equal(a, b Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.Name() != b.Name() {
		return false
	}
	if !a.Signature().Equal(b.Signature()) {
		return false
	}
	if !slices.Equal(a.Tags(), b.Tags()) {
		return false
	}
	if ra, ok := a.(Record); ok {
		return ra.equalPayload(b.(Record))
	}
	if va, ok := a.(Value); ok {
		return va.content == b.(Value).content
	}
	return true
}

// Names returns the names of es in order.
func Names(es []Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name()
	}
	return out
}

// Gets returns the user-facing values of es in order.
func Gets(es []Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Get()
	}
	return out
}

// base holds the fields shared by all kinds.
type base struct {
	name string
	sig  Signature
	tags []string
}

func newBase(name string, sig Signature, tags []string) base {
	b := base{name: name}
	if len(sig) > 0 {
		b.sig = slices.Clone(sig)
	}
	if len(tags) > 0 {
		b.tags = slices.Clone(tags)
	}
	return b
}

func (b base) Name() string         { return b.name }
func (b base) Signature() Signature { return b.sig }
func (b base) Tags() []string       { return b.tags }
