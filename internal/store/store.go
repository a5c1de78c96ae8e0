// Package store persists entities across process runs. Node records,
// implicit dependencies and any other entity kind share one keyed value
// space; the identity of a stored entity is its kind and name.
package store

import (
	"errors"

	"github.com/agentic-research/kiln/internal/entity"
)

// ErrUnknownKey is returned when replacing an entity under a key the store
// has never issued.
var ErrUnknownKey = errors.New("unknown store key")

// Store is the persistent key-value service used by nodes.
//
// AddValue is idempotent and keeps the key of a (kind, name) pair stable
// across upserts. Lookups return nil, not an error, when nothing matches.
type Store interface {
	AddValue(e entity.Entity) (entity.Key, error)
	AddValues(es []entity.Entity) ([]entity.Key, error)

	// FindValue looks up the stored entity with the probe's kind and name.
	FindValue(probe entity.Entity) (entity.Entity, error)
	FindValues(probes []entity.Entity) ([]entity.Entity, error)

	// GetValues fetches entities by key. It returns nil when any key is
	// unknown to the store.
	GetValues(keys []entity.Key) ([]entity.Entity, error)

	ReplaceValue(key entity.Key, e entity.Entity) error
	RemoveValues(probes []entity.Entity) error

	Close() error
}
