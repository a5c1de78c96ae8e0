package store

import (
	"sync"

	"github.com/agentic-research/kiln/internal/entity"
)

// Memory is an in-process Store. Keys are issued monotonically and never
// reused, so a removed entity's key stays unknown.
type Memory struct {
	mu      sync.RWMutex
	values  map[entity.Key]entity.Entity
	keys    map[string]entity.Key // entity.ID → key
	nextKey entity.Key
}

func NewMemory() *Memory {
	return &Memory{
		values:  make(map[entity.Key]entity.Entity),
		keys:    make(map[string]entity.Key),
		nextKey: 1,
	}
}

// AddValue implements Store.
func (m *Memory) AddValue(e entity.Entity) (entity.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(e), nil
}

// AddValues implements Store.
func (m *Memory) AddValues(es []entity.Entity) ([]entity.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]entity.Key, len(es))
	for i, e := range es {
		keys[i] = m.addLocked(e)
	}
	return keys, nil
}

// addLocked must be called with m.mu held.
func (m *Memory) addLocked(e entity.Entity) entity.Key {
	id := entity.ID(e)
	key, ok := m.keys[id]
	if !ok {
		key = m.nextKey
		m.nextKey++
		m.keys[id] = key
	}
	m.values[key] = e
	return key
}

// FindValue implements Store.
func (m *Memory) FindValue(probe entity.Entity) (entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[entity.ID(probe)]
	if !ok {
		return nil, nil
	}
	return m.values[key], nil
}

// FindValues implements Store.
func (m *Memory) FindValues(probes []entity.Entity) ([]entity.Entity, error) {
	out := make([]entity.Entity, len(probes))
	for i, p := range probes {
		e, err := m.FindValue(p)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// GetValues implements Store.
func (m *Memory) GetValues(keys []entity.Key) ([]entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]entity.Entity, len(keys))
	for i, k := range keys {
		e, ok := m.values[k]
		if !ok {
			return nil, nil
		}
		out[i] = e
	}
	return out, nil
}

// ReplaceValue implements Store.
func (m *Memory) ReplaceValue(key entity.Key, e entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.values[key]
	if !ok {
		return ErrUnknownKey
	}
	delete(m.keys, entity.ID(old))
	m.keys[entity.ID(e)] = key
	m.values[key] = e
	return nil
}

// RemoveValues implements Store.
func (m *Memory) RemoveValues(probes []entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range probes {
		id := entity.ID(p)
		if key, ok := m.keys[id]; ok {
			delete(m.values, key)
			delete(m.keys, id)
		}
	}
	return nil
}

// Len returns the number of stored entities.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Close is a no-op for Memory.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
