// Package builder provides the concrete step definitions a manifest can use:
// a shared value factory, embeddable defaults, and the copy and command
// builders.
package builder

import (
	"errors"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/kiln/internal/entity"
)

// DefaultCacheSize bounds the number of file entities a Factory remembers.
const DefaultCacheSize = 4096

var ErrUnsupportedValue = errors.New("unsupported value")

// Factory turns raw values (paths, strings, entities) into entities. File
// entities made with useCache are remembered by kind and absolute path, so a
// header included by many sources is hashed once per run.
type Factory struct {
	kind  entity.Kind
	files bool
	cache *lru.Cache[string, entity.Entity]
}

// NewFactory returns a factory producing file entities of the given kind
// (checksum, timestamp or dir). When files is set, MakeValue treats strings
// as paths; otherwise strings become value entities.
func NewFactory(kind entity.Kind, files bool, size int) (*Factory, error) {
	switch kind {
	case entity.KindChecksum, entity.KindTimestamp, entity.KindDir:
	default:
		return nil, fmt.Errorf("factory: %s is not a file kind", kind)
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, entity.Entity](size)
	if err != nil {
		return nil, fmt.Errorf("factory cache: %w", err)
	}
	return &Factory{kind: kind, files: files, cache: cache}, nil
}

// FileKind is the kind of file entities this factory makes.
func (f *Factory) FileKind() entity.Kind { return f.kind }

// WithKind returns a factory for another file kind sharing the same cache.
func (f *Factory) WithKind(kind entity.Kind) *Factory {
	if kind == 0 || kind == f.kind {
		return f
	}
	return &Factory{kind: kind, files: f.files, cache: f.cache}
}

// MakeValue converts v into an entity.
func (f *Factory) MakeValue(v any, useCache bool) (entity.Entity, error) {
	switch v := v.(type) {
	case entity.Entity:
		return v, nil
	case string:
		if f.files {
			return f.file(v, useCache)
		}
		return entity.NewValue("", v), nil
	case fmt.Stringer:
		return entity.NewValue("", v.String()), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// MakeFileValue converts v into a file entity.
func (f *Factory) MakeFileValue(v any, useCache bool) (entity.Entity, error) {
	switch v := v.(type) {
	case entity.Entity:
		return v, nil
	case string:
		return f.file(v, useCache)
	default:
		return nil, fmt.Errorf("%w: %T is not a path", ErrUnsupportedValue, v)
	}
}

// MakeValues converts every element with MakeValue.
func (f *Factory) MakeValues(vs []any, useCache bool) ([]entity.Entity, error) {
	return makeAll(vs, useCache, f.MakeValue)
}

// MakeFileValues converts every element with MakeFileValue.
func (f *Factory) MakeFileValues(vs []any, useCache bool) ([]entity.Entity, error) {
	return makeAll(vs, useCache, f.MakeFileValue)
}

func makeAll(vs []any, useCache bool, fn func(any, bool) (entity.Entity, error)) ([]entity.Entity, error) {
	out := make([]entity.Entity, 0, len(vs))
	for _, v := range vs {
		e, err := fn(v, useCache)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Factory) file(path string, useCache bool) (entity.Entity, error) {
	if !useCache || path == "" {
		return entity.NewFile(f.kind, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	key := f.kind.String() + ":" + abs
	if e, ok := f.cache.Get(key); ok {
		return e, nil
	}
	e, err := entity.NewFile(f.kind, abs)
	if err != nil {
		return nil, err
	}
	// Unsigned entities usually mean "not generated yet"; don't pin them.
	if entity.Signed(e) {
		f.cache.Add(key, e)
	}
	return e, nil
}

// Forget drops cached entities for the given paths, e.g. after a build
// rewrote them.
func (f *Factory) Forget(paths ...string) {
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			f.cache.Remove(f.kind.String() + ":" + abs)
		}
	}
}
