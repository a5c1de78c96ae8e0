package entity

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// wireEntity is the msgpack shape of every kind. Fields a kind does not use
// are left empty.
type wireEntity struct {
	Kind        Kind         `msgpack:"k"`
	Name        string       `msgpack:"n"`
	Sig         []byte       `msgpack:"s,omitempty"`
	Tags        []string     `msgpack:"t,omitempty"`
	Content     string       `msgpack:"c,omitempty"`
	Built       bool         `msgpack:"b,omitempty"`
	Targets     []wireEntity `msgpack:"tg,omitempty"`
	SideEffects []wireEntity `msgpack:"se,omitempty"`
	DepKeys     []Key        `msgpack:"dk,omitempty"`
	DepSigs     [][]byte     `msgpack:"ds,omitempty"`
}

// Marshal encodes e for storage.
func Marshal(e Entity) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&w)
}

// Unmarshal decodes an entity written by Marshal.
func Unmarshal(data []byte) (Entity, error) {
	var w wireEntity
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return fromWire(w)
}

func toWire(e Entity) (wireEntity, error) {
	w := wireEntity{
		Kind: e.Kind(),
		Name: e.Name(),
		Sig:  e.Signature(),
		Tags: e.Tags(),
	}
	switch v := e.(type) {
	case Value:
		w.Content = v.content
	case Record:
		w.Built = v.built
		w.DepKeys = v.depKeys
		for _, sig := range v.depSigs {
			w.DepSigs = append(w.DepSigs, sig)
		}
		var err error
		if w.Targets, err = toWireAll(v.targets); err != nil {
			return w, err
		}
		if w.SideEffects, err = toWireAll(v.sideEffects); err != nil {
			return w, err
		}
	case FileChecksum, FileTimestamp, Dir:
	default:
		return w, fmt.Errorf("encode entity: unsupported type %T", e)
	}
	return w, nil
}

func toWireAll(es []Entity) ([]wireEntity, error) {
	if len(es) == 0 {
		return nil, nil
	}
	out := make([]wireEntity, len(es))
	for i, e := range es {
		w, err := toWire(e)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func fromWire(w wireEntity) (Entity, error) {
	switch w.Kind {
	case KindValue:
		return Value{base: newBase(w.Name, w.Sig, w.Tags), content: w.Content}, nil
	case KindChecksum, KindTimestamp, KindDir:
		return RestoreFile(w.Kind, w.Name, w.Sig, w.Tags)
	case KindNode:
		targets, err := fromWireAll(w.Targets)
		if err != nil {
			return nil, err
		}
		sideEffects, err := fromWireAll(w.SideEffects)
		if err != nil {
			return nil, err
		}
		rec := Record{
			base:        newBase(w.Name, w.Sig, nil),
			built:       w.Built,
			targets:     targets,
			sideEffects: sideEffects,
			depKeys:     w.DepKeys,
		}
		for _, sig := range w.DepSigs {
			rec.depSigs = append(rec.depSigs, Signature(sig))
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("decode entity %q: unknown kind %d", w.Name, w.Kind)
	}
}

func fromWireAll(ws []wireEntity) ([]Entity, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]Entity, len(ws))
	for i, w := range ws {
		e, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
