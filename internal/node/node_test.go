package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/kiln/internal/entity"
	"github.com/agentic-research/kiln/internal/store"
)

// fakeBuilder copies every source into <source>.out, uppercased.
type fakeBuilder struct {
	name     string
	version  string
	kind     entity.Kind
	propose  bool
	ideps    []string
	builds   int
	cleared  int
	clearErr error
}

func newFake(name string) *fakeBuilder {
	return &fakeBuilder{name: name, version: "1", kind: entity.KindChecksum}
}

func (b *fakeBuilder) Name() string                { return b.name }
func (b *fakeBuilder) Signature() entity.Signature { return entity.DigestStrings(b.name, b.version) }
func (b *fakeBuilder) Initiate() (Builder, error)  { return b, nil }

func (b *fakeBuilder) MakeValue(v any, useCache bool) (entity.Entity, error) {
	return b.MakeFileValue(v, useCache)
}

func (b *fakeBuilder) MakeFileValue(v any, _ bool) (entity.Entity, error) {
	switch v := v.(type) {
	case entity.Entity:
		return v, nil
	case string:
		return entity.NewFile(b.kind, v)
	default:
		return nil, errors.New("unsupported value")
	}
}

func (b *fakeBuilder) MakeValues(vs []any, useCache bool) ([]entity.Entity, error) {
	return b.MakeFileValues(vs, useCache)
}

func (b *fakeBuilder) MakeFileValues(vs []any, useCache bool) ([]entity.Entity, error) {
	out := make([]entity.Entity, 0, len(vs))
	for _, v := range vs {
		e, err := b.MakeFileValue(v, useCache)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *fakeBuilder) outputs(n *Node) []string {
	var outs []string
	for _, src := range n.sourceValues {
		outs = append(outs, src.Get()+".out")
	}
	return outs
}

func (b *fakeBuilder) TargetValues(n *Node) ([]entity.Entity, error) {
	if !b.propose {
		return nil, nil
	}
	return b.MakeFileValues(Raw(b.outputs(n)...), false)
}

func (b *fakeBuilder) Build(_ context.Context, n *Node) error {
	b.builds++
	for _, src := range n.sourceValues {
		data, err := os.ReadFile(src.Get())
		if err != nil {
			return err
		}
		if err := os.WriteFile(src.Get()+".out", []byte(strings.ToUpper(string(data))), 0o644); err != nil {
			return err
		}
	}
	return n.SetFileTargets(Raw(b.outputs(n)...), nil, Raw(b.ideps...))
}

func (b *fakeBuilder) Prebuild(*Node) ([]*Node, error)       { return nil, nil }
func (b *fakeBuilder) PrebuildFinished(*Node, []*Node) error { return nil }

func (b *fakeBuilder) Clear(*Node) error {
	b.cleared++
	return b.clearErr
}

func (b *fakeBuilder) BuildStrArgs(n *Node, _ bool) BuildArgs {
	sources, _ := n.Sources()
	return BuildArgs{Name: b.name, Sources: sources, Targets: n.Targets()}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// buildOnce runs the reuse-or-build cycle and reports whether it built.
func buildOnce(t *testing.T, n *Node, s store.Store) bool {
	t.Helper()
	require.NoError(t, n.Initiate())
	ok, err := n.IsActual(s)
	require.NoError(t, err)
	if ok {
		return false
	}
	require.NoError(t, n.Build(context.Background()))
	require.NoError(t, n.Save(s))
	return true
}

func TestNode_IdentityAndSignatureAreDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")

	ids := func(sources ...any) (entity.Signature, entity.Signature) {
		n := NewGraph().Add(newFake("upper"), sources, dir)
		require.NoError(t, n.Initiate())
		id, err := n.Identity()
		require.NoError(t, err)
		sig, err := n.Signature()
		require.NoError(t, err)
		return id, sig
	}

	id1, sig1 := ids("a.txt", "b.txt")
	id2, sig2 := ids("a.txt", "b.txt")
	assert.Equal(t, id1, id2)
	assert.Equal(t, sig1, sig2)
	assert.True(t, sig1.Signed())

	// Source order changes the signature but not the identity.
	id3, sig3 := ids("b.txt", "a.txt")
	assert.Equal(t, id1, id3)
	assert.NotEqual(t, sig1, sig3)

	other := newFake("upper")
	other.version = "2"
	n := NewGraph().Add(other, Raw("a.txt", "b.txt"), dir)
	require.NoError(t, n.Initiate())
	id4, err := n.Identity()
	require.NoError(t, err)
	sig4, err := n.Signature()
	require.NoError(t, err)
	assert.Equal(t, id1, id4)
	assert.NotEqual(t, sig1, sig4, "builder version is part of the signature")
}

func TestNode_IdentityPrefersKnownTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	b1 := newFake("one")
	b1.propose = true
	b2 := newFake("two")
	b2.propose = true

	n1 := NewGraph().Add(b1, Raw("a.txt"), dir)
	n2 := NewGraph().Add(b2, Raw("a.txt"), dir)
	require.NoError(t, n1.Initiate())
	require.NoError(t, n2.Initiate())

	id1, err := n1.Identity()
	require.NoError(t, err)
	id2, err := n2.Identity()
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same proposed targets, same identity")
	assert.Equal(t, id1.String(), n1.Name())
}

func TestNode_UnsignedSourcePoisonsSignature(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemory()

	n := NewGraph().Add(newFake("upper"), Raw("missing.txt"), dir)
	require.NoError(t, n.Initiate())
	sig, err := n.Signature()
	require.NoError(t, err)
	assert.False(t, sig.Signed())

	ok, err := n.IsActual(s)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Stale, n.State())
}

func TestNode_UnsignedDependencyPoisonsSignature(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	missing, err := entity.NewFileChecksum(filepath.Join(dir, "VERSION"))
	require.NoError(t, err)

	n := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
	require.NoError(t, n.Depends(missing))
	require.NoError(t, n.Initiate())
	sig, err := n.Signature()
	require.NoError(t, err)
	assert.False(t, sig.Signed())
}

func TestNode_DependencyOrderDoesNotMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	d1 := entity.NewValue("d1", "one")
	d2 := entity.NewValue("d2", "two")

	signature := func(deps ...any) entity.Signature {
		n := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
		require.NoError(t, n.Depends(deps...))
		require.NoError(t, n.Initiate())
		sig, err := n.Signature()
		require.NoError(t, err)
		return sig
	}

	assert.Equal(t, signature(d1, d2), signature(d2, d1))
	assert.Equal(t, signature(d1, d2), signature([]entity.Entity{d2}, d1))
	assert.NotEqual(t, signature(d1), signature(d1, d2))
}

func TestNode_DependencyNodeTargetsJoinSignature(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	s := store.NewMemory()

	g := NewGraph()
	gen := g.Add(newFake("gen"), Raw("b.txt"), dir)
	use := g.Add(newFake("use"), Raw("a.txt"), dir)
	require.NoError(t, use.Depends(gen))
	assert.Equal(t, []*Node{gen}, use.DepNodes())
	assert.True(t, g.Upstream(use.ID()).Contains(uint32(gen.ID())))

	assert.True(t, buildOnce(t, gen, s))
	require.NoError(t, use.Initiate())

	deps := use.DepValues()
	require.Len(t, deps, 1)
	assert.Equal(t, filepath.Join(dir, "b.txt.out"), deps[0].Get())
	assert.Empty(t, use.DepNodes(), "dependency nodes are drained")
}

func TestNode_InvalidDependency(t *testing.T) {
	n := NewGraph().Add(newFake("upper"), nil, t.TempDir())

	err := n.Depends(42)
	require.ErrorIs(t, err, ErrInvalidDependency)
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	assert.Contains(t, nerr.Error(), "int(42)")

	foreign := NewGraph().Add(newFake("other"), nil, t.TempDir())
	assert.ErrorIs(t, n.Depends(foreign), ErrInvalidDependency)
}

func TestNode_InvalidDependencyLeavesNodeUnchanged(t *testing.T) {
	g := NewGraph()
	n := g.Add(newFake("upper"), nil, t.TempDir())
	other := g.Add(newFake("other"), nil, t.TempDir())

	err := n.Depends(entity.NewValue("v", "1"), other, 42)
	require.ErrorIs(t, err, ErrInvalidDependency)
	assert.Empty(t, n.depValues)
	assert.Nil(t, n.depNodes)
	assert.True(t, g.Upstream(n.ID()).IsEmpty())

	require.NoError(t, n.Depends(entity.NewValue("v", "1")))
	assert.Len(t, n.depValues, 1)
}

func TestNode_NotInitiated(t *testing.T) {
	n := NewGraph().Add(newFake("upper"), nil, t.TempDir())

	_, err := n.Identity()
	assert.ErrorIs(t, err, ErrNotInitiated)
	_, err = n.SourceValues()
	assert.ErrorIs(t, err, ErrNotInitiated)
	_, err = n.IsActual(store.NewMemory())
	assert.ErrorIs(t, err, ErrNotInitiated)
	assert.ErrorIs(t, n.SetTargets(nil, nil, nil), ErrNotInitiated)
	assert.Equal(t, Unresolved, n.State())
}

func TestNode_SaveRequiresBuildOutcome(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s := store.NewMemory()

	b := newFake("upper")
	b.propose = true
	n := NewGraph().Add(b, Raw("a.txt"), dir)
	require.NoError(t, n.Initiate())
	assert.Equal(t, Unbuilt, n.State())

	assert.ErrorIs(t, n.Save(s), ErrNoTargets, "proposed targets are not a build outcome")

	n.sideEffects = []entity.Entity{}
	assert.ErrorIs(t, n.Save(s), ErrNoImplicitDeps)

	require.NoError(t, n.SetTargets(nil, nil, nil))
	require.NoError(t, n.Save(s))
	assert.Equal(t, Identified, n.State())
}

func TestNode_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s := store.NewMemory()

	n := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
	assert.True(t, buildOnce(t, n, s))
	want := n.TargetValues()
	require.Len(t, want, 1)

	fresh := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
	require.NoError(t, fresh.Initiate())
	assert.Nil(t, fresh.TargetValues())
	require.NoError(t, fresh.Load(s))
	require.Len(t, fresh.TargetValues(), 1)
	assert.True(t, entity.Equal(want[0], fresh.TargetValues()[0]))
	assert.Empty(t, fresh.SideEffectValues())
	assert.NotNil(t, fresh.SideEffectValues())
}

func TestNode_RebuildsOnlyWhenInputsChange(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "a.txt")
			out := filepath.Join(dir, "a.txt.out")
			writeFile(t, src, "hello")

			var s store.Store = store.NewMemory()
			if backend == "sqlite" {
				db, err := store.OpenSQLite(filepath.Join(dir, ".kiln", "state.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })
				s = db
			}

			run := func() (*fakeBuilder, bool) {
				b := newFake("upper")
				n := NewGraph().Add(b, Raw("a.txt"), dir)
				return b, buildOnce(t, n, s)
			}

			_, built := run()
			assert.True(t, built, "first run builds")
			data, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, "HELLO", string(data))

			_, built = run()
			assert.False(t, built, "unchanged inputs are reused")

			writeFile(t, src, "changed")
			_, built = run()
			assert.True(t, built, "source change rebuilds")

			writeFile(t, out, "tampered")
			_, built = run()
			assert.True(t, built, "target change rebuilds")

			require.NoError(t, os.Remove(out))
			_, built = run()
			assert.True(t, built, "missing target rebuilds")

			_, built = run()
			assert.False(t, built)
		})
	}
}

func TestNode_ImplicitDependencyChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.c"), "int main;")
	header := filepath.Join(dir, "a.h")
	writeFile(t, header, "#define A 1")
	s := store.NewMemory()

	check := func() bool {
		b := newFake("cc")
		b.ideps = []string{header}
		n := NewGraph().Add(b, Raw("main.c"), dir)
		return buildOnce(t, n, s)
	}

	assert.True(t, check())
	assert.False(t, check())

	writeFile(t, header, "#define A 2")
	assert.True(t, check(), "changed header rebuilds")
	assert.False(t, check())

	require.NoError(t, os.Remove(header))
	assert.True(t, check(), "removed header rebuilds")
}

func TestNode_SharedImplicitDependency(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.c"), "int a;")
	writeFile(t, filepath.Join(dir, "b.c"), "int b;")
	header := filepath.Join(dir, "h.h")
	writeFile(t, header, "#define H 1")
	s := store.NewMemory()

	check := func(src string) bool {
		b := newFake("cc")
		b.ideps = []string{header}
		n := NewGraph().Add(b, Raw(src), dir)
		return buildOnce(t, n, s)
	}

	assert.True(t, check("a.c"))
	assert.True(t, check("b.c"))

	writeFile(t, header, "#define H 2")
	assert.True(t, check("a.c"), "a.c sees the header change")
	assert.True(t, check("b.c"), "b.c sees the header change after a.c refreshed it")
	assert.False(t, check("a.c"))
	assert.False(t, check("b.c"))
}

func TestNode_ActualAdoptsImplicitDeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.c"), "int main;")
	header := filepath.Join(dir, "a.h")
	writeFile(t, header, "#define A 1")
	s := store.NewMemory()

	b := newFake("cc")
	b.ideps = []string{header}
	require.True(t, buildOnce(t, NewGraph().Add(b, Raw("main.c"), dir), s))

	n := NewGraph().Add(newFake("cc"), Raw("main.c"), dir)
	require.NoError(t, n.Initiate())
	ok, err := n.IsActual(s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, n.ImplicitDepValues(), 1)
	assert.Equal(t, header, n.ImplicitDepValues()[0].Name())

	n.Shrink()
	assert.Len(t, n.ImplicitDepValues(), 1, "shrink keeps implicit deps")
}

func TestActualDeps_ReplacesChangedValue(t *testing.T) {
	dir := t.TempDir()
	header := filepath.Join(dir, "a.h")
	writeFile(t, header, "x")
	s := store.NewMemory()

	e, err := entity.NewFileChecksum(header)
	require.NoError(t, err)
	keys, err := s.AddValues([]entity.Entity{e})
	require.NoError(t, err)

	sigs := []entity.Signature{e.Signature()}

	deps, err := actualDeps(s, keys, sigs)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.True(t, entity.Equal(e, deps[0]))

	writeFile(t, header, "y")
	deps, err = actualDeps(s, keys, sigs)
	require.NoError(t, err)
	assert.Nil(t, deps)

	stored, err := s.GetValues(keys)
	require.NoError(t, err)
	assert.True(t, stored[0].IsActual(), "stored copy was refreshed")

	deps, err = actualDeps(s, keys, sigs)
	require.NoError(t, err)
	assert.Nil(t, deps, "a refreshed shared copy does not hide the change from another record")

	deps, err = actualDeps(s, append(keys, keys[0]+99), append(sigs, sigs[0]))
	require.NoError(t, err)
	assert.Nil(t, deps, "unknown keys invalidate")

	deps, err = actualDeps(s, keys, nil)
	require.NoError(t, err)
	assert.Nil(t, deps, "records without saved signatures are not reused")
}

func TestNode_SourceNodesSpliceTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s := store.NewMemory()

	g := NewGraph()
	first := g.Add(newFake("first"), Raw("a.txt"), dir)
	second := g.Add(newFake("second"), []any{first}, dir)
	assert.Equal(t, []*Node{first}, second.SourceNodes())

	assert.True(t, buildOnce(t, first, s))
	assert.True(t, buildOnce(t, second, s))

	sources, err := second.Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt.out")}, sources)
	assert.FileExists(t, filepath.Join(dir, "a.txt.out.out"))
}

func TestNode_ClearRemovesRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s := store.NewMemory()

	n := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
	assert.True(t, buildOnce(t, n, s))

	b := newFake("upper")
	b.clearErr = errors.New("boom")
	fresh := NewGraph().Add(b, Raw("a.txt"), dir)
	require.NoError(t, fresh.Initiate())
	require.NoError(t, fresh.Clear(context.Background(), s), "builder failures are swallowed")
	assert.Equal(t, 1, b.cleared)
	assert.Len(t, fresh.TargetValues(), 1, "clear loads the record first")

	require.NoError(t, fresh.RemoveTargets())
	assert.NoFileExists(t, filepath.Join(dir, "a.txt.out"))
	require.NoError(t, fresh.RemoveTargets(), "removing twice is fine")

	found, err := s.FindValue(entity.RecordProbe(fresh.Name()))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestNode_Split(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, filepath.Join(dir, name), name)
	}
	dep := entity.NewValue("flags", "-O2")

	g := NewGraph()
	gen := g.Add(newFake("gen"), nil, dir)
	n := g.Add(newFake("upper"), Raw("a.txt", "b.txt", "c.txt"), dir)
	require.NoError(t, n.Depends(dep, gen))

	_, err := n.Split(newFake("one"))
	assert.ErrorIs(t, err, ErrNotInitiated)

	require.NoError(t, n.Initiate())
	subs, err := n.Split(newFake("one"))
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, 5, g.Len())

	for i, sub := range subs {
		require.NoError(t, sub.Initiate())
		values, err := sub.SourceValues()
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, n.sourceValues[i].Name(), values[0].Name())
		assert.Equal(t, []entity.Entity{dep}, sub.DepValues())
		assert.True(t, g.Upstream(sub.ID()).Contains(uint32(gen.ID())))
	}
}

func TestNode_ShrinkKeepsDescriptionAndTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s := store.NewMemory()

	n := NewGraph().Add(newFake("upper"), Raw("a.txt"), dir)
	assert.True(t, buildOnce(t, n, s))
	full := n.BuildStr(false)
	clearStr := n.ClearStr(true)

	n.Shrink()
	n.Shrink()
	assert.Nil(t, n.Builder())
	assert.Equal(t, full, n.BuildStr(false))
	assert.Equal(t, clearStr, n.ClearStr(true))
	assert.Len(t, n.TargetValues(), 1)
	assert.ErrorIs(t, n.Initiate(), ErrNotInitiated)
	assert.Equal(t, "upper: "+filepath.Join(dir, "a.txt")+" => "+filepath.Join(dir, "a.txt.out"), full)
}

func TestJoinArgs(t *testing.T) {
	long := strings.Repeat("x", 60)
	tests := []struct {
		name  string
		args  []string
		brief bool
		want  string
	}{
		{"empty", nil, true, ""},
		{"short", []string{"a", "b"}, true, "a b"},
		{"fits", []string{"a", "b", "c"}, true, "a b c"},
		{"full mode never elides", []string{long, long, long, long}, false, strings.Join([]string{long, long, long, long}, " ")},
		{"elided", []string{"first", long, long, long, "last"}, true, "first " + long + " ... last"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinArgs(tt.args, tt.brief))
		})
	}
}

func TestGraph_Levels(t *testing.T) {
	g := NewGraph()
	a := g.Add(newFake("a"), nil, "/")
	b := g.Add(newFake("b"), []any{a}, "/")
	c := g.Add(newFake("c"), nil, "/")
	d := g.Add(newFake("d"), []any{[]*Node{b, c}}, "/")

	levels, err := g.Levels(nil)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []*Node{a, c}, levels[0])
	assert.Equal(t, []*Node{b}, levels[1])
	assert.Equal(t, []*Node{d}, levels[2])

	closure := g.Closure(b.ID())
	assert.Equal(t, []uint32{uint32(a.ID()), uint32(b.ID())}, closure.ToArray())

	levels, err = g.Levels(closure)
	require.NoError(t, err)
	assert.Len(t, levels, 2)

	require.NoError(t, a.Depends(d))
	_, err = g.Levels(nil)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "actual", Actual.String())
	assert.Equal(t, "stale", Stale.String())
	assert.Equal(t, "state(42)", State(42).String())
}
