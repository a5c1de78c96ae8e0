package entity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileChecksum_EmptyName(t *testing.T) {
	_, err := NewFileChecksum("")
	assert.ErrorIs(t, err, ErrNoName)

	_, err = NewFileTimestamp("")
	assert.ErrorIs(t, err, ErrNoName)

	_, err = NewDir("")
	assert.ErrorIs(t, err, ErrNoName)
}

func TestFileChecksum_NameIsAbsolute(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "a.txt"), "x")
	t.Chdir(dir)

	rel, err := NewFileChecksum("a.txt")
	require.NoError(t, err)
	abs, err := NewFileChecksum(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(rel.Name()))
	assert.True(t, Equal(rel, abs))
}

func TestFileChecksum_SignatureFollowsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")

	f, err := NewFileChecksum(path)
	require.NoError(t, err)
	require.True(t, f.Signature().Signed())
	assert.True(t, f.IsActual())

	writeFile(t, path, "y")
	assert.False(t, f.IsActual())

	refreshed := f.Actual()
	assert.True(t, refreshed.IsActual())
	assert.False(t, refreshed.Signature().Equal(f.Signature()))
	assert.Equal(t, f.Name(), refreshed.Name())
}

func TestFileChecksum_MissingFileIsUnsigned(t *testing.T) {
	f, err := NewFileChecksum(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.False(t, f.Signature().Signed())
	assert.False(t, f.IsActual())
}

func TestFileChecksum_DirectoryFallsBackToTimestamp(t *testing.T) {
	dir := t.TempDir()

	f, err := NewFileChecksum(dir)
	require.NoError(t, err)
	require.True(t, f.Signature().Signed())

	d, err := NewDir(dir)
	require.NoError(t, err)
	assert.Equal(t, d.Signature(), f.Signature())
	assert.True(t, f.IsActual())
}

func TestFile_DeletedFileIsNotActual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")

	c, err := NewFileChecksum(path)
	require.NoError(t, err)
	ts, err := NewFileTimestamp(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.False(t, c.IsActual())
	assert.False(t, ts.IsActual())
	assert.False(t, c.Actual().Signature().Signed())
}

// Rewriting a file with same-sized content and restoring its mtime fools the
// timestamp kind but not the checksum kind.
func TestFile_ChecksumDetectsRewritePreservingMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")
	stamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	c, err := NewFileChecksum(path)
	require.NoError(t, err)
	ts, err := NewFileTimestamp(path)
	require.NoError(t, err)

	writeFile(t, path, "y")
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	assert.False(t, c.IsActual(), "checksum entity must see the new bytes")
	assert.True(t, ts.IsActual(), "timestamp entity only sees mtime and size")
}

func TestFile_RemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")

	f, err := NewFileChecksum(path)
	require.NoError(t, err)

	require.NoError(t, f.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, f.Remove(), "already gone is not an error")
}

func TestDir_RemoveOnlyEmpty(t *testing.T) {
	root := t.TempDir()
	full := filepath.Join(root, "full")
	empty := filepath.Join(root, "empty")
	require.NoError(t, os.Mkdir(full, 0o755))
	require.NoError(t, os.Mkdir(empty, 0o755))
	writeFile(t, filepath.Join(full, "keep"), "x")

	d, err := NewDir(empty)
	require.NoError(t, err)
	require.NoError(t, d.Remove())
	_, err = os.Stat(empty)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, d.Remove())

	d, err = NewDir(full)
	require.NoError(t, err)
	assert.Error(t, d.Remove(), "non-empty directory is reported to the caller")
	_, err = os.Stat(full)
	assert.NoError(t, err)
}

func TestNewFile_Kinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")

	tests := []struct {
		kind Kind
		want Kind
	}{
		{KindChecksum, KindChecksum},
		{KindTimestamp, KindTimestamp},
		{KindDir, KindDir},
		{KindValue, KindChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			e, err := NewFile(tt.kind, path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Kind())
			assert.Equal(t, e.Name(), e.Get())
		})
	}
}
