package entity

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
)

// FileChecksum is a file signed by the SHA-256 of its bytes. Directories fall
// back to their timestamp signature; missing files are unsigned.
type FileChecksum struct{ base }

// FileTimestamp is a file signed by its modification time and size. It is
// cheap to check but misses rewrites that keep both.
type FileTimestamp struct{ base }

// Dir is a timestamp-signed directory whose Remove only deletes it when empty.
type Dir struct{ base }

// NewFileChecksum signs the file at path. The name is the absolute,
// case-normalized path.
func NewFileChecksum(path string, tags ...string) (FileChecksum, error) {
	name, err := checksumName(path)
	if err != nil {
		return FileChecksum{}, err
	}
	return FileChecksum{newBase(name, fileChecksum(name), tags)}, nil
}

// NewFileTimestamp signs the file at path by its modification time.
func NewFileTimestamp(path string, tags ...string) (FileTimestamp, error) {
	name, err := timestampName(path)
	if err != nil {
		return FileTimestamp{}, err
	}
	return FileTimestamp{newBase(name, fileTimestamp(name), tags)}, nil
}

// NewDir signs the directory at path by its modification time.
func NewDir(path string, tags ...string) (Dir, error) {
	name, err := timestampName(path)
	if err != nil {
		return Dir{}, err
	}
	return Dir{newBase(name, fileTimestamp(name), tags)}, nil
}

// NewFile builds a file entity of the given kind. Kinds other than
// KindTimestamp and KindDir produce checksum entities.
func NewFile(kind Kind, path string, tags ...string) (Entity, error) {
	switch kind {
	case KindTimestamp:
		return NewFileTimestamp(path, tags...)
	case KindDir:
		return NewDir(path, tags...)
	default:
		return NewFileChecksum(path, tags...)
	}
}

// RestoreFile rebuilds a file entity from stored fields without touching the
// filesystem. The name must already be normalized.
func RestoreFile(kind Kind, name string, sig Signature, tags []string) (Entity, error) {
	if name == "" {
		return nil, ErrNoName
	}
	b := newBase(name, sig, tags)
	switch kind {
	case KindChecksum:
		return FileChecksum{b}, nil
	case KindTimestamp:
		return FileTimestamp{b}, nil
	case KindDir:
		return Dir{b}, nil
	default:
		return nil, errors.New("not a file kind: " + kind.String())
	}
}

// IsFile reports whether e is one of the file kinds.
func IsFile(e Entity) bool {
	switch e.Kind() {
	case KindChecksum, KindTimestamp, KindDir:
		return true
	}
	return false
}

func (FileChecksum) Kind() Kind    { return KindChecksum }
func (f FileChecksum) Get() string { return f.name }

func (f FileChecksum) IsActual() bool {
	if !f.sig.Signed() {
		return false
	}
	return f.sig.Equal(fileChecksum(f.name))
}

func (f FileChecksum) Actual() Entity {
	return FileChecksum{newBase(f.name, fileChecksum(f.name), f.tags)}
}

func (f FileChecksum) Remove() error { return removeFile(f.name) }

func (FileTimestamp) Kind() Kind    { return KindTimestamp }
func (f FileTimestamp) Get() string { return f.name }

func (f FileTimestamp) IsActual() bool {
	if !f.sig.Signed() {
		return false
	}
	return f.sig.Equal(fileTimestamp(f.name))
}

func (f FileTimestamp) Actual() Entity {
	return FileTimestamp{newBase(f.name, fileTimestamp(f.name), f.tags)}
}

func (f FileTimestamp) Remove() error { return removeFile(f.name) }

func (Dir) Kind() Kind    { return KindDir }
func (d Dir) Get() string { return d.name }

func (d Dir) IsActual() bool {
	if !d.sig.Signed() {
		return false
	}
	return d.sig.Equal(fileTimestamp(d.name))
}

func (d Dir) Actual() Entity {
	return Dir{newBase(d.name, fileTimestamp(d.name), d.tags)}
}

func (d Dir) Remove() error {
	if err := rmdir(d.name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func removeFile(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func timestampName(path string) (string, error) {
	if path == "" {
		return "", ErrNoName
	}
	return filepath.Abs(path)
}

func checksumName(path string) (string, error) {
	name, err := timestampName(path)
	if err != nil {
		return "", err
	}
	return normCase(name), nil
}

// normCase folds case on platforms whose filesystems are case-insensitive.
func normCase(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(filepath.FromSlash(path))
	}
	return path
}

func fileChecksum(path string) Signature {
	sig, err := hashFile(path)
	if err != nil {
		if !isDirErr(path, err) {
			return nil
		}
		return fileTimestamp(path)
	}
	return sig
}

func hashFile(path string) (Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func isDirErr(path string, err error) bool {
	if errors.Is(err, syscall.EISDIR) {
		return true
	}
	info, statErr := os.Stat(path)
	return statErr == nil && info.IsDir()
}

func fileTimestamp(path string) Signature {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	sig := make(Signature, 16)
	binary.BigEndian.PutUint64(sig[:8], uint64(info.ModTime().UnixNano()))
	binary.BigEndian.PutUint64(sig[8:], uint64(info.Size()))
	return sig
}
