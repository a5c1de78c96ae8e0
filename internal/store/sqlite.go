package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-research/kiln/internal/entity"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single-file SQLite database. Entities are
// msgpack-encoded into one table keyed by an autoincrement integer; the
// kind:name identity is a unique secondary key so upserts keep keys stable.
type SQLite struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers; the mutex below keeps multi-statement
	// operations atomic with respect to each other.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			key  INTEGER PRIMARY KEY AUTOINCREMENT,
			id   TEXT UNIQUE NOT NULL,
			kind INTEGER NOT NULL,
			data BLOB NOT NULL
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

type execer interface {
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(q execer, e entity.Entity) (entity.Key, error) {
	data, err := entity.Marshal(e)
	if err != nil {
		return 0, err
	}
	var key int64
	err = q.QueryRow(`
		INSERT INTO entities (id, kind, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, data = excluded.data
		RETURNING key
	`, entity.ID(e), int(e.Kind()), data).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", entity.ID(e), err)
	}
	return entity.Key(key), nil
}

// AddValue implements Store.
func (s *SQLite) AddValue(e entity.Entity) (entity.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsert(s.db, e)
}

// AddValues implements Store. All entities are written in one transaction.
func (s *SQLite) AddValues(es []entity.Entity) ([]entity.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin add: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	keys := make([]entity.Key, len(es))
	for i, e := range es {
		if keys[i], err = upsert(tx, e); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add: %w", err)
	}
	return keys, nil
}

// FindValue implements Store.
func (s *SQLite) FindValue(probe entity.Entity) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(probe)
}

func (s *SQLite) findLocked(probe entity.Entity) (entity.Entity, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM entities WHERE id = ?", entity.ID(probe)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entity.ID(probe), err)
	}
	return entity.Unmarshal(data)
}

// FindValues implements Store.
func (s *SQLite) FindValues(probes []entity.Entity) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Entity, len(probes))
	for i, p := range probes {
		e, err := s.findLocked(p)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// GetValues implements Store.
func (s *SQLite) GetValues(keys []entity.Key) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Entity, len(keys))
	for i, k := range keys {
		var data []byte
		err := s.db.QueryRow("SELECT data FROM entities WHERE key = ?", int64(k)).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get key %d: %w", k, err)
		}
		if out[i], err = entity.Unmarshal(data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReplaceValue implements Store.
func (s *SQLite) ReplaceValue(key entity.Key, e entity.Entity) error {
	data, err := entity.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE entities SET id = ?, kind = ?, data = ? WHERE key = ?",
		entity.ID(e), int(e.Kind()), data, int64(key))
	if err != nil {
		return fmt.Errorf("replace key %d: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace key %d: %w", key, err)
	}
	if n == 0 {
		return ErrUnknownKey
	}
	return nil
}

// RemoveValues implements Store.
func (s *SQLite) RemoveValues(probes []entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	stmt, err := tx.Prepare("DELETE FROM entities WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare remove: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range probes {
		if _, err := stmt.Exec(entity.ID(p)); err != nil {
			return fmt.Errorf("remove %s: %w", entity.ID(p), err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
