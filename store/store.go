// Package store persists compiled modules in SQLite. Each row holds the
// canonical wire encoding of a module's top-level function and its content
// hash.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/larkvm/vm"
	"github.com/chazu/larkvm/vm/dist"
)

// ErrNotFound indicates the requested module doesn't exist.
var ErrNotFound = errors.New("module not in store")

var log = commonlog.GetLogger("larkvm.store")

// Entry describes a stored module.
type Entry struct {
	Name      string
	Hash      [32]byte
	Size      int
	UpdatedAt time.Time
}

// Store is a module store backed by one SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		name TEXT PRIMARY KEY,
		hash BLOB NOT NULL,
		code BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	log.Debugf("opened module store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put encodes fn and stores it under name, replacing any previous entry.
// It returns the content hash.
func (s *Store) Put(name string, fn *vm.Function) ([32]byte, error) {
	data, err := dist.MarshalFunction(fn)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding module %s: %w", name, err)
	}
	return s.PutEncoded(name, data)
}

// PutEncoded stores already-encoded function bytes under name after
// checking that they decode.
func (s *Store) PutEncoded(name string, data []byte) ([32]byte, error) {
	fn, err := dist.UnmarshalFunction(data, nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("module %s: %w", name, err)
	}
	h, err := dist.Hash(fn)
	if err != nil {
		return [32]byte{}, fmt.Errorf("hashing module %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO modules (name, hash, code, updated_at) VALUES (?, ?, ?, ?)",
		name, h[:], data, time.Now().Unix(),
	)
	if err != nil {
		return [32]byte{}, fmt.Errorf("saving module %s: %w", name, err)
	}
	log.Infof("stored module %s (%x)", name, h[:6])
	return h, nil
}

// Get returns the encoded function stored under name.
func (s *Store) Get(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT code FROM modules WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("querying module %s: %w", name, err)
	}
	return data, nil
}

// Stat returns the entry for name without its code.
func (s *Store) Stat(name string) (Entry, error) {
	row := s.db.QueryRow("SELECT name, hash, length(code), updated_at FROM modules WHERE name = ?", name)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return e, err
}

// List returns every entry ordered by name.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT name, hash, length(code), updated_at FROM modules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Names returns the stored module names in order.
func (s *Store) Names() ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Delete removes name. Deleting a missing module reports ErrNotFound.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM modules WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting module %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	log.Infof("deleted module %s", name)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e       Entry
		hash    []byte
		updated int64
	)
	if err := r.Scan(&e.Name, &hash, &e.Size, &updated); err != nil {
		return Entry{}, err
	}
	if len(hash) != len(e.Hash) {
		return Entry{}, fmt.Errorf("module %s: corrupt hash (%d bytes)", e.Name, len(hash))
	}
	copy(e.Hash[:], hash)
	e.UpdatedAt = time.Unix(updated, 0)
	return e, nil
}
