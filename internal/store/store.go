// Package store is the relational side of the cache: a sqlite-backed entry
// repository consumed by the demo handlers and by the default writer/deleter
// the engine's workers invoke.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maypok86/otter"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const rowCacheCapacity = 4096

// Store wraps the entries database with a small in-process row cache. The
// row cache belongs to the downstream handler, not to the consistency
// engine: it only shortens database reads on cache-layer misses.
type Store struct {
	db   *sql.DB
	rows otter.Cache[string, string]
}

// Open creates (or opens) entries.db under dataDir and applies migrations.
func Open(dataDir string) (*Store, error) {
	db, err := openDB(filepath.Join(dataDir, "entries.db"))
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db)
}

// New wraps an already-open database.
func New(db *sql.DB) (*Store, error) {
	rows, err := otter.MustBuilder[string, string](rowCacheCapacity).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		WithTTL(time.Minute).
		Build()
	if err != nil {
		return nil, fmt.Errorf("store: row cache: %w", err)
	}
	return &Store{db: db, rows: rows}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.rows.Close()
	return s.db.Close()
}

// openDB opens a SQLite database with WAL and a single writer connection.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

func rowKey(resource, id string) string {
	return resource + "\x00" + id
}

// Upsert writes an entry body and refreshes the row cache.
func (s *Store) Upsert(resource, id, body string) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (resource, id, body, updated_at_ns) VALUES (?, ?, ?, ?)
		 ON CONFLICT (resource, id) DO UPDATE SET body = excluded.body, updated_at_ns = excluded.updated_at_ns`,
		resource, id, body, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert %s/%s: %w", resource, id, err)
	}
	s.rows.Set(rowKey(resource, id), body)
	return nil
}

// Get reads an entry body, serving from the row cache when possible.
func (s *Store) Get(resource, id string) (string, bool, error) {
	if body, ok := s.rows.Get(rowKey(resource, id)); ok {
		return body, true, nil
	}

	var body string
	err := s.db.QueryRow(
		`SELECT body FROM entries WHERE resource = ? AND id = ?`, resource, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s/%s: %w", resource, id, err)
	}
	s.rows.Set(rowKey(resource, id), body)
	return body, true, nil
}

// Delete removes an entry and invalidates the row cache. Deleting an absent
// entry is not an error.
func (s *Store) Delete(resource, id string) error {
	if _, err := s.db.Exec(
		`DELETE FROM entries WHERE resource = ? AND id = ?`, resource, id,
	); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", resource, id, err)
	}
	s.rows.Delete(rowKey(resource, id))
	return nil
}

// Count returns the number of entries for a resource.
func (s *Store) Count(resource string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE resource = ?`, resource).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", resource, err)
	}
	return n, nil
}

// envelope is the minimal JSON shape the default writer understands: any
// object carrying an "id" field. The rest of the body is opaque.
type envelope struct {
	ID string `json:"id"`
}

// IDFromBody extracts the "id" field from a JSON body. The default writer
// uses it to locate the row a drained value belongs to.
func IDFromBody(body string) (string, error) {
	var e envelope
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return "", fmt.Errorf("store: body is not a JSON object: %w", err)
	}
	if e.ID == "" {
		return "", fmt.Errorf("store: body has no id field")
	}
	return e.ID, nil
}
