// Package versionstore persists the per-URL frontier/parents/content-hash
// table spec.md §6 calls "versions.json" under a crash-safe embedded KV
// store instead of a single hand-rewritten JSON file, reusing the same
// bbolt pairing internal/blobstore already uses for blob metadata (per
// SPEC_FULL.md's DOMAIN STACK: "Also backs the FS daemon's
// versions.json-equivalent persisted version store").
package versionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when url has no recorded entry.
var ErrNotFound = errors.New("versionstore: no entry for url")

// Entry is the per-URL record spec.md §6 describes:
// {current_version, parents, content_hash?}.
type Entry struct {
	CurrentVersion []string `json:"current_version"`
	Parents        []string `json:"parents,omitempty"`
	ContentHash    string   `json:"content_hash,omitempty"`
	UpdatedAt      int64    `json:"updated_at"`
}

var bucket = []byte("versions")

// Store is a bbolt-backed table mapping URL -> Entry, covering spec.md
// §5's "version_store (on-disk JSON): global, single writer task via a
// read-write lock" — bbolt's transaction serialization gives the
// single-writer discipline directly, and its page cache batches the
// on-disk writes.
type Store struct {
	mu sync.Mutex
	db *bbolt.DB
}

// Open creates (or reopens) a version store at path (conventionally
// BRAID_ROOT/.braidfs/versions.json).
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("versionstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("versionstore: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the recorded entry for url.
func (s *Store) Get(url string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry Entry
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(url))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("versionstore: get %s: %w", url, err)
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Put upserts the entry for url, stamping UpdatedAt.
func (s *Store) Put(url string, entry Entry) error {
	entry.UpdatedAt = time.Now().Unix()
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(url), buf)
	})
}

// Delete removes the entry for url, a no-op if absent.
func (s *Store) Delete(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(url))
	})
}

// ListURLs enumerates every URL with a recorded entry.
func (s *Store) ListURLs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var urls []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, _ []byte) error {
			urls = append(urls, string(append([]byte(nil), k...)))
			return nil
		})
	})
	return urls, err
}
