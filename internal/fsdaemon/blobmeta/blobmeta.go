// Package blobmeta persists the per-URL binary-sync state spec.md §4.8
// describes: "State {peer, file_mtime_ns, read_only?} persisted under
// <root>/.braidfs/braid-blob-meta/<encoded-url>". It reuses the same
// bbolt-backed single-file-per-store shape as internal/fsdaemon/versionstore
// and internal/blobstore rather than one flat file per URL, since bbolt
// already gives crash-safe atomic updates for free and the three stores
// share no schema that would justify a single shared database.
package blobmeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when url has no recorded entry.
var ErrNotFound = errors.New("blobmeta: no entry for url")

// State is one URL's binary-sync bookkeeping.
type State struct {
	Peer        string `json:"peer"`
	FileMtimeNs int64  `json:"file_mtime_ns"`
	ReadOnly    bool   `json:"read_only,omitempty"`
}

var bucket = []byte("blob-meta")

// Store is the bbolt-backed table mapping URL -> State.
type Store struct {
	mu sync.Mutex
	db *bbolt.DB
}

// Open creates (or reopens) a blob-meta store at path (conventionally
// BRAID_ROOT/.braidfs/braid-blob-meta.db).
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobmeta: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobmeta: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the recorded state for url.
func (s *Store) Get(url string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state State
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(url))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &state)
	})
	if err != nil {
		return State{}, fmt.Errorf("blobmeta: get %s: %w", url, err)
	}
	if !found {
		return State{}, ErrNotFound
	}
	return state, nil
}

// Put upserts the state for url.
func (s *Store) Put(url string, state State) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(url), buf)
	})
}
