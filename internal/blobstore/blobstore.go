// Package blobstore implements the content-hashed binary object store of
// spec.md §4.7: atomic writes under BRAID_ROOT/.braidfs/blobs, SHA-256
// checksum verification on read, and metadata (versions, parents, content
// type) held in an embedded bbolt key/value store, the same pairing
// caddy-plugin/store/bbolt.go uses for stream metadata.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get/Delete when key isn't present.
var ErrNotFound = errors.New("blobstore: blob not found")

// ErrChecksumMismatch is returned by Get when the on-disk bytes no longer
// hash to the SHA-256 recorded at Put time (spec.md §8 property 7).
type ErrChecksumMismatch struct {
	Key  string
	Want string
	Got  string
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("blobstore: checksum mismatch for %s: want %s, got %s", e.Key, e.Want, e.Got)
}

// Metadata is the serialized per-blob record, spec.md §3's Blob minus the
// key (which is the bbolt row key) and the bytes (which live in a sibling
// file).
type Metadata struct {
	SHA256      string   `json:"sha256"`
	Versions    []string `json:"versions,omitempty"`
	Parents     []string `json:"parents,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Length      int64    `json:"length"`
	UpdatedAt   int64    `json:"updated_at"`
}

var metaBucket = []byte("blobs")

// Store is a bbolt-metadata, flat-file-bytes blob store rooted at dir
// (conventionally BRAID_ROOT/.braidfs).
type Store struct {
	dir   string
	blobs string
	temp  string
	db    *bbolt.DB
	log   *zap.Logger
	mu    sync.Mutex
}

// Open creates (or reopens) a blob store rooted at dir, creating
// dir/blobs, dir/temp and dir/meta.sqlite (the bbolt file; named .sqlite to
// match the layout spec.md §6 documents even though it is a bbolt file, not
// a SQLite one — bbolt's on-disk format is what caddy-plugin actually
// embeds).
func Open(dir string, log *zap.Logger) (*Store, error) {
	blobs := filepath.Join(dir, "blobs")
	temp := filepath.Join(dir, "temp")
	for _, d := range []string{dir, blobs, temp} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: create %s: %w", d, err)
		}
	}

	dbPath := filepath.Join(dir, "meta.sqlite")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobstore: open metadata db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: create bucket: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, blobs: blobs, temp: temp, db: db, log: log}, nil
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// EncodeKey reversibly URL-safe-encodes an opaque blob key into a filename,
// per spec.md §3 ("filename derived from URL-safe encoding of key").
func EncodeKey(key string) string { return url.QueryEscape(key) }

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(encoded string) (string, error) { return url.QueryUnescape(encoded) }

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.blobs, EncodeKey(key))
}

// Put computes the SHA-256 of bytes, writes them atomically under an
// encoded filename, and upserts the metadata row.
func (s *Store) Put(key string, data []byte, versions, parents []string, contentType string) error {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])

	if err := atomicWrite(s.pathFor(key), s.temp, data); err != nil {
		return fmt.Errorf("blobstore: put %s: %w", key, err)
	}

	meta := Metadata{
		SHA256:      hexSum,
		Versions:    versions,
		Parents:     parents,
		ContentType: contentType,
		Length:      int64(len(data)),
		UpdatedAt:   time.Now().Unix(),
	}
	buf, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(key), buf)
	}); err != nil {
		return fmt.Errorf("blobstore: put metadata %s: %w", key, err)
	}
	s.log.Debug("blob put", zap.String("key", key), zap.String("sha256", hexSum), zap.Int("len", len(data)))
	return nil
}

// Get reads a blob's bytes and verifies them against the stored checksum.
func (s *Store) Get(key string) ([]byte, Metadata, error) {
	meta, err := s.getMetadata(key)
	if err != nil {
		return nil, Metadata{}, err
	}

	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, ErrNotFound
		}
		return nil, Metadata{}, fmt.Errorf("blobstore: read %s: %w", key, err)
	}

	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != meta.SHA256 {
		return nil, Metadata{}, &ErrChecksumMismatch{Key: key, Want: meta.SHA256, Got: got}
	}
	return data, meta, nil
}

func (s *Store) getMetadata(key string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta Metadata
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("blobstore: metadata %s: %w", key, err)
	}
	if !found {
		return Metadata{}, ErrNotFound
	}
	return meta, nil
}

// Delete removes both the blob's bytes and its metadata row.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete file %s: %w", key, err)
	}
	return nil
}

// ListKeys enumerates every stored blob key.
func (s *Store) ListKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, v []byte) error {
			keys = append(keys, string(append([]byte(nil), k...)))
			return nil
		})
	})
	return keys, err
}

// atomicWrite implements spec.md §8 property 6: write to a temp file in a
// sibling directory, fsync, then rename over the destination, so a process
// kill at any point leaves dest either absent, unchanged, or fully written.
func atomicWrite(dest, tempDir string, data []byte) error {
	f, err := os.CreateTemp(tempDir, "blob-*.tmp")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

// AtomicWrite exposes the same atomic-write primitive for the fsdaemon
// package's text-sync inbound path, which writes to arbitrary projected
// file paths rather than the blob directory.
func AtomicWrite(dest, tempDir string, data []byte) error {
	return atomicWrite(dest, tempDir, data)
}
