package blobstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	data := []byte("hello blob")
	if err := s.Put("sha256:abc", data, []string{"v1"}, nil, "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, meta, err := s.Get("sha256:abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("content mismatch: got %q want %q", got, data)
	}
	if meta.ContentType != "text/plain" {
		t.Errorf("content type mismatch: got %q", meta.ContentType)
	}
	if len(meta.Versions) != 1 || meta.Versions[0] != "v1" {
		t.Errorf("versions mismatch: got %v", meta.Versions)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Get("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChecksumMismatchDetected(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("k", []byte("original"), nil, nil, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the on-disk bytes directly, bypassing the store.
	path := filepath.Join(s.blobs, EncodeKey("k"))
	if err := os.WriteFile(path, []byte("corrupted!"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	_, _, err := s.Get("k")
	if err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
	var mismatch *ErrChecksumMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *ErrChecksumMismatch, got %T: %v", err, err)
	}
}

func TestDeleteRemovesBoth(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("k", []byte("x"), nil, nil, ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get("k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.blobs, EncodeKey("k"))); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err = %v", err)
	}
}

func TestListKeys(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Put(k, []byte(k), nil, nil, ""); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	keys, err := s.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d: %v", len(keys), keys)
	}
}

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	for _, key := range []string{"plain", "with/slash", "with spaces", "https://host:3000/a?b=c"} {
		encoded := EncodeKey(key)
		decoded, err := DecodeKey(encoded)
		if err != nil {
			t.Fatalf("DecodeKey(%q): %v", encoded, err)
		}
		if decoded != key {
			t.Errorf("round trip mismatch: %q -> %q -> %q", key, encoded, decoded)
		}
	}
}
