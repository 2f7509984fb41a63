package blobmeta

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobmeta.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	state := State{Peer: "peer-1", FileMtimeNs: 12345, ReadOnly: true}
	if err := s.Put("https://example.com/img.png", state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("https://example.com/img.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != state {
		t.Errorf("Get = %+v, want %+v", got, state)
	}
}

func TestGetMissingURL(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("https://example.com/nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("u", State{FileMtimeNs: 1}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put("u", State{FileMtimeNs: 2}); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := s.Get("u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileMtimeNs != 2 {
		t.Errorf("FileMtimeNs = %d, want 2", got.FileMtimeNs)
	}
}
