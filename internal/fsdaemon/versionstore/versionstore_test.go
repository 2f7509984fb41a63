package versionstore

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "versions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	entry := Entry{CurrentVersion: []string{"v2"}, Parents: []string{"v1"}, ContentHash: "abc"}
	if err := s.Put("https://example.com/a", entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("https://example.com/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.CurrentVersion) != 1 || got.CurrentVersion[0] != "v2" {
		t.Errorf("CurrentVersion = %v, want [v2]", got.CurrentVersion)
	}
	if got.UpdatedAt == 0 {
		t.Error("want UpdatedAt stamped on Put")
	}
}

func TestGetMissingURL(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("https://example.com/missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenListURLs(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("https://a", Entry{CurrentVersion: []string{"v1"}}); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := s.Put("https://b", Entry{CurrentVersion: []string{"v1"}}); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	if err := s.Delete("https://a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("https://a"); err != ErrNotFound {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}

	urls, err := s.ListURLs()
	if err != nil {
		t.Fatalf("ListURLs: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://b" {
		t.Errorf("ListURLs = %v, want [https://b]", urls)
	}
}
