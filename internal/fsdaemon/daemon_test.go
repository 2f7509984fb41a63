package fsdaemon

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/braidfs/braidfs/internal/blobstore"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := Open(t.TempDir(), "peer-test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAdminProjectionPutThenGetRoundTrips(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/notes.txt", bytes.NewBufferString("hello"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/notes.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want %q", body, "hello")
	}
}

func TestAdminProjectionGetMissingReturnsNotFound(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminBlobPutThenGetRoundTrips(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	key := blobstore.EncodeKey("https://example.com/img.png")
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/blobs/"+key, bytes.NewBufferString("binarydata"))
	req.Header.Set("Content-Type", "image/png")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/blobs/" + key)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	if string(body) != "binarydata" {
		t.Errorf("body = %q, want %q", body, "binarydata")
	}
	if ct := getResp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestAdminBlobGetUnknownHashIsNotFound(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	key := blobstore.EncodeKey("https://example.com/never-put.png")
	resp, err := http.Get(srv.URL + "/blobs/" + key)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminSyncMarksURLSyncedInConfig(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	url := "https://example.com/doc.txt"
	resp, err := http.Post(srv.URL+"/sync?url="+url, "", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !d.cfg.Snapshot().Sync[url] {
		t.Error("want url marked synced after POST /sync")
	}

	unresp, err := http.Post(srv.URL+"/unsync?url="+url, "", nil)
	if err != nil {
		t.Fatalf("POST /unsync: %v", err)
	}
	unresp.Body.Close()
	if d.cfg.Snapshot().Sync[url] {
		t.Error("want url unsynced after POST /unsync")
	}
}

func TestPersistErrorAppendsToErrorsFile(t *testing.T) {
	d := newTestDaemon(t)

	d.persistError("subscribe", "https://example.com/doc", errors.New("history dropped"))
	d.persistError("put", "https://example.com/doc", errors.New("access denied"))

	data, err := os.ReadFile(filepath.Join(d.root, ".braidfs", "errors"))
	if err != nil {
		t.Fatalf("read errors file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "subscribe https://example.com/doc: history dropped") {
		t.Errorf("errors file missing first entry: %q", text)
	}
	if !strings.Contains(text, "put https://example.com/doc: access denied") {
		t.Errorf("errors file missing second entry: %q", text)
	}
}

func TestAdminBlobGetPersistsChecksumMismatch(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	key := "https://example.com/img.png"
	if err := d.blobs.Put(key, []byte("original"), nil, nil, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// External corruption of the stored bytes.
	blobPath := filepath.Join(d.root, ".braidfs", "blobs", blobstore.EncodeKey(key))
	if err := os.WriteFile(blobPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	resp, err := http.Get(srv.URL + "/blobs/" + blobstore.EncodeKey(key))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	data, err := os.ReadFile(filepath.Join(d.root, ".braidfs", "errors"))
	if err != nil {
		t.Fatalf("read errors file: %v", err)
	}
	if !strings.Contains(string(data), "checksum mismatch") {
		t.Errorf("errors file = %q, want a checksum mismatch entry", data)
	}
}

func TestAdminSyncMissingURLParamIsBadRequest(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(d.AdminRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sync", "", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
