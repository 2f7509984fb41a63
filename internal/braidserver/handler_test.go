package braidserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/braidfs/braidfs/internal/braidclient"
	"github.com/braidfs/braidfs/internal/wire"
)

func TestGetOnMissingResourceReturnsEmptySnapshot(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/doc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "" {
		t.Errorf("body = %q, want empty", body)
	}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("hello world"))
	req.Header.Set(wire.HeaderVersion, `"v1"`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/doc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	if string(body) != "hello world" {
		t.Errorf("body = %q", body)
	}
	if v := getResp.Header.Get(wire.HeaderVersion); v != `"v1"` {
		t.Errorf("Version header = %q", v)
	}
}

func TestRangedPutReplacesRange(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	seed, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("hello"))
	seed.Header.Set(wire.HeaderVersion, `"v0"`)
	seedResp, err := http.DefaultClient.Do(seed)
	if err != nil {
		t.Fatalf("seed PUT: %v", err)
	}
	seedResp.Body.Close()

	patch, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("world"))
	patch.Header.Set(wire.HeaderVersion, `"v1"`)
	patch.Header.Set(wire.HeaderParents, `"v0"`)
	patch.Header.Set(wire.HeaderContentRange, "text [0:5]")
	resp, err := http.DefaultClient.Do(patch)
	if err != nil {
		t.Fatalf("ranged PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("ranged PUT status = %d, want 206", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/doc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	if string(body) != "world" {
		t.Errorf("body = %q, want %q", body, "world")
	}
	if v := getResp.Header.Get(wire.HeaderVersion); v != `"v1"` {
		t.Errorf("Version header = %q, want %q", v, `"v1"`)
	}
}

func TestSubscribeResumeAtKnownFrontierSendsNothingUntilNewWrite(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	seed, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("state"))
	seed.Header.Set(wire.HeaderVersion, `"v3"`)
	seedResp, _ := http.DefaultClient.Do(seed)
	seedResp.Body.Close()

	// Resubscribe already holding the current frontier: the server must not
	// replay the snapshot.
	c := braidclient.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := c.Subscribe(ctx, srv.URL+"/doc", []string{"v3"}, 0)
	defer sub.Close()

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event before any new write: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	put, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("fresh"))
	put.Header.Set(wire.HeaderVersion, `"v4"`)
	put.Header.Set(wire.HeaderParents, `"v3"`)
	putResp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	putResp.Body.Close()

	ev := <-sub.Events()
	if ev.Err != nil {
		t.Fatalf("event after write: %v", ev.Err)
	}
	if len(ev.Update.Versions) != 1 || ev.Update.Versions[0] != "v4" {
		t.Errorf("update versions = %v, want [v4]", ev.Update.Versions)
	}
}

func TestPutIsIdempotentOnRepeatedVersion(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	put := func(body string, version string) int {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader(body))
		req.Header.Set(wire.HeaderVersion, version)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if s := put("first", `"v1"`); s != http.StatusOK {
		t.Fatalf("first PUT status = %d", s)
	}
	if s := put("first-replayed", `"v1"`); s != http.StatusOK {
		t.Fatalf("replayed PUT status = %d", s)
	}

	resp, err := http.Get(srv.URL + "/doc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "first" {
		t.Errorf("body after replay = %q, want unchanged %q", body, "first")
	}
}

func TestMergeTypeMismatchRejected(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("x"))
	req.Header.Set(wire.HeaderMergeType, "simpleton")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initial PUT status = %d", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("y"))
	req2.Header.Set(wire.HeaderMergeType, "diamond")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("second PUT: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched PUT status = %d, want 400", resp2.StatusCode)
	}
}

func TestSubscribeReceivesInitialSnapshotThenUpdate(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("v0"))
	req.Header.Set(wire.HeaderVersion, `"v0"`)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()

	c := braidclient.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := c.Subscribe(ctx, srv.URL+"/doc", nil, 0)
	defer sub.Close()

	first := <-sub.Events()
	if first.Err != nil {
		t.Fatalf("initial event: %v", first.Err)
	}
	if string(first.Update.Body) != "v0" {
		t.Fatalf("initial body = %q", first.Update.Body)
	}

	put2, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("v1"))
	put2.Header.Set(wire.HeaderVersion, `"v1"`)
	put2.Header.Set(wire.HeaderParents, `"v0"`)
	resp2, err := http.DefaultClient.Do(put2)
	if err != nil {
		t.Fatalf("second PUT: %v", err)
	}
	resp2.Body.Close()

	second := <-sub.Events()
	if second.Err != nil {
		t.Fatalf("second event: %v", second.Err)
	}
	if len(second.Update.Patches) != 1 || string(second.Update.Patches[0].Content) != "v1" {
		t.Fatalf("second update = %+v", second.Update)
	}
}

func TestMultiplexedGetStreamsResponseOverMuxConnection(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	put, _ := http.NewRequest(http.MethodPut, srv.URL+"/doc", strings.NewReader("muxed"))
	put.Header.Set(wire.HeaderVersion, `"v1"`)
	putResp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	putResp.Body.Close()

	c := braidclient.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mux, err := c.OpenMultiplexer(ctx, srv.URL+"/multiplex")
	if err != nil {
		t.Fatalf("OpenMultiplexer: %v", err)
	}
	defer mux.Close()

	reqID := braidclient.NewRequestID()
	frames := mux.Register(reqID)

	get, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/doc", nil)
	get.Header.Set(wire.HeaderMultiplexThru, wire.FormatMultiplexThrough(mux.ID(), reqID))
	resp, err := http.DefaultClient.Do(get)
	if err != nil {
		t.Fatalf("multiplexed GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != wire.StatusMultiplexed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, wire.StatusMultiplexed)
	}

	var raw []byte
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break collect
			}
			if f.Kind == wire.FrameData {
				raw = append(raw, f.Data...)
			}
			if f.Kind == wire.FrameClose {
				break collect
			}
		case <-deadline:
			t.Fatal("timed out waiting for multiplexed frames")
		}
	}

	parser := wire.NewMessageParser()
	parser.Feed(raw)
	msg, err := parser.Next()
	if err != nil {
		t.Fatalf("parse multiplexed response: %v", err)
	}
	if msg.Status != http.StatusOK {
		t.Errorf("multiplexed status = %d, want 200", msg.Status)
	}
	if string(msg.Update.Body) != "muxed" {
		t.Errorf("multiplexed body = %q, want %q", msg.Update.Body, "muxed")
	}
}

func TestOptionsRequestGetsCORSPreflightResponse(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/doc", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
