package braidclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/braidfs/braidfs/internal/wire"
)

// PutRequest is one outbound PUT: a new version (and its parents) plus
// either a single Content-Range-addressed patch, several patches (sent as
// a `Patches: N` body), or a whole-body snapshot replacement (a single
// patch with an empty Range, matching how
// braidserver.handlePut distinguishes "whole-document write" from "genuine
// partial patch").
type PutRequest struct {
	Version   string
	Parents   []string
	MergeType string
	Patches   []wire.Patch
}

// Put sends req to url, retrying per spec.md §4.5's decision table exactly
// as Fetch does, and returns the server's acknowledged frontier.
func (c *Client) Put(ctx context.Context, url string, req PutRequest) ([]string, error) {
	retry := NewRetryState(c.cfg.maxBackoff).WithMaxRetries(c.cfg.maxRetries)

	for {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPut, url, bytes.NewReader(putBody(req.Patches)))
		if err != nil {
			cancel()
			return nil, &ProtocolError{Op: "put", Err: err}
		}
		c.setCommonHeaders(httpReq, nil)
		if req.Version != "" {
			httpReq.Header.Set(wire.HeaderVersion, wire.FormatVersionHeader([]string{req.Version}))
		}
		if len(req.Parents) > 0 {
			httpReq.Header.Set(wire.HeaderParents, wire.FormatVersionHeader(req.Parents))
		}
		if req.MergeType != "" {
			httpReq.Header.Set(wire.HeaderMergeType, req.MergeType)
		}
		setPatchHeaders(httpReq, req.Patches)

		resp, err := c.cfg.httpClient.Do(httpReq)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ErrAborted
			}
			decision := retry.DecideNetworkError(false)
			if !c.wait(ctx, decision) {
				return nil, errFromDecision(decision, err)
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return nil, &ProtocolError{Op: "put", Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			retry.Reset()
			frontier, err := wire.ParseVersionHeader(resp.Header.Get(wire.HeaderVersion))
			if err != nil {
				return nil, &ProtocolError{Op: "put", Err: err}
			}
			return frontier, nil
		}

		decision := retry.DecideResponse(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
		if !c.wait(ctx, decision) {
			return nil, errFromDecision(decision, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
		}
	}
}

// setPatchHeaders sets either Content-Range (single patch) or Patches: N
// (several), matching decodePatches' expectations on the server side.
func setPatchHeaders(req *http.Request, patches []wire.Patch) {
	switch {
	case len(patches) == 0:
		return
	case len(patches) == 1 && patches[0].Range != "":
		p := patches[0]
		req.Header.Set(wire.HeaderContentRange, wire.FormatContentRange(string(p.Unit), p.Range))
	case len(patches) > 1:
		req.Header.Set(wire.HeaderPatches, fmt.Sprintf("%d", len(patches)))
	}
}

// putBody renders the request body: a single patch's raw content for the
// Content-Range shorthand or a whole-body snapshot (Range == ""), and the
// multi-patch framing when there's more than one.
func putBody(patches []wire.Patch) []byte {
	switch {
	case len(patches) == 0:
		return nil
	case len(patches) == 1:
		return patches[0].Content
	default:
		return wire.EncodeMultiPatchBody(patches)
	}
}
