package braidserver

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/braidfs/braidfs/internal/merge"
	"github.com/braidfs/braidfs/internal/wire"
)

// handlePut implements spec.md §4.6's PUT handler: parse headers and body
// into one or more patches, idempotently skip versions already seen,
// dispatch to the resource's merge instance, and broadcast any rebased
// patches to every subscriber (including the origin, so every client
// converges on the same state).
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	mtName := r.Header.Get(wire.HeaderMergeType)
	res, err := h.registry.GetOrCreate(r.URL.Path, mtName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	versions, err := wire.ParseVersionHeader(r.Header.Get(wire.HeaderVersion))
	if err != nil {
		http.Error(w, "malformed Version header", http.StatusBadRequest)
		return
	}
	parents, err := wire.ParseVersionHeader(r.Header.Get(wire.HeaderParents))
	if err != nil {
		http.Error(w, "malformed Parents header", http.StatusBadRequest)
		return
	}
	versionID := firstOrEmpty(versions)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	patches, err := decodePatches(r, body)
	if err != nil {
		http.Error(w, "malformed patch body", http.StatusBadRequest)
		return
	}

	res.mu.Lock()

	if mtName != "" && res.mtName != mtName {
		res.mu.Unlock()
		http.Error(w, "Merge-type mismatch", http.StatusBadRequest)
		return
	}

	if versionID != "" && res.seen[versionID] {
		frontier := res.effectiveFrontier()
		res.mu.Unlock()
		setEscapedHeader(w.Header(), wire.HeaderVersion, wire.FormatVersionHeader(frontier))
		w.WriteHeader(http.StatusOK)
		return
	}

	var rebased []merge.Patch
	var hadRange bool
	// A PUT without Content-Range/Patches headers is a whole-document
	// snapshot write, not an incremental edit: route it through Initialize
	// regardless of whether this resource already has content, matching
	// Braid's "PUT replaces" semantics (the ranged ApplyPatch path is only
	// for genuine partial patches).
	wholeBodyReplace := len(patches) == 1 && patches[0].Range == ""

	if wholeBodyReplace {
		result := res.mt.Initialize(string(patches[0].Content))
		if result.Err != nil {
			res.mu.Unlock()
			http.Error(w, result.Err.Error(), http.StatusBadRequest)
			return
		}
		rebased = append(rebased, result.Rebased...)
	} else {
		for _, p := range patches {
			if p.Range != "" {
				hadRange = true
			}
			mp := merge.Patch{Range: p.Range, Content: string(p.Content), Version: versionID, Parents: parents}
			result := res.mt.ApplyPatch(mp)
			if result.Err != nil {
				res.mu.Unlock()
				http.Error(w, result.Err.Error(), http.StatusBadRequest)
				return
			}
			rebased = append(rebased, result.Rebased...)
		}
	}

	if versionID != "" {
		res.seen[versionID] = true
		res.externalVersion = []string{versionID}
	}
	res.lastSync = time.Now()

	broadcastUpdate := wire.Update{
		Versions:  res.effectiveFrontier(),
		Parents:   parents,
		MergeType: res.mtName,
	}
	if len(rebased) > 0 {
		for _, rp := range rebased {
			broadcastUpdate.Patches = append(broadcastUpdate.Patches, wire.Patch{Range: rp.Range, Content: []byte(rp.Content)})
		}
	} else {
		for _, p := range patches {
			broadcastUpdate.Patches = append(broadcastUpdate.Patches, p)
		}
	}
	frontier := res.effectiveFrontier()
	// Broadcast (and, for antimatter resources, start the ackme round
	// proposing this frontier as the next acked boundary) while still
	// holding res.mu: spec.md §5 requires broadcasts to be sent with the
	// lock held so concurrent PUTs' subscribers never observe updates out
	// of application order.
	res.broadcast(broadcastUpdate)
	res.startAckRound(frontier)
	res.mu.Unlock()

	setEscapedHeader(w.Header(), wire.HeaderVersion, wire.FormatVersionHeader(frontier))
	if hadRange {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// decodePatches extracts one or more wire.Patch values from a PUT request:
// a `Patches: N` body, a single Content-Range-addressed patch, or (absent
// both) a whole-body replacement.
func decodePatches(r *http.Request, body []byte) ([]wire.Patch, error) {
	// "Patches: 0" is treated like an absent Patches header (spec.md §9): the
	// body is a plain snapshot, not a zero-length multi-patch block. Routing
	// it into decodeMultiPatchBody would silently drop the body, since the
	// synthetic message it builds carries no Content-Length for a parser that
	// (correctly) no longer treats a zero count as patch-mode.
	if n := r.Header.Get(wire.HeaderPatches); n != "" {
		if count, err := strconv.Atoi(n); err == nil && count > 0 {
			return decodeMultiPatchBody(r.Header.Get(wire.HeaderVersion), r.Header.Get(wire.HeaderParents), n, body)
		}
	}
	if cr := r.Header.Get(wire.HeaderContentRange); cr != "" {
		unit, rng, err := wire.ParseContentRange(cr)
		if err != nil {
			return nil, err
		}
		return []wire.Patch{{Unit: wire.Unit(unit), Range: rng, Content: body}}, nil
	}
	return []wire.Patch{{Content: body}}, nil
}
