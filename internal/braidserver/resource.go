package braidserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/braidfs/braidfs/internal/antimatter"
	"github.com/braidfs/braidfs/internal/merge"
	"github.com/braidfs/braidfs/internal/wire"
	"github.com/google/uuid"
)

// subscriberBuffer bounds how far a slow subscriber can lag before updates
// are dropped for it; a full buffer means the connection is unhealthy
// rather than the server, so braidserver favors progress for everyone else.
const subscriberBuffer = 64

// Resource is the per-URL state of spec.md §4.6's ResourceState: the merge
// instance, the merge-type name it was created with, the set of version IDs
// already applied (for PUT idempotency), and the live subscriber set.
type Resource struct {
	mu       sync.Mutex
	url      string
	mt       merge.MergeType
	mtName   string
	seen     map[string]bool
	lastSync time.Time
	subs     map[string]chan wire.Update

	// externalVersion is the most recent Version header a PUT supplied,
	// kept as a fallback frontier for merge types whose Initialize (unlike
	// ApplyPatch) takes no version parameter of its own (simpleton's first
	// write, notably). The merge type's self-reported Frontier always wins
	// when non-empty, since CRDTs like diamond/antimatter mint their own
	// version IDs that must be used as-is.
	externalVersion []string

	// ackedFrontier tracks, for an antimatter-backed resource, the last
	// frontier each live subscriber connection has acked having received.
	// It backs the subscriber-ack tally that drives ackme rounds (see
	// recordSubscriberAck): each HTTP subscription doubles as one
	// antimatter "conn".
	ackedFrontier map[string][]string
}

func newResource(url, mtName string, mt merge.MergeType) *Resource {
	return &Resource{
		url:    url,
		mt:     mt,
		mtName: mtName,
		seen:   map[string]bool{},
		subs:   map[string]chan wire.Update{},
	}
}

// effectiveFrontier returns the merge type's own frontier, or (if that's
// currently empty) the last externally supplied version. Caller must hold
// r.mu.
func (r *Resource) effectiveFrontier() []string {
	if f := r.mt.Frontier(); len(f) > 0 {
		return f
	}
	return r.externalVersion
}

// Frontier returns the current version frontier.
func (r *Resource) Frontier() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveFrontier()
}

// Snapshot returns the current full content and frontier together, under
// one lock so they describe the same instant.
func (r *Resource) Snapshot() (content string, frontier []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mt.Content(), r.effectiveFrontier()
}

// subscribe registers a new subscriber channel and returns its ID (for
// later unsubscribe) and the channel to receive on. Must be called with
// r.mu held, so the caller can read a consistent snapshot in the same
// critical section (no update can be missed between snapshot and
// registration).
func (r *Resource) subscribe() (string, <-chan wire.Update) {
	id := uuid.NewString()
	ch := make(chan wire.Update, subscriberBuffer)
	r.subs[id] = ch
	return id, ch
}

func (r *Resource) unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
	delete(r.ackedFrontier, id)
}

// broadcast fans u out to every current subscriber. Callers must already
// hold r.mu: spec.md §5's ResourceState rule is "broadcasts are sent with
// the lock held to preserve ordering," so the send happens inside the same
// critical section as the patch apply that produced u rather than after
// releasing it — two concurrent PUTs can never have their broadcasts
// observed out of application order. Each send is non-blocking (a
// subscriber whose buffer is full has its update dropped; it will still
// receive the next one, and a resubscribe always starts from the
// then-current frontier), so this never stalls the critical section on a
// slow reader.
func (r *Resource) broadcast(u wire.Update) {
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// startAckRound begins (or, with no live subscribers, immediately closes)
// an ackme round proposing frontier as the next global acked boundary for
// an antimatter-backed resource. Must be called with r.mu held, from the
// same critical section that just advanced the frontier, so the
// subscriber count it waits on is exactly the set of peers who have not
// yet seen this write. The round is keyed by antimatter.FrontierKey(boundary)
// so that recordSubscriberAck's later Ack messages for the same frontier
// resolve to the same round without the resource handing out round IDs.
func (r *Resource) startAckRound(frontier []string) {
	am, ok := r.mt.(*merge.AntimatterMergeType)
	if !ok || len(frontier) == 0 {
		return
	}
	boundary := map[string]bool{}
	for _, v := range frontier {
		boundary[v] = true
	}
	am.CRDT().HandleMessage(antimatter.Message{
		Type:     antimatter.MessageAckme,
		Versions: boundary,
		Count:    len(r.subs),
	}, uint64(time.Now().Unix()))
}

// recordSubscriberAck processes one subscriber connection's acknowledgement
// of having received (and flushed to its client) the given frontier. Once
// every currently live subscriber has acked the same frontier, the ackme
// round started by the PUT that produced it (see startAckRound) promotes
// AckedBoundary, and pruning is attempted.
func (r *Resource) recordSubscriberAck(subID string, frontier []string) {
	am, ok := r.mt.(*merge.AntimatterMergeType)
	if !ok || len(frontier) == 0 {
		return
	}
	boundary := map[string]bool{}
	for _, v := range frontier {
		boundary[v] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ackedFrontier == nil {
		r.ackedFrontier = map[string][]string{}
	}
	r.ackedFrontier[subID] = frontier

	am.CRDT().HandleMessage(antimatter.Message{
		Type:     antimatter.MessageAck,
		Conn:     subID,
		Seen:     antimatter.AckGlobal,
		Versions: boundary,
	}, uint64(time.Now().Unix()))

	am.Prune()
}

// Registry maps a resource URL path to its Resource, creating one lazily
// on first access. It mirrors spec.md §4.6's "registry maps URL ->
// Arc<Mutex<ResourceState>>".
type Registry struct {
	mu               sync.Mutex
	resources        map[string]*Resource
	merges           *merge.Registry
	defaultMergeType string
}

// NewRegistry builds an empty Registry using merges to create new
// per-resource merge-type instances, defaulting new resources to
// defaultMergeType when a PUT doesn't specify one.
func NewRegistry(merges *merge.Registry, defaultMergeType string) *Registry {
	return &Registry{
		resources:        map[string]*Resource{},
		merges:           merges,
		defaultMergeType: defaultMergeType,
	}
}

// ErrUnknownMergeType is returned when a PUT names a Merge-Type that no
// factory is registered for.
type ErrUnknownMergeType struct{ Name string }

func (e *ErrUnknownMergeType) Error() string {
	return fmt.Sprintf("braidserver: unknown merge type %q", e.Name)
}

// Get returns the Resource for url, creating it with the registry's
// default merge type if it doesn't exist yet (used by GET, which never
// specifies a Merge-Type of its own).
func (reg *Registry) Get(url string) (*Resource, error) {
	return reg.GetOrCreate(url, "")
}

// GetOrCreate returns the Resource for url, creating it with mtName (or
// the registry default, if mtName is empty) if it doesn't exist yet.
func (reg *Registry) GetOrCreate(url, mtName string) (*Resource, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if res, ok := reg.resources[url]; ok {
		return res, nil
	}
	if mtName == "" {
		mtName = reg.defaultMergeType
	}
	instance, ok := reg.merges.Create(mtName, url)
	if !ok {
		return nil, &ErrUnknownMergeType{Name: mtName}
	}
	res := newResource(url, mtName, instance)
	reg.resources[url] = res
	return res, nil
}
