// Package merge implements the pluggable per-resource merge-type registry:
// a process-wide mapping from a Merge-Type header value to a factory that
// builds a fresh merge instance for a given peer, plus the built-in
// "simpleton", "diamond", "antimatter" and "json" implementations.
package merge

import (
	"fmt"
	"sync"
)

// Patch is a single merge-level change: a range/path specifier plus
// replacement content, optionally tagged with the version that produced it
// and the versions it depended on. It is deliberately independent of
// wire.Patch (transport framing) and antimatter.Patch (DAG bookkeeping) so
// that a merge type never needs to know how its patches travel the wire.
type Patch struct {
	Range   string
	Content string
	Version string
	Parents []string
}

// Result reports the outcome of applying a patch: whether it succeeded, the
// version it produced (if any), and any further patches that must be
// rebroadcast to other subscribers because of the merge (e.g. a rebased
// concurrent edit).
type Result struct {
	Success bool
	Version string
	Rebased []Patch
	Err     error
}

func success(version string, rebased ...Patch) Result {
	return Result{Success: true, Version: version, Rebased: rebased}
}

func failure(err error) Result {
	return Result{Success: false, Err: err}
}

// MergeType is implemented by every pluggable merge algorithm. A resource
// picks one by name via its Merge-Type header; the registry builds a fresh,
// per-resource instance from the matching factory.
type MergeType interface {
	Name() string
	Initialize(content string) Result
	ApplyPatch(patch Patch) Result
	LocalEdit(patch Patch) Result
	Content() string
	Frontier() []string
	Prune() bool
	SupportsPruning() bool
}

// Registry is a process-wide, concurrency-safe mapping from merge-type name
// to a factory that builds an instance scoped to one peer.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(peerID string) MergeType
}

// NewRegistry builds a registry pre-populated with the built-in merge
// types, mirroring MergeTypeRegistry::new's defaults.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]func(peerID string) MergeType{}}
	r.Register("simpleton", func(peerID string) MergeType { return NewSimpleton(peerID) })
	r.Register("diamond", func(peerID string) MergeType { return NewDiamond(peerID) })
	r.Register("antimatter", func(peerID string) MergeType { return NewAntimatterMergeType(peerID) })
	r.Register("json", func(peerID string) MergeType { return NewJSONDoc(peerID) })
	return r
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, factory func(peerID string) MergeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a new instance of the named merge type for peerID. The
// second return value is false if name isn't registered.
func (r *Registry) Create(name, peerID string) (MergeType, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(peerID), true
}

// List returns the names of every registered merge type.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// MismatchError is returned when a PUT's Merge-Type header disagrees with a
// resource's already-established merge type.
type MismatchError struct {
	Have, Want string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("merge-type mismatch: %s vs %s", e.Have, e.Want)
}
