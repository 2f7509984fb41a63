// Package antimatter implements the causal-version DAG and pruning
// algorithm described in spec.md §4.2-4.3: version frontiers, fissures,
// acked boundaries, bubble identification, and safe history compression.
package antimatter

import "fmt"

// PrunableCrdt is the pluggable data engine an Antimatter CRDT wraps. It
// owns the actual content; Antimatter owns only the version graph and
// pruning metadata.
type PrunableCrdt interface {
	// ApplyPatch merges a patch into the inner CRDT's content.
	ApplyPatch(patch Patch)
	// Prune notifies the inner CRDT that a version's metadata is being
	// collapsed into a bubble and may be forgotten.
	Prune(version string)
	// NextSeq returns a monotonic sequence counter, used to mint new
	// version IDs.
	NextSeq() uint64
	// GenerateBraid returns the updates needed to bring a peer who already
	// has knownVersions up to the inner CRDT's current state.
	GenerateBraid(knownVersions map[string]bool) []BraidUpdate
}

// Patch mirrors wire.Patch without importing the wire package, so that the
// antimatter package has no dependency on the transport layer (spec.md's
// design note: the engine is decoupled from its transport).
type Patch struct {
	Unit    string
	Range   string
	Content []byte
}

// BraidUpdate is one (version, parents, patches) tuple returned by
// GenerateBraid.
type BraidUpdate struct {
	Version string
	Parents map[string]bool
	Patches []Patch
}

// Fissure records that peer A observed peer B disconnect while B held a set
// of versions. Fissures are symmetric: matched pairs (a,b) and (b,a) over
// the same connection become eligible for removal by Prune.
type Fissure struct {
	A        string
	B        string
	Conn     string
	Versions map[string]bool
	Time     uint64
}

// Key is the map key under which a Fissure is stored in CRDT.Fissures:
// "a:b:conn". Its mirror is the fissure with A and B swapped.
func (f Fissure) Key() string { return fmt.Sprintf("%s:%s:%s", f.A, f.B, f.Conn) }

func (f Fissure) mirrorKey() string { return fmt.Sprintf("%s:%s:%s", f.B, f.A, f.Conn) }

// ConnectionState tracks a single peer connection's last observed sequence
// number, used to detect stale/duplicate Update messages on that link.
type ConnectionState struct {
	Peer string
	Seq  uint64
}

// ParentSet is the set of immediate parents of a version, plus whether the
// bubble-discovery walk has fully resolved ("done") all of them.
type ParentSet struct {
	Members map[string]bool
	Done    bool
}

// ChildSet is the set of immediate children of a version.
type ChildSet struct {
	Members map[string]bool
}

// CRDT is the Antimatter engine state for one resource: the version DAG
// `t`, the current frontier, the acked boundary, outstanding fissures, and
// the collapsed-version-group index, layered over an inner PrunableCrdt
// that owns the actual content.
type CRDT[T PrunableCrdt] struct {
	ID string

	// T maps version -> set of parent versions. The DAG.
	T map[string]map[string]bool

	// CurrentVersion is the frontier: versions with no children.
	CurrentVersion map[string]bool

	// AckedBoundary is the most recent frontier known received by every
	// live peer. Ancestors of it are eligible for pruning.
	AckedBoundary map[string]bool

	// Fissures maps Fissure.Key() -> Fissure.
	Fissures map[string]Fissure

	// VersionGroups maps a surviving representative version to the list of
	// versions collapsed into it by a prune pass.
	VersionGroups map[string][]string

	// Rounds maps an in-flight ackme round's key to its state (§4.3's
	// multi-peer handshake for promoting AckedBoundary, SPEC_FULL.md's
	// supplemented ackme protocol).
	Rounds map[string]*AckmeState

	// Conns tracks per-connection sequence state for the peer-to-peer
	// message protocol's "local" acks (HandleMessage's MessageAck/AckLocal
	// case).
	Conns map[string]*ConnectionState

	Inner T
}

// New creates an empty CRDT state around the given inner engine.
func New[T PrunableCrdt](id string, inner T) *CRDT[T] {
	return &CRDT[T]{
		ID:             id,
		T:              map[string]map[string]bool{},
		CurrentVersion: map[string]bool{},
		AckedBoundary:  map[string]bool{},
		Fissures:       map[string]Fissure{},
		VersionGroups:  map[string][]string{},
		Rounds:         map[string]*AckmeState{},
		Conns:          map[string]*ConnectionState{},
		Inner:          inner,
	}
}

// AddFissure records a disconnect observation.
func (c *CRDT[T]) AddFissure(f Fissure) { c.Fissures[f.Key()] = f }
