package merge

import (
	"fmt"
	"sort"

	"github.com/braidfs/braidfs/internal/antimatter"
)

// diamondInner adapts Diamond to antimatter.PrunableCrdt so that an
// AntimatterMergeType can wrap it with the version graph and pruning
// machinery of §4.3, per spec.md §4.4's "antimatter: wraps diamond (or any
// inner CRDT) with the version graph and pruning of §4.3". Diamond's own
// ApplyPatch (merge.Patch) is kept reachable through the embedded field so
// local edits can still go through the same text-operation parsing.
type diamondInner struct {
	*Diamond
}

// ApplyPatch satisfies antimatter.PrunableCrdt; it shadows the embedded
// Diamond.ApplyPatch (different signature, merge-level vs DAG-level Patch).
func (d *diamondInner) ApplyPatch(p antimatter.Patch) {
	d.Diamond.ApplyPatch(Patch{Range: p.Range, Content: string(p.Content)})
}

// Prune is a no-op: Diamond keeps no version-keyed state beyond tombstoned
// characters, so there is nothing here that a DAG collapse needs to forget.
// The antimatter wrapper owns all of the metadata being pruned.
func (d *diamondInner) Prune(version string) {}

func (d *diamondInner) NextSeq() uint64 {
	d.Diamond.seq++
	return d.Diamond.seq
}

// GenerateBraid brings a peer missing any version up to date. Diamond
// materialises a single linear document rather than a replayable operation
// log, so the catch-up is a snapshot-style whole-content patch rather than
// a replay of individual inserts/deletes.
func (d *diamondInner) GenerateBraid(knownVersions map[string]bool) []antimatter.BraidUpdate {
	version := firstOrEmpty(d.Diamond.Frontier())
	if knownVersions[version] {
		return nil
	}
	return []antimatter.BraidUpdate{{
		Version: version,
		Patches: []antimatter.Patch{{Unit: "text", Range: "[0:]", Content: []byte(d.Diamond.Content())}},
	}}
}

// AntimatterMergeType implements MergeType by layering the antimatter CRDT
// (version DAG, fissure tracking, pruning) over a Diamond text engine, per
// spec.md §4.4's built-in "antimatter" merge type.
type AntimatterMergeType struct {
	peerID string
	crdt   *antimatter.CRDT[*diamondInner]
	seq    int64
}

// NewAntimatterMergeType builds a fresh instance scoped to peerID.
func NewAntimatterMergeType(peerID string) *AntimatterMergeType {
	inner := &diamondInner{Diamond: NewDiamond(peerID)}
	return &AntimatterMergeType{peerID: peerID, crdt: antimatter.New(peerID, inner), seq: -1}
}

func (a *AntimatterMergeType) Name() string { return "antimatter" }

func (a *AntimatterMergeType) nextVersion() string {
	a.seq++
	return fmt.Sprintf("%s-%d", a.peerID, a.seq)
}

func (a *AntimatterMergeType) Initialize(content string) Result {
	a.crdt.Inner.Diamond.Initialize(content)
	version := a.nextVersion()
	a.crdt.AddVersion(version, map[string]bool{})
	return success(version)
}

func (a *AntimatterMergeType) ApplyPatch(patch Patch) Result {
	parents := map[string]bool{}
	for _, p := range patch.Parents {
		parents[p] = true
	}
	if len(parents) == 0 {
		for v := range a.crdt.CurrentVersion {
			parents[v] = true
		}
	}
	a.crdt.Inner.ApplyPatch(antimatter.Patch{Unit: "text", Range: patch.Range, Content: []byte(patch.Content)})
	version := patch.Version
	if version == "" {
		version = a.nextVersion()
	}
	a.crdt.AddVersion(version, parents)
	return success(version)
}

func (a *AntimatterMergeType) LocalEdit(patch Patch) Result {
	parents := map[string]bool{}
	for v := range a.crdt.CurrentVersion {
		parents[v] = true
	}
	a.crdt.Inner.ApplyPatch(antimatter.Patch{Unit: "text", Range: patch.Range, Content: []byte(patch.Content)})
	version := a.nextVersion()
	a.crdt.AddVersion(version, parents)

	out := patch
	out.Version = version
	out.Parents = sortedKeys(parents)
	return success(version, out)
}

func (a *AntimatterMergeType) Content() string { return a.crdt.Inner.Diamond.Content() }

func (a *AntimatterMergeType) Frontier() []string {
	out := make([]string, 0, len(a.crdt.CurrentVersion))
	for v := range a.crdt.CurrentVersion {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Prune runs the antimatter pruning algorithm; callers drive AckedBoundary
// and Fissures through the CRDT field before calling this. braidserver's
// Resource does so for every antimatter-backed resource: it starts an
// ackme round (CRDT.StartAckmeRound) when a PUT advances the frontier, and
// closes it (CRDT.AckRound, via HandleMessage) as each live subscriber's
// connection acks having received that frontier, calling Prune once the
// round promotes AckedBoundary.
func (a *AntimatterMergeType) Prune() bool { return a.crdt.Prune() }

func (a *AntimatterMergeType) SupportsPruning() bool { return true }

// CRDT exposes the underlying antimatter state so the server/client layers
// can record fissures and advance the acked boundary, operations spec.md
// §4.3 defines on the CRDT itself rather than through the MergeType
// capability set.
func (a *AntimatterMergeType) CRDT() *antimatter.CRDT[*diamondInner] { return a.crdt }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
