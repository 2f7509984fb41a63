package antimatter

// AckmeState tracks one in-flight "ackme" round: a peer's proposal of a
// candidate global acked boundary, collected from Count other peers within
// a timeout before it is safe to promote AckedBoundary. This supplements
// spec.md's two-party Ack{seen: local|global} with the multi-peer
// handshake described in SPEC_FULL.md's supplemented features, grounded on
// the original's antimatter/state.rs AckmeState.
type AckmeState struct {
	ID    string
	Origin string // connection ID that proposed this round, "" if local
	Count int
	// Versions maps peer/connection ID -> whether that peer has
	// acknowledged the proposed boundary.
	Versions map[string]bool

	// Boundary is the candidate acked boundary this round is proposing,
	// promoted to CRDT.AckedBoundary once every expected peer has acked.
	Boundary map[string]bool

	Seq  uint64
	Time uint64
	// Time2 records when the round was closed (acked or cancelled), nil
	// while still open.
	Time2 *uint64

	OrigCount int
	RealAckme bool
	Key       string
	Cancelled bool
}

// NewAckmeRound starts a round proposing boundary as the next acked
// boundary, expecting acknowledgement from `count` peers.
func NewAckmeRound(id, key string, boundary map[string]bool, count int, seq, time uint64) *AckmeState {
	frozen := make(map[string]bool, len(boundary))
	for v := range boundary {
		frozen[v] = true
	}
	return &AckmeState{
		ID:        id,
		Key:       key,
		Count:     count,
		OrigCount: count,
		Versions:  map[string]bool{},
		Boundary:  frozen,
		Seq:       seq,
		Time:      time,
		RealAckme: true,
	}
}

// Ack records one peer's acknowledgement. Done reports whether every
// expected peer has now acked (Count reached).
func (a *AckmeState) Ack(peerConn string, now uint64) (done bool) {
	if a.Cancelled {
		return false
	}
	a.Versions[peerConn] = true
	if len(a.Versions) >= a.Count {
		a.Time2 = &now
		return true
	}
	return false
}

// Cancel aborts the round, e.g. because a new write arrived mid-flight and
// made the candidate boundary stale.
func (a *AckmeState) Cancel(now uint64) {
	a.Cancelled = true
	a.Time2 = &now
}

// Promote applies a completed, uncancelled round's own candidate boundary
// to crdt. Still open (not enough acks yet) or cancelled rounds are left
// untouched.
func (c *CRDT[T]) Promote(round *AckmeState) {
	if round.Cancelled || len(round.Versions) < round.Count {
		return
	}
	c.AckedBoundary = map[string]bool{}
	for v := range round.Boundary {
		c.AckedBoundary[v] = true
	}
}

// StartAckmeRound begins a new ackme round keyed by key, proposing boundary
// as the candidate global acked boundary and expecting acknowledgement from
// count peer connections. A round with count<=0 (no live peers to wait on)
// promotes immediately: "received by every live peer" holds vacuously.
// Grounded on SPEC_FULL.md's supplemented ackme protocol (antimatter/state.rs's
// AckmeState), this is the entry point the braidserver subscriber-ack tally
// and the peer message switch (HandleMessage) both drive.
func (c *CRDT[T]) StartAckmeRound(key string, boundary map[string]bool, count int, seq, now uint64) *AckmeState {
	round := NewAckmeRound(c.ID, key, boundary, count, seq, now)
	c.Rounds[key] = round
	if count <= 0 {
		c.Promote(round)
		delete(c.Rounds, key)
	}
	return round
}

// AckRound records peerConn's acknowledgement of the round named key. Once
// every expected peer has acked, it promotes AckedBoundary and retires the
// round. Reports whether this call closed the round.
func (c *CRDT[T]) AckRound(key, peerConn string, now uint64) bool {
	round, ok := c.Rounds[key]
	if !ok {
		return false
	}
	if round.Ack(peerConn, now) {
		c.Promote(round)
		delete(c.Rounds, key)
		return true
	}
	return false
}
