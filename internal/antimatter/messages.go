package antimatter

// MessageType discriminates the peer-to-peer Antimatter protocol messages
// layered above Braid-HTTP (spec.md §4.3 "message types handled").
type MessageType string

const (
	MessageSubscribe   MessageType = "subscribe"
	MessageUpdate      MessageType = "update"
	MessageAck         MessageType = "ack"
	MessageFissure     MessageType = "fissure"
	MessageWelcome     MessageType = "welcome"
	MessageAckme       MessageType = "ackme"
	MessageUnsubscribe MessageType = "unsubscribe"
)

// AckScope distinguishes a per-connection ack from a global (all-peers)
// acked-boundary proposal.
type AckScope string

const (
	AckLocal  AckScope = "local"
	AckGlobal AckScope = "global"
)

// Message is the closed sum type of the peer-to-peer protocol, carried as
// JSON with a "type" discriminant (mirroring the Rust `#[serde(tag =
// "type")]` enum in antimatter/messages.rs, supplemented per SPEC_FULL.md).
// Every variant carries a Conn identifier so a peer can distinguish
// multiple parallel links to the same remote.
type Message struct {
	Type MessageType `json:"type"`
	Conn string      `json:"conn"`

	// Subscribe
	Peer            string          `json:"peer,omitempty"`
	Parents         map[string]bool `json:"parents,omitempty"`
	ProtocolVersion int             `json:"protocolVersion,omitempty"`

	// Update
	Version string  `json:"version,omitempty"`
	Patches []Patch `json:"patches,omitempty"`
	Ackme   bool    `json:"ackme,omitempty"`

	// Ack
	Seen     AckScope        `json:"seen,omitempty"`
	Versions map[string]bool `json:"versions,omitempty"`
	Unsub    bool            `json:"unsubscribe,omitempty"`

	// Fissure
	FissureRec  *Fissure  `json:"fissure,omitempty"`
	FissureRecs []Fissure `json:"fissures,omitempty"`

	// Ackme: Versions carries the proposed candidate boundary; Count is how
	// many peer connections must Ack it before it is promoted.
	Count int `json:"count,omitempty"`

	// Welcome additionally reuses Versions, FissureRecs, Parents, Peer.
}

// HandleMessage dispatches one peer-to-peer antimatter message against c's
// state, the switch SPEC_FULL.md's connection-handler wiring describes.
// Every transport that exchanges antimatter.Message values funnels through
// this single switch rather than mutating CRDT state directly — the
// in-process subscriber-ack tally braidserver.Resource drives for each HTTP
// subscription connection included, each HTTP subscriber doubling as one
// antimatter "conn".
func (c *CRDT[T]) HandleMessage(msg Message, now uint64) {
	switch msg.Type {
	case MessageFissure:
		if msg.FissureRec != nil {
			c.AddFissure(*msg.FissureRec)
		}
		for _, f := range msg.FissureRecs {
			c.AddFissure(f)
		}

	case MessageAckme:
		c.StartAckmeRound(FrontierKey(msg.Versions), msg.Versions, msg.Count, 0, now)

	case MessageAck:
		switch msg.Seen {
		case AckGlobal:
			c.AckRound(FrontierKey(msg.Versions), msg.Conn, now)
		case AckLocal:
			c.touchConn(msg.Conn)
		}
		if msg.Unsub {
			delete(c.Rounds, FrontierKey(msg.Versions))
		}

	case MessageUnsubscribe:
		delete(c.Rounds, msg.Conn)
		delete(c.Conns, msg.Conn)

	case MessageSubscribe, MessageUpdate, MessageWelcome:
		// The version/parent/patch data these variants carry is already
		// applied through the Braid-HTTP layer's own
		// ApplyPatch/Initialize; at this layer they only correlate a conn
		// ID with the DAG, so they are deliberately no-ops here.
	}
}

// touchConn records that conn id has been observed, bumping its sequence
// counter so stale/duplicate messages on the same link can be detected.
func (c *CRDT[T]) touchConn(id string) {
	cs, ok := c.Conns[id]
	if !ok {
		cs = &ConnectionState{Peer: id}
		c.Conns[id] = cs
	}
	cs.Seq++
}
