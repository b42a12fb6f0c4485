package peerid

import (
	"net"
	"time"
)

// BadAfter is how long a peer can go unanswered before its status flips
// to Bad, per https://www.bittorrent.org/beps/bep_0005.html.
const BadAfter = 15 * time.Second

// Status reflects how recently a peer has answered us.
type Status int

const (
	// Unknown means we've never sent this peer a request.
	Unknown Status = iota
	// Good means the peer has answered a request at some point.
	Good
	// Questionable means we're waiting on a response, but it's not
	// overdue yet.
	Questionable
	// Bad means a request has gone unanswered for longer than BadAfter
	// with nothing received since.
	Bad
)

func (s Status) String() string {
	switch s {
	case Good:
		return "good"
	case Questionable:
		return "questionable"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// PeerNode is a peer as known by the routing table: its identifier, its
// address, and enough freshness bookkeeping to derive a Status.
type PeerNode struct {
	id   uint32
	addr net.Addr

	lastRequestAt         time.Time
	lastResponseAt        time.Time
	consecutiveUnanswered int
}

// NewPeerNode builds a freshly-known peer: no requests sent, no responses
// received yet.
func NewPeerNode(id uint32, addr net.Addr) PeerNode {
	return PeerNode{id: id, addr: addr}
}

// ID returns the peer's identifier.
func (p PeerNode) ID() uint32 { return p.id }

// SetID overwrites the peer's identifier. Used by the routing table to
// XOR-remap ids on insertion and unmap them back on read.
func (p *PeerNode) SetID(id uint32) { p.id = id }

// Addr returns the peer's network address.
func (p PeerNode) Addr() net.Addr { return p.addr }

// Status derives the peer's freshness state from its request/response
// history, per spec.
func (p PeerNode) Status() Status {
	if p.lastRequestAt.IsZero() {
		return Unknown
	}
	if p.consecutiveUnanswered > 0 && time.Since(p.lastRequestAt) > BadAfter {
		return Bad
	}
	if !p.lastResponseAt.IsZero() {
		return Good
	}
	return Questionable
}

// MarkRequested records that we just sent this peer a request.
func (p *PeerNode) MarkRequested() {
	p.lastRequestAt = time.Now()
	p.consecutiveUnanswered++
}

// MarkRequestedAt is MarkRequested with an explicit timestamp, so tests
// can simulate an aged, unanswered request without sleeping BadAfter out.
func (p *PeerNode) MarkRequestedAt(t time.Time) {
	p.lastRequestAt = t
	p.consecutiveUnanswered++
}

// MarkResponded records that this peer just answered us.
func (p *PeerNode) MarkResponded() {
	now := time.Now()
	p.lastResponseAt = now
	if p.lastRequestAt.IsZero() {
		p.lastRequestAt = now
	}
	p.consecutiveUnanswered = 0
}
