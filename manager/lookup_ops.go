package manager

import (
	"context"

	"github.com/axelb/pire/lookup"
	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/rpcclient"
	"github.com/axelb/pire/routing"
	"github.com/axelb/pire/wire"
)

// pickInitialPeer returns the known peer closest to target, the entry
// point every lookup-based operation converges from.
func (m *Manager) pickInitialPeer(target uint32) (wire.Peer, bool) {
	peers := m.dht.GetClosestPeersFrom(target, 1)
	if len(peers) == 0 {
		return wire.Peer{}, false
	}
	p := peers[0]
	return wire.Peer{ID: p.ID(), Addr: p.Addr().String()}, true
}

func toWirePeers(peers []peerid.PeerNode) []wire.Peer {
	out := make([]wire.Peer, len(peers))
	for i, p := range peers {
		out[i] = wire.Peer{ID: p.ID(), Addr: p.Addr().String()}
	}
	return out
}

// converge runs the iterative lookup toward target, starting from the
// closest peer we already know (if any), so that subsequent RPCs to
// GetClosestPeersFrom(target, ...) see whatever the lookup discovered.
func (m *Manager) converge(ctx context.Context, target uint32) {
	initial, ok := m.pickInitialPeer(target)
	if !ok {
		return
	}
	query := lookup.NewQueryFunc(m.dht, m.timeouts())
	found := lookup.FindClosestNode(ctx, query, initial, m.ownID, target, m.config.MaxHop)
	if m.config.MaxHop != nil && found != nil {
		m.dht.AddNode(peerid.NewPeerNode(found.ID, peerid.TextAddr(found.Addr)))
	}
}

// FindValue returns the value stored under key, checking locally first
// and otherwise converging on the peers closest to key and asking each
// in turn.
func (m *Manager) FindValue(ctx context.Context, key uint32) (string, bool, error) {
	if v, ok := m.dht.GetValue(key); ok {
		return v, true, nil
	}

	m.converge(ctx, key)

	for _, c := range m.dht.GetClosestPeersFrom(key, routing.BucketSize) {
		value, ok, err := rpcclient.FindValue(c.Addr().String(), m.timeouts(), m.selfPeer(), key)
		if err != nil {
			continue
		}
		if ok {
			return value, true, nil
		}
	}
	return "", false, nil
}

// Announce records that this peer owns the file identified by crc,
// converges on the peers closest to crc, and tells each of them.
func (m *Manager) Announce(ctx context.Context, crc uint32) error {
	m.dht.StoreFilePeer(crc, peerid.NewPeerNode(m.ownID, peerid.TextAddr(m.Addr())))

	m.converge(ctx, crc)

	var firstErr error
	for _, c := range m.dht.GetClosestPeersFrom(crc, routing.BucketSize) {
		if c.ID() == m.ownID {
			continue
		}
		if err := rpcclient.Announce(c.Addr().String(), m.timeouts(), m.selfPeer(), crc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetPeers returns every peer known to own the file identified by crc,
// checking locally first and otherwise converging on the peers closest
// to crc and merging what each reports.
func (m *Manager) GetPeers(ctx context.Context, crc uint32) ([]wire.Peer, error) {
	if local := m.dht.GetFilePeers(crc); len(local) > 0 {
		return toWirePeers(local), nil
	}

	m.converge(ctx, crc)

	seen := make(map[uint32]wire.Peer)
	for _, c := range m.dht.GetClosestPeersFrom(crc, routing.BucketSize) {
		peers, ok, err := rpcclient.GetPeers(c.Addr().String(), m.timeouts(), crc)
		if err != nil || !ok {
			continue
		}
		for _, p := range peers {
			seen[p.ID] = p
		}
	}
	out := make([]wire.Peer, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out, nil
}
