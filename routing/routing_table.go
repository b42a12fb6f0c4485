package routing

import (
	"sort"
	"sync"

	"github.com/axelb/pire/peerid"
)

// RecentCacheSize bounds the auxiliary recent-peers LRU: a safety net for
// peer discovery on small networks where the buckets near the owner fill
// up early.
const RecentCacheSize = 100

// Alpha (α) is the lookup engine's fan-out, declared here alongside
// BucketSize. The lookup engine declares and uses its own copy to keep
// packages independent.
const Alpha = 3

// Table owns one bucket tree plus the recent-peers cache, and maintains
// the XOR-remap that places its owner at id 0.
type Table struct {
	mu sync.Mutex

	ownerID uint32
	tree    *bucketTree

	recentCacheEnabled bool
	recent             []peerid.PeerNode // front = most recently rejected
}

// New builds a routing table maintaining knowledge of peers near
// ownerID. The recent-peers cache is enabled by default, per spec.
func New(ownerID uint32) *Table {
	return &Table{
		ownerID:            ownerID,
		tree:               newBucketTree(),
		recentCacheEnabled: true,
	}
}

// SetRecentCacheEnabled toggles the auxiliary LRU cache. Exposed mainly
// for tests exercising both configurations.
func (t *Table) SetRecentCacheEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recentCacheEnabled = enabled
}

func (t *Table) remap(id uint32) uint32 {
	return peerid.Distance(id, t.ownerID)
}

// AddNode inserts peer into the table, XOR-remapped by the owner's id. If
// the bucket tree rejects it and the recent-peers cache is enabled, the
// peer (in its original, unmapped form) is pushed to the front of that
// cache instead.
func (t *Table) AddNode(peer peerid.PeerNode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remapped := peer
	remapped.SetID(t.remap(peer.ID()))

	if t.tree.add(remapped) == rejected {
		if t.recentCacheEnabled {
			t.pushRecent(peer)
		}
	}
}

// pushRecent removes any existing entry with the same id, pushes peer to
// the front, then trims to RecentCacheSize. Caller must hold t.mu.
func (t *Table) pushRecent(peer peerid.PeerNode) {
	filtered := t.recent[:0:0]
	for _, p := range t.recent {
		if p.ID() != peer.ID() {
			filtered = append(filtered, p)
		}
	}
	t.recent = append([]peerid.PeerNode{peer}, filtered...)
	if len(t.recent) > RecentCacheSize {
		t.recent = t.recent[:RecentCacheSize]
	}
}

// GetAllPeers returns the union of the bucket-tree peers (unmapped back
// to their real ids) and the recent-peers cache (already stored unmapped).
func (t *Table) GetAllPeers() []peerid.PeerNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getAllPeersLocked()
}

func (t *Table) getAllPeersLocked() []peerid.PeerNode {
	return append(t.treePeersLocked(), t.recent...)
}

func (t *Table) treePeersLocked() []peerid.PeerNode {
	peers := t.tree.allPeers()
	unmapped := make([]peerid.PeerNode, len(peers))
	for i, p := range peers {
		p.SetID(t.remap(p.ID()))
		unmapped[i] = p
	}
	return unmapped
}

// TreePeers returns only the bucket-tree peers (unmapped), excluding the
// recent-peers cache. Used when serializing a snapshot, which persists
// the two lists separately.
func (t *Table) TreePeers() []peerid.PeerNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.treePeersLocked()
}

// RecentPeers returns the recent-peers cache contents, front (most
// recently rejected) first.
func (t *Table) RecentPeers() []peerid.PeerNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]peerid.PeerNode(nil), t.recent...)
}

// RestoreRecent merges a persisted recent-peers list back into the cache,
// preserving its front-to-back order, for snapshot loading.
func (t *Table) RestoreRecent(peers []peerid.PeerNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(peers) - 1; i >= 0; i-- {
		t.pushRecent(peers[i])
	}
}

// GetClosestPeersFrom returns up to n known peers closest to target by
// XOR distance, sorted by increasing distance.
func (t *Table) GetClosestPeersFrom(target uint32, n int) []peerid.PeerNode {
	t.mu.Lock()
	peers := t.getAllPeersLocked()
	t.mu.Unlock()

	sort.SliceStable(peers, func(i, j int) bool {
		return peerid.Distance(peers[i].ID(), target) < peerid.Distance(peers[j].ID(), target)
	})
	if len(peers) > n {
		peers = peers[:n]
	}
	return peers
}

// PeerWasRequested records that we just sent a request to the peer with
// the given real id, for freshness/status tracking.
func (t *Table) PeerWasRequested(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tree.markRequested(t.remap(id)) {
		return
	}
	for i := range t.recent {
		if t.recent[i].ID() == id {
			t.recent[i].MarkRequested()
			return
		}
	}
}

// PeerHasResponded records that the peer with the given real id just
// answered us.
func (t *Table) PeerHasResponded(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tree.markResponded(t.remap(id)) {
		return
	}
	for i := range t.recent {
		if t.recent[i].ID() == id {
			t.recent[i].MarkResponded()
			return
		}
	}
}

// OwnerID returns the identifier this table is centered on.
func (t *Table) OwnerID() uint32 { return t.ownerID }
