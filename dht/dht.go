// Package dht is a thin stateful facade over the routing table, adding
// the two flat stores (kv_store, files_store) that make it a distributed
// hash table rather than just a peer directory.
package dht

import (
	"sync"

	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/routing"
)

// DistributedHashTable combines a routing table with a key/value store
// and a file-ownership store.
type DistributedHashTable struct {
	mu sync.Mutex

	table *routing.Table

	kv    map[uint32]string
	files map[uint32]map[uint32]peerid.PeerNode // crc -> peer id -> peer
}

// New builds an empty DHT centered on ownerID.
func New(ownerID uint32) *DistributedHashTable {
	return &DistributedHashTable{
		table: routing.New(ownerID),
		kv:    make(map[uint32]string),
		files: make(map[uint32]map[uint32]peerid.PeerNode),
	}
}

// OwnerID returns the identifier this DHT is centered on.
func (d *DistributedHashTable) OwnerID() uint32 { return d.table.OwnerID() }

// AddNode records knowledge of peer, subject to the routing table's
// bucket-tree and recent-cache rules.
func (d *DistributedHashTable) AddNode(peer peerid.PeerNode) {
	d.table.AddNode(peer)
}

// GetClosestPeersFrom delegates to the routing table.
func (d *DistributedHashTable) GetClosestPeersFrom(target uint32, n int) []peerid.PeerNode {
	return d.table.GetClosestPeersFrom(target, n)
}

// PeerWasRequested and PeerHasResponded delegate freshness tracking to
// the routing table.
func (d *DistributedHashTable) PeerWasRequested(id uint32) { d.table.PeerWasRequested(id) }
func (d *DistributedHashTable) PeerHasResponded(id uint32) { d.table.PeerHasResponded(id) }

// SetRecentPeersCacheEnabled toggles the routing table's auxiliary LRU.
func (d *DistributedHashTable) SetRecentPeersCacheEnabled(enabled bool) {
	d.table.SetRecentCacheEnabled(enabled)
}

// FindNode is the DHT-level handler for an incoming find_node: it learns
// sender (the Kademlia piggyback rule — every inbound RPC teaches the
// recipient about one new peer) and returns up to 4 peers closest to
// target.
func (d *DistributedHashTable) FindNode(sender peerid.PeerNode, target uint32) []peerid.PeerNode {
	d.table.AddNode(sender)
	return d.table.GetClosestPeersFrom(target, routing.BucketSize)
}

// StoreValue overwrites the value for key.
func (d *DistributedHashTable) StoreValue(key uint32, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kv[key] = value
}

// GetValue returns the locally stored value for key, if any.
func (d *DistributedHashTable) GetValue(key uint32) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.kv[key]
	return v, ok
}

// StoreFilePeer records that peer advertises ownership of the file with
// the given CRC, deduplicated by peer id.
func (d *DistributedHashTable) StoreFilePeer(crc uint32, peer peerid.PeerNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.files[crc]
	if !ok {
		set = make(map[uint32]peerid.PeerNode)
		d.files[crc] = set
	}
	set[peer.ID()] = peer
}

// GetFilePeers returns every known peer advertising ownership of crc, in
// no particular order.
func (d *DistributedHashTable) GetFilePeers(crc uint32) []peerid.PeerNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.files[crc]
	if !ok {
		return nil
	}
	peers := make([]peerid.PeerNode, 0, len(set))
	for _, p := range set {
		peers = append(peers, p)
	}
	return peers
}
