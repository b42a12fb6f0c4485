package dht

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"

	"github.com/axelb/pire/peerid"
)

// persistedPeer is a peer stripped of its transient freshness fields —
// serialized knowledge resets to Unknown on load, matching the original
// Rust PeerNode's `#[serde(skip)]` fields.
type persistedPeer struct {
	ID   uint32 `bencode:"id"`
	Addr string `bencode:"addr"`
}

// snapshot is the on-disk shape of a DHT dump: `{ id, peers[], peers_lru[],
// kv_store{}, files_store{crc -> peers[]} }`. Integer keys are stringified
// since bencode dictionaries only have string keys.
type snapshot struct {
	ID        uint32                     `bencode:"id"`
	Peers     []persistedPeer            `bencode:"peers"`
	PeersLRU  []persistedPeer            `bencode:"peers_lru"`
	KVStore   map[string]string          `bencode:"kv_store"`
	FileStore map[string][]persistedPeer `bencode:"files_store"`
}

func toPersisted(p peerid.PeerNode) persistedPeer {
	return persistedPeer{ID: p.ID(), Addr: p.Addr().String()}
}

func fromPersisted(p persistedPeer) peerid.PeerNode {
	return peerid.NewPeerNode(p.ID, peerid.TextAddr(p.Addr))
}

func toPersistedList(peers []peerid.PeerNode) []persistedPeer {
	out := make([]persistedPeer, len(peers))
	for i, p := range peers {
		out[i] = toPersisted(p)
	}
	return out
}

func fromPersistedList(peers []persistedPeer) []peerid.PeerNode {
	out := make([]peerid.PeerNode, len(peers))
	for i, p := range peers {
		out[i] = fromPersisted(p)
	}
	return out
}

// Dump writes a human-readable bencoded snapshot of the DHT to path: the
// owner id, the bucket-tree peers, the recent-peers cache, the kv store,
// and the file-ownership store.
func (d *DistributedHashTable) Dump(path string) error {
	d.mu.Lock()
	kv := make(map[string]string, len(d.kv))
	for k, v := range d.kv {
		kv[strconv.FormatUint(uint64(k), 10)] = v
	}
	files := make(map[string][]persistedPeer, len(d.files))
	for crc, set := range d.files {
		peers := make([]peerid.PeerNode, 0, len(set))
		for _, p := range set {
			peers = append(peers, p)
		}
		files[strconv.FormatUint(uint64(crc), 10)] = toPersistedList(peers)
	}
	d.mu.Unlock()

	snap := snapshot{
		ID:        d.OwnerID(),
		Peers:     toPersistedList(d.table.TreePeers()),
		PeersLRU:  toPersistedList(d.table.RecentPeers()),
		KVStore:   kv,
		FileStore: files,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dht: creating snapshot file: %w", err)
	}
	defer f.Close()

	if err := bencode.Marshal(f, snap); err != nil {
		return fmt.Errorf("dht: encoding snapshot: %w", err)
	}
	return nil
}

// Load rebuilds a DHT from a snapshot previously written by Dump. Tree
// peers are replayed through AddNode so bucket-tree invariants
// re-establish from scratch; the recent-peers list is then restored on
// top, preserving its recency order as closely as the rebuilt tree
// allows.
func Load(path string) (*DistributedHashTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dht: opening snapshot file: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := bencode.Unmarshal(f, &snap); err != nil {
		return nil, fmt.Errorf("dht: decoding snapshot: %w", err)
	}

	d := New(snap.ID)
	for _, p := range fromPersistedList(snap.Peers) {
		d.AddNode(p)
	}
	d.table.RestoreRecent(fromPersistedList(snap.PeersLRU))

	for k, v := range snap.KVStore {
		key, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dht: invalid kv_store key %q: %w", k, err)
		}
		d.kv[uint32(key)] = v
	}

	for k, persistedPeers := range snap.FileStore {
		crc, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dht: invalid files_store key %q: %w", k, err)
		}
		for _, p := range fromPersistedList(persistedPeers) {
			d.StoreFilePeer(uint32(crc), p)
		}
	}

	return d, nil
}
