package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/wire"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.ReadTimeout = time.Second
	cfg.DumpInterval = 0
	cfg.Quiet = true
	cfg.WorkingDir = t.TempDir()
	return cfg
}

func newSeededManager(t *testing.T, id uint32) *Manager {
	t.Helper()
	m := New(id, "127.0.0.1:0", testConfig(t), nil, nil)
	if err := m.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestBootstrapMutualDiscovery(t *testing.T) {
	a := newSeededManager(t, 1)
	b := newSeededManager(t, 2)

	if err := b.Bootstrap(a.Addr()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	bPeers := b.dht.GetClosestPeersFrom(b.ownID, 10)
	if !containsID(bPeers, 1) {
		t.Errorf("B's DHT should know A after bootstrap, got %v", bPeers)
	}

	aPeers := a.dht.GetClosestPeersFrom(a.ownID, 10)
	if !containsID(aPeers, 2) {
		t.Errorf("A's DHT should have learned B from the ping/find_node, got %v", aPeers)
	}
}

func containsID(peers []peerid.PeerNode, id uint32) bool {
	for _, p := range peers {
		if p.ID() == id {
			return true
		}
	}
	return false
}

func TestFindValueConvergesThroughIntermediary(t *testing.T) {
	a := newSeededManager(t, 1)
	b := newSeededManager(t, 2)
	c := newSeededManager(t, 3)

	if err := b.Bootstrap(a.Addr()); err != nil {
		t.Fatalf("b bootstrap: %v", err)
	}
	if err := c.Bootstrap(a.Addr()); err != nil {
		t.Fatalf("c bootstrap: %v", err)
	}

	a.StoreLocal(42, "hello")

	value, ok, err := b.FindValue(context.Background(), 42)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if !ok || value != "hello" {
		t.Errorf("FindValue(42) = (%q, %v), want (\"hello\", true)", value, ok)
	}
	_ = c
}

func TestAnnounceAndGetPeersRoundTrip(t *testing.T) {
	a := newSeededManager(t, 1)
	b := newSeededManager(t, 2)

	if err := b.Bootstrap(a.Addr()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	const crc = 3613099103
	if err := b.Announce(context.Background(), crc); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	peers, err := a.GetPeers(context.Background(), crc)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	if !containsWirePeerID(peers, 2) {
		t.Errorf("GetPeers(%d) = %v, want it to include peer 2", crc, peers)
	}
}

func containsWirePeerID(peers []wire.Peer, id uint32) bool {
	for _, p := range peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestShareAndDownloadFileEndToEnd(t *testing.T) {
	seedDir := t.TempDir()
	srcPath := filepath.Join(seedDir, "greeting.txt")
	if err := os.WriteFile(srcPath, []byte("hello, pire"), 0o644); err != nil {
		t.Fatal(err)
	}

	seeder := newSeededManager(t, 1)
	seeder.config.WorkingDir = seedDir
	tf, err := seeder.ShareFile(srcPath)
	if err != nil {
		t.Fatalf("ShareFile: %v", err)
	}
	if err := seeder.Announce(context.Background(), tf.Metadata.FileCRC); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	downloader := newSeededManager(t, 2)
	if err := downloader.Bootstrap(seeder.Addr()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	downloaded, err := downloader.DownloadFile(context.Background(), tf.Metadata.FileCRC)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if !downloaded.IsComplete() {
		t.Error("downloaded torrent should be complete")
	}

	got, err := os.ReadFile(downloaded.Metadata.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, pire" {
		t.Errorf("downloaded content = %q, want %q", got, "hello, pire")
	}
}
