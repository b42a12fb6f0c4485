package server

import (
	"net"
	"testing"
	"time"

	"github.com/axelb/pire/dht"
	"github.com/axelb/pire/rpcclient"
	"github.com/axelb/pire/wire"
)

type stubStore struct {
	info   wire.FileInfo
	hasInfo bool
	chunks map[uint32][]byte
	crc     uint32
}

func (s *stubStore) FileInfo(crc uint32) (wire.FileInfo, bool) {
	if crc != s.crc || !s.hasInfo {
		return wire.FileInfo{}, false
	}
	return s.info, true
}

func (s *stubStore) ReadChunk(crc uint32, chunkID uint32) ([]byte, ChunkError) {
	if crc != s.crc {
		return nil, ChunkFileNotFound
	}
	data, ok := s.chunks[chunkID]
	if !ok {
		if chunkID >= uint32(len(s.chunks)) {
			return nil, ChunkInvalidChunk
		}
		return nil, ChunkMissing
	}
	return data, ChunkOK
}

func startDispatcher(t *testing.T, d *Dispatcher) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go d.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func testTimeouts() rpcclient.Timeouts {
	return rpcclient.Timeouts{Connect: time.Second, Write: time.Second, Read: time.Second}
}

func TestPingAddsSenderAndRespondsWithOwnID(t *testing.T) {
	d := &Dispatcher{OwnID: 99, DHT: dht.New(99), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)

	id, err := rpcclient.Ping(addr, testTimeouts(), wire.Peer{ID: 1, Addr: "127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 99 {
		t.Errorf("PingResponse id = %d, want 99", id)
	}
	if len(d.DHT.GetClosestPeersFrom(1, 10)) == 0 {
		t.Error("expected ping sender to be learned by the DHT")
	}
}

func TestStoreThenFindValueRoundTrip(t *testing.T) {
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)
	sender := wire.Peer{ID: 2, Addr: "127.0.0.1:2"}

	if err := rpcclient.Store(addr, testTimeouts(), sender, 42, "hello"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := rpcclient.FindValue(addr, testTimeouts(), sender, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || value != "hello" {
		t.Errorf("FindValue(42) = (%q, %v), want (\"hello\", true)", value, ok)
	}
}

func TestFindValueMissingKeyReturnsKeyNotFound(t *testing.T) {
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)
	_, ok, err := rpcclient.FindValue(addr, testTimeouts(), wire.Peer{ID: 2, Addr: "x"}, 999)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for a missing key")
	}
}

func TestChunkRequestOutOfRangeIsInvalidChunk(t *testing.T) {
	store := &stubStore{crc: 111, hasInfo: true, chunks: map[uint32][]byte{0: {1}, 1: {2}, 2: {3}}}
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Store: store, Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)

	_, ok, err := rpcclient.Chunk(addr, testTimeouts(), 111, 42)
	if remote, is := err.(*rpcclient.RemoteError); !is || remote.Code != wire.ErrInvalidChunk {
		t.Fatalf("expected an InvalidChunk remote error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for an out-of-range chunk id")
	}
}

func TestChunkRequestInRangeSucceeds(t *testing.T) {
	store := &stubStore{crc: 111, hasInfo: true, chunks: map[uint32][]byte{0: {1}, 1: {2}, 2: {3}}}
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Store: store, Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)

	data, ok, err := rpcclient.Chunk(addr, testTimeouts(), 111, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(data) != 1 || data[0] != 2 {
		t.Errorf("Chunk(111,1) = (%v, %v), want ([2], true)", data, ok)
	}
}

func TestAnnounceThenGetPeers(t *testing.T) {
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)
	sender := wire.Peer{ID: 2, Addr: "127.0.0.1:2"}

	if err := rpcclient.Announce(addr, testTimeouts(), sender, 3613099103); err != nil {
		t.Fatal(err)
	}
	peers, ok, err := rpcclient.GetPeers(addr, testTimeouts(), 3613099103)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(peers) != 1 || peers[0].ID != 2 {
		t.Errorf("GetPeers = (%v, %v), want a single peer with id 2", peers, ok)
	}
}

func TestGetPeersUnknownFileReturnsFileNotFound(t *testing.T) {
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)
	_, ok, err := rpcclient.GetPeers(addr, testTimeouts(), 12345)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for an unannounced file")
	}
}

func TestFindNodeLearnsSenderAndReturnsKnownPeers(t *testing.T) {
	d := &Dispatcher{OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second}}
	addr := startDispatcher(t, d)

	peers, err := rpcclient.FindNode(addr, testTimeouts(), wire.Peer{ID: 5, Addr: "127.0.0.1:5"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range peers {
		if p.ID == 5 {
			found = true
		}
	}
	if !found {
		t.Error("find_node response should include the sender it just learned")
	}
}

func TestMessageInvokesOnMessageCallback(t *testing.T) {
	received := make(chan string, 1)
	d := &Dispatcher{
		OwnID: 1, DHT: dht.New(1), Config: Config{WriteTimeout: time.Second},
		OnMessage: func(text string) { received <- text },
	}
	addr := startDispatcher(t, d)

	if err := rpcclient.Message(addr, testTimeouts(), "hello operator"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got != "hello operator" {
			t.Errorf("OnMessage got %q, want %q", got, "hello operator")
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage was never invoked")
	}
}
