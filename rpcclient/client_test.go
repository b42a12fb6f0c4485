package rpcclient

import (
	"net"
	"testing"
	"time"

	"github.com/axelb/pire/wire"
)

// serveOnce accepts a single connection, decodes one request (ignored by
// the caller), and writes back the encoding of resp.
func serveOnce(t *testing.T, resp wire.Command) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := wire.Decode(buf[:n]); err != nil {
			return
		}
		conn.Write(wire.Encode(resp))
	}()
	return ln.Addr().String()
}

func testTimeouts() Timeouts {
	return Timeouts{Connect: time.Second, Write: time.Second, Read: time.Second}
}

func TestPingReturnsResponderID(t *testing.T) {
	addr := serveOnce(t, wire.PingResponse{ID: 77})
	id, err := Ping(addr, testTimeouts(), wire.Peer{ID: 1, Addr: "127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 77 {
		t.Errorf("Ping id = %d, want 77", id)
	}
}

func TestFindNodeReturnsPeers(t *testing.T) {
	want := []wire.Peer{{ID: 2, Addr: "a:1"}, {ID: 3, Addr: "b:2"}}
	addr := serveOnce(t, wire.FindNodeResponse{Peers: want})
	got, err := FindNode(addr, testTimeouts(), wire.Peer{ID: 1, Addr: "127.0.0.1:1"}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("FindNode = %+v, want %+v", got, want)
	}
}

func TestFindValueNotFoundIsOkFalse(t *testing.T) {
	addr := serveOnce(t, wire.ErrorOccured{Code: wire.ErrKeyNotFound})
	_, ok, err := FindValue(addr, testTimeouts(), wire.Peer{ID: 1, Addr: "x"}, 9)
	if err != nil {
		t.Fatalf("expected no error on KeyNotFound, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing key")
	}
}

func TestGetPeersNotFoundIsOkFalse(t *testing.T) {
	addr := serveOnce(t, wire.ErrorOccured{Code: wire.ErrFileNotFound})
	_, ok, err := GetPeers(addr, testTimeouts(), 123)
	if err != nil {
		t.Fatalf("expected no error on FileNotFound, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for an unknown file")
	}
}

func TestChunkOutOfRangeIsRemoteError(t *testing.T) {
	addr := serveOnce(t, wire.ErrorOccured{Code: wire.ErrInvalidChunk})
	_, ok, err := Chunk(addr, testTimeouts(), 123, 99)
	if remote, is := err.(*RemoteError); !is || remote.Code != wire.ErrInvalidChunk {
		t.Fatalf("expected an InvalidChunk remote error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for an out-of-range chunk")
	}
}

func TestDialFailureIsPropagatedAsError(t *testing.T) {
	// Nothing listens on this port.
	_, err := Ping("127.0.0.1:1", Timeouts{Connect: 50 * time.Millisecond}, wire.Peer{ID: 1, Addr: "x"})
	if err == nil {
		t.Fatal("expected a dial error against an unreachable address")
	}
}
