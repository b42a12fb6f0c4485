// Package rpcclient is the thin client-side RPC layer: one function per
// wire command, each opening a connection, writing a request, and
// decoding the matching response under configured timeouts.
package rpcclient

import (
	"fmt"
	"net"
	"time"

	"github.com/axelb/pire/wire"
)

// Timeouts bounds how long a single RPC may spend connecting, writing
// its request, and waiting for a response.
type Timeouts struct {
	Connect time.Duration
	Write   time.Duration
	Read    time.Duration
	// Slowness, if set, is injected as a sleep before writing the
	// request — useful for exercising timeout handling deterministically
	// in tests.
	Slowness time.Duration
}

// DefaultTimeouts matches the engine's default of 200ms per phase.
func DefaultTimeouts() Timeouts {
	const d = 200 * time.Millisecond
	return Timeouts{Connect: d, Write: d, Read: d}
}

// roundTrip dials addr, writes req, and decodes exactly one response,
// all under t's deadlines.
func roundTrip(addr string, t Timeouts, req wire.Command) (wire.Command, error) {
	conn, err := net.DialTimeout("tcp", addr, t.Connect)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if t.Slowness > 0 {
		time.Sleep(t.Slowness)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(t.Write)); err != nil {
		return nil, fmt.Errorf("rpcclient: set write deadline: %w", err)
	}
	if _, err := conn.Write(wire.Encode(req)); err != nil {
		return nil, fmt.Errorf("rpcclient: write request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.Read)); err != nil {
		return nil, fmt.Errorf("rpcclient: set read deadline: %w", err)
	}
	raw, err := readAll(conn)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: read response: %w", err)
	}

	resp, err := wire.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: decode response: %w", err)
	}
	if e, ok := resp.(wire.ErrorOccured); ok {
		return nil, &RemoteError{Code: e.Code}
	}
	return resp, nil
}

// readAllBufSize is the chunk size readAll reads into; a short read (or
// a read of 0 bytes) is taken to mean the peer is done writing.
const readAllBufSize = 8 * 1024

// readAll accumulates reads from conn until one comes back shorter than
// readAllBufSize, so a response larger than a single read (e.g. a
// full-size ChunkResponse) isn't truncated.
func readAll(conn net.Conn) ([]byte, error) {
	var res []byte
	buf := make([]byte, readAllBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			res = append(res, buf[:n]...)
		}
		if err != nil {
			if len(res) > 0 {
				return res, nil
			}
			return nil, err
		}
		if n < readAllBufSize {
			break
		}
	}
	return res, nil
}

// RemoteError wraps an ErrorOccured response surfaced by a remote peer.
type RemoteError struct{ Code wire.ErrorCode }

func (e *RemoteError) Error() string { return "rpcclient: remote error: " + e.Code.String() }

// Ping sends a PingRequest and returns the responder's id.
func Ping(addr string, t Timeouts, sender wire.Peer) (uint32, error) {
	resp, err := roundTrip(addr, t, wire.PingRequest{Sender: sender})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(wire.PingResponse)
	if !ok {
		return 0, fmt.Errorf("rpcclient: ping: unexpected response type %T", resp)
	}
	return r.ID, nil
}

// FindNode sends a FindNodeRequest carrying sender (so the remote can
// learn us) and returns the peers it reports closest to target.
func FindNode(addr string, t Timeouts, sender wire.Peer, target uint32) ([]wire.Peer, error) {
	resp, err := roundTrip(addr, t, wire.FindNodeRequest{Sender: sender, Target: target})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(wire.FindNodeResponse)
	if !ok {
		return nil, fmt.Errorf("rpcclient: find_node: unexpected response type %T", resp)
	}
	return r.Peers, nil
}

// Store sends a StoreRequest.
func Store(addr string, t Timeouts, sender wire.Peer, key uint32, value string) error {
	resp, err := roundTrip(addr, t, wire.StoreRequest{Sender: sender, Key: key, Value: value})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.StoreResponse); !ok {
		return fmt.Errorf("rpcclient: store: unexpected response type %T", resp)
	}
	return nil
}

// FindValue sends a FindValueRequest. ok is false (with a nil error) if
// the remote responded with KeyNotFound.
func FindValue(addr string, t Timeouts, sender wire.Peer, key uint32) (value string, ok bool, err error) {
	resp, err := roundTrip(addr, t, wire.FindValueRequest{Sender: sender, Key: key})
	if err != nil {
		if remote, is := err.(*RemoteError); is && remote.Code == wire.ErrKeyNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	r, typeOk := resp.(wire.FindValueResponse)
	if !typeOk {
		return "", false, fmt.Errorf("rpcclient: find_value: unexpected response type %T", resp)
	}
	return r.Value, true, nil
}

// Announce sends an AnnounceRequest for crc.
func Announce(addr string, t Timeouts, sender wire.Peer, crc uint32) error {
	resp, err := roundTrip(addr, t, wire.AnnounceRequest{Sender: sender, CRC: crc})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.AnnounceResponse); !ok {
		return fmt.Errorf("rpcclient: announce: unexpected response type %T", resp)
	}
	return nil
}

// GetPeers sends a GetPeersRequest. ok is false (with a nil error) if the
// remote doesn't know the file.
func GetPeers(addr string, t Timeouts, crc uint32) (peers []wire.Peer, ok bool, err error) {
	resp, err := roundTrip(addr, t, wire.GetPeersRequest{CRC: crc})
	if err != nil {
		if remote, is := err.(*RemoteError); is && remote.Code == wire.ErrFileNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	r, typeOk := resp.(wire.GetPeersResponse)
	if !typeOk {
		return nil, false, fmt.Errorf("rpcclient: get_peers: unexpected response type %T", resp)
	}
	return r.Peers, true, nil
}

// FileInfo sends a FileInfoRequest. ok is false (with a nil error) if the
// remote doesn't have the file.
func FileInfo(addr string, t Timeouts, crc uint32) (info wire.FileInfo, ok bool, err error) {
	resp, err := roundTrip(addr, t, wire.FileInfoRequest{CRC: crc})
	if err != nil {
		if remote, is := err.(*RemoteError); is && remote.Code == wire.ErrFileNotFound {
			return wire.FileInfo{}, false, nil
		}
		return wire.FileInfo{}, false, err
	}
	r, typeOk := resp.(wire.FileInfoResponse)
	if !typeOk {
		return wire.FileInfo{}, false, fmt.Errorf("rpcclient: file_info: unexpected response type %T", resp)
	}
	return r.Info, true, nil
}

// Chunk sends a ChunkRequest for chunkID of the file identified by crc.
// ok is false (with a nil error) if the remote reports the file or
// chunk missing; an out-of-range chunk id (InvalidChunk) is returned as a
// *RemoteError.
func Chunk(addr string, t Timeouts, crc, chunkID uint32) (data []byte, ok bool, err error) {
	resp, err := roundTrip(addr, t, wire.ChunkRequest{CRC: crc, ChunkID: chunkID})
	if err != nil {
		if remote, is := err.(*RemoteError); is &&
			(remote.Code == wire.ErrFileNotFound || remote.Code == wire.ErrChunkNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	r, typeOk := resp.(wire.ChunkResponse)
	if !typeOk {
		return nil, false, fmt.Errorf("rpcclient: chunk: unexpected response type %T", resp)
	}
	return r.Data, true, nil
}

// Message sends a MessageRequest, fire-and-forget save for the response
// acknowledging delivery.
func Message(addr string, t Timeouts, text string) error {
	resp, err := roundTrip(addr, t, wire.MessageRequest{Text: text})
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.MessageResponse); !ok {
		return fmt.Errorf("rpcclient: message: unexpected response type %T", resp)
	}
	return nil
}
