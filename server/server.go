// Package server implements the per-connection request dispatcher: one
// goroutine per accepted TCP connection, reading framed requests in a
// loop until EOF and routing each by opcode to its handler.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/axelb/pire/dht"
	"github.com/axelb/pire/logging"
	"github.com/axelb/pire/metrics"
	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/wire"
)

// ChunkError classifies why ReadChunk couldn't return bytes.
type ChunkError int

const (
	ChunkOK ChunkError = iota
	ChunkFileNotFound
	ChunkInvalidChunk
	ChunkMissing
)

// Store is the torrent-store surface the dispatcher needs: looking up
// file metadata and chunk bytes by CRC. manager.TorrentStore implements
// this structurally, so server never imports manager.
type Store interface {
	FileInfo(crc uint32) (wire.FileInfo, bool)
	ReadChunk(crc uint32, chunkID uint32) ([]byte, ChunkError)
}

// Config bounds a Dispatcher's per-connection behavior.
type Config struct {
	WriteTimeout time.Duration
	Slowness     time.Duration
}

// Dispatcher owns the shared state every connection's handlers consult:
// the DHT, the torrent store, this peer's own id, and the ambient
// logging/metrics hooks.
type Dispatcher struct {
	OwnID   uint32
	DHT     *dht.DistributedHashTable
	Store   Store
	Config  Config
	Logger  *logging.Logger
	Metrics *metrics.Collector

	// OnMessage, if set, is invoked with the text of every MessageRequest
	// received, so the operator surface can display it.
	OnMessage func(text string)
}

// Serve accepts connections on ln until it returns an error (typically
// from ln.Close), handling each on its own goroutine.
func (d *Dispatcher) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.handleConn(conn)
	}
}

// readAllBufSize is the chunk size readAll reads into; a short read (or
// a read of 0 bytes) is taken to mean the peer is done writing.
const readAllBufSize = 8 * 1024

// readAll accumulates reads from conn until one comes back shorter than
// readAllBufSize, so a request larger than a single read isn't truncated.
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

func (d *Dispatcher) log() *logging.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.Default()
}

func (d *Dispatcher) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := d.log().WithConn(connID)
	log.Info("accepted connection from %s", conn.RemoteAddr())
	defer log.Info("closing connection")

	for {
		raw, err := readAll(conn)
		if err != nil {
			return // transport error: connection is done.
		}
		if len(raw) == 0 {
			return // client closed the connection.
		}

		req, err := wire.Decode(raw)
		if err != nil {
			log.Error("decode request: %v", err)
			return
		}

		d.Metrics.ObserveRPC(fmt.Sprintf("%T", req), "inbound")
		resp, sender := d.dispatch(req)

		if d.Config.Slowness > 0 {
			time.Sleep(d.Config.Slowness)
		}

		if err := conn.SetWriteDeadline(time.Now().Add(d.Config.WriteTimeout)); err != nil {
			log.Error("set write deadline: %v", err)
			return
		}
		if _, err := conn.Write(wire.Encode(resp)); err != nil {
			log.Error("write response: %v", err)
			return
		}

		if sender != 0 {
			d.DHT.PeerHasResponded(sender)
		}
	}
}

// dispatch routes req to its handler and returns the response to send
// plus the id of the peer that sent the request, if any (0 if none),
// for marking it responded-to after the reply is flushed.
func (d *Dispatcher) dispatch(req wire.Command) (wire.Command, uint32) {
	switch r := req.(type) {
	case wire.FileInfoRequest:
		return d.handleFileInfo(r), 0
	case wire.ChunkRequest:
		return d.handleChunk(r), 0
	case wire.PingRequest:
		return d.handlePing(r), r.Sender.ID
	case wire.StoreRequest:
		return d.handleStore(r), r.Sender.ID
	case wire.FindNodeRequest:
		return d.handleFindNode(r), r.Sender.ID
	case wire.FindValueRequest:
		return d.handleFindValue(r), r.Sender.ID
	case wire.MessageRequest:
		return d.handleMessage(r), 0
	case wire.AnnounceRequest:
		return d.handleAnnounce(r), r.Sender.ID
	case wire.GetPeersRequest:
		return d.handleGetPeers(r), 0
	default:
		d.Metrics.ObserveRPCError(wire.ErrUnknown.String())
		return wire.ErrorOccured{Code: wire.ErrUnknown}, 0
	}
}

func asPeerNode(p wire.Peer) peerid.PeerNode {
	return peerid.NewPeerNode(p.ID, peerid.TextAddr(p.Addr))
}

func (d *Dispatcher) handleFileInfo(r wire.FileInfoRequest) wire.Command {
	info, ok := d.Store.FileInfo(r.CRC)
	if !ok {
		d.Metrics.ObserveRPCError(wire.ErrFileNotFound.String())
		return wire.ErrorOccured{Code: wire.ErrFileNotFound}
	}
	return wire.FileInfoResponse{Info: info}
}

func (d *Dispatcher) handleChunk(r wire.ChunkRequest) wire.Command {
	data, chunkErr := d.Store.ReadChunk(r.CRC, r.ChunkID)
	switch chunkErr {
	case ChunkOK:
		return wire.ChunkResponse{CRC: r.CRC, ChunkID: r.ChunkID, Data: data}
	case ChunkFileNotFound:
		d.Metrics.ObserveRPCError(wire.ErrFileNotFound.String())
		return wire.ErrorOccured{Code: wire.ErrFileNotFound}
	case ChunkInvalidChunk:
		d.Metrics.ObserveRPCError(wire.ErrInvalidChunk.String())
		return wire.ErrorOccured{Code: wire.ErrInvalidChunk}
	default:
		d.Metrics.ObserveRPCError(wire.ErrChunkNotFound.String())
		return wire.ErrorOccured{Code: wire.ErrChunkNotFound}
	}
}

func (d *Dispatcher) handlePing(r wire.PingRequest) wire.Command {
	d.DHT.AddNode(asPeerNode(r.Sender))
	return wire.PingResponse{ID: d.OwnID}
}

func (d *Dispatcher) handleStore(r wire.StoreRequest) wire.Command {
	d.DHT.StoreValue(r.Key, r.Value)
	d.DHT.AddNode(asPeerNode(r.Sender))
	return wire.StoreResponse{}
}

func (d *Dispatcher) handleFindNode(r wire.FindNodeRequest) wire.Command {
	peers := d.DHT.FindNode(asPeerNode(r.Sender), r.Target)
	return wire.FindNodeResponse{Peers: toWirePeers(peers)}
}

func (d *Dispatcher) handleFindValue(r wire.FindValueRequest) wire.Command {
	d.DHT.AddNode(asPeerNode(r.Sender))
	value, ok := d.DHT.GetValue(r.Key)
	if !ok {
		d.Metrics.ObserveRPCError(wire.ErrKeyNotFound.String())
		return wire.ErrorOccured{Code: wire.ErrKeyNotFound}
	}
	return wire.FindValueResponse{Value: value}
}

func (d *Dispatcher) handleMessage(r wire.MessageRequest) wire.Command {
	if d.OnMessage != nil {
		d.OnMessage(r.Text)
	}
	return wire.MessageResponse{}
}

func (d *Dispatcher) handleAnnounce(r wire.AnnounceRequest) wire.Command {
	d.DHT.StoreFilePeer(r.CRC, asPeerNode(r.Sender))
	d.DHT.AddNode(asPeerNode(r.Sender))
	return wire.AnnounceResponse{}
}

func (d *Dispatcher) handleGetPeers(r wire.GetPeersRequest) wire.Command {
	peers := d.DHT.GetFilePeers(r.CRC)
	if len(peers) == 0 {
		d.Metrics.ObserveRPCError(wire.ErrFileNotFound.String())
		return wire.ErrorOccured{Code: wire.ErrFileNotFound}
	}
	return wire.GetPeersResponse{Peers: toWirePeers(peers)}
}

func toWirePeers(peers []peerid.PeerNode) []wire.Peer {
	out := make([]wire.Peer, len(peers))
	for i, p := range peers {
		out[i] = wire.Peer{ID: p.ID(), Addr: p.Addr().String()}
	}
	return out
}
