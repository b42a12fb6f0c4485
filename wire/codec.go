package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// encoder accumulates a frame's payload bytes.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) uint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) {
	e.uint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) peer(p Peer) {
	e.uint32(p.ID)
	e.str(p.Addr)
}

func (e *encoder) peerList(peers []Peer) {
	e.uint32(uint32(len(peers)))
	for _, p := range peers {
		e.peer(p)
	}
}

// decoder consumes a frame's payload bytes, failing closed on any
// malformed or truncated input.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("wire: truncated uint32 at offset %d", d.pos)
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) bytesN(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("wire: truncated buffer, want %d bytes, have %d", n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// rest returns every byte not yet consumed.
func (d *decoder) rest() []byte {
	b := d.buf[d.pos:]
	d.pos = len(d.buf)
	return b
}

func (d *decoder) str() (string, error) {
	length, err := d.uint32()
	if err != nil {
		return "", fmt.Errorf("wire: reading string length: %w", err)
	}
	b, err := d.bytesN(int(length))
	if err != nil {
		return "", fmt.Errorf("wire: string body disagrees with its length prefix: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("wire: string is not valid UTF-8")
	}
	return string(b), nil
}

func (d *decoder) peer() (Peer, error) {
	id, err := d.uint32()
	if err != nil {
		return Peer{}, fmt.Errorf("wire: reading peer id: %w", err)
	}
	addr, err := d.str()
	if err != nil {
		return Peer{}, fmt.Errorf("wire: reading peer addr: %w", err)
	}
	return Peer{ID: id, Addr: addr}, nil
}

func (d *decoder) peerList() ([]Peer, error) {
	count, err := d.uint32()
	if err != nil {
		return nil, fmt.Errorf("wire: reading peer list count: %w", err)
	}
	peers := make([]Peer, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := d.peer()
		if err != nil {
			return nil, fmt.Errorf("wire: reading peer %d of %d: %w", i, count, err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func (d *decoder) finish() error {
	if d.remaining() != 0 {
		return fmt.Errorf("wire: %d trailing bytes after decoding payload", d.remaining())
	}
	return nil
}

// Encode converts a Command into its framed wire form: opcode byte
// followed by its payload.
func Encode(cmd Command) []byte {
	e := &encoder{}
	e.byte(byte(cmd.Opcode()))

	switch c := cmd.(type) {
	case FileInfoRequest:
		e.uint32(c.CRC)
	case FileInfoResponse:
		e.uint32(c.Info.FileSize)
		e.uint32(c.Info.ChunkSize)
		e.uint32(c.Info.FileCRC)
		e.str(c.Info.OriginalFilename)
	case ChunkRequest:
		e.uint32(c.CRC)
		e.uint32(c.ChunkID)
	case ChunkResponse:
		e.uint32(c.CRC)
		e.uint32(c.ChunkID)
		e.raw(c.Data)
	case PingRequest:
		e.peer(c.Sender)
	case PingResponse:
		e.uint32(c.ID)
	case StoreRequest:
		e.peer(c.Sender)
		e.uint32(c.Key)
		e.str(c.Value)
	case StoreResponse:
		// no payload
	case FindNodeRequest:
		e.peer(c.Sender)
		e.uint32(c.Target)
	case FindNodeResponse:
		e.peerList(c.Peers)
	case FindValueRequest:
		e.peer(c.Sender)
		e.uint32(c.Key)
	case FindValueResponse:
		e.str(c.Value)
	case MessageRequest:
		e.str(c.Text)
	case MessageResponse:
		// no payload
	case AnnounceRequest:
		e.peer(c.Sender)
		e.uint32(c.CRC)
	case AnnounceResponse:
		// no payload
	case GetPeersRequest:
		e.uint32(c.CRC)
	case GetPeersResponse:
		e.peerList(c.Peers)
	case ErrorOccured:
		// the opcode itself (OpErrorBase + code) carries the whole payload
	default:
		panic(fmt.Sprintf("wire: Encode: unhandled command type %T", cmd))
	}

	return e.buf
}

// Decode parses a framed buffer back into a Command. It fails if the
// buffer is shorter than the minimum for its declared opcode, if any
// embedded UTF-8 is invalid, if a length prefix disagrees with the
// buffer's residue, or if the opcode is unrecognized.
func Decode(buf []byte) (Command, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("wire: empty buffer")
	}

	op := Opcode(buf[0])
	d := &decoder{buf: buf[1:]}

	if op >= OpErrorBase {
		return ErrorOccured{Code: ErrorCode(op - OpErrorBase)}, nil
	}

	switch op {
	case OpFileInfoRequest:
		crc, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FileInfoRequest{CRC: crc}, nil

	case OpFileInfoResponse:
		fileSize, err := d.uint32()
		if err != nil {
			return nil, err
		}
		chunkSize, err := d.uint32()
		if err != nil {
			return nil, err
		}
		fileCRC, err := d.uint32()
		if err != nil {
			return nil, err
		}
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FileInfoResponse{Info: FileInfo{
			FileSize:         fileSize,
			ChunkSize:        chunkSize,
			FileCRC:          fileCRC,
			OriginalFilename: name,
		}}, nil

	case OpChunkRequest:
		crc, err := d.uint32()
		if err != nil {
			return nil, err
		}
		chunkID, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return ChunkRequest{CRC: crc, ChunkID: chunkID}, nil

	case OpChunkResponse:
		crc, err := d.uint32()
		if err != nil {
			return nil, err
		}
		chunkID, err := d.uint32()
		if err != nil {
			return nil, err
		}
		data := d.rest()
		return ChunkResponse{CRC: crc, ChunkID: chunkID, Data: append([]byte(nil), data...)}, nil

	case OpPingRequest:
		sender, err := d.peer()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return PingRequest{Sender: sender}, nil

	case OpPingResponse:
		id, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return PingResponse{ID: id}, nil

	case OpStoreRequest:
		sender, err := d.peer()
		if err != nil {
			return nil, err
		}
		key, err := d.uint32()
		if err != nil {
			return nil, err
		}
		value, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return StoreRequest{Sender: sender, Key: key, Value: value}, nil

	case OpStoreResponse:
		if err := d.finish(); err != nil {
			return nil, err
		}
		return StoreResponse{}, nil

	case OpFindNodeRequest:
		sender, err := d.peer()
		if err != nil {
			return nil, err
		}
		target, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FindNodeRequest{Sender: sender, Target: target}, nil

	case OpFindNodeResponse:
		peers, err := d.peerList()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FindNodeResponse{Peers: peers}, nil

	case OpFindValueRequest:
		sender, err := d.peer()
		if err != nil {
			return nil, err
		}
		key, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FindValueRequest{Sender: sender, Key: key}, nil

	case OpFindValueResponse:
		value, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return FindValueResponse{Value: value}, nil

	case OpMessageRequest:
		text, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return MessageRequest{Text: text}, nil

	case OpMessageResponse:
		if err := d.finish(); err != nil {
			return nil, err
		}
		return MessageResponse{}, nil

	case OpAnnounceRequest:
		sender, err := d.peer()
		if err != nil {
			return nil, err
		}
		crc, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return AnnounceRequest{Sender: sender, CRC: crc}, nil

	case OpAnnounceResponse:
		if err := d.finish(); err != nil {
			return nil, err
		}
		return AnnounceResponse{}, nil

	case OpGetPeersRequest:
		crc, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return GetPeersRequest{CRC: crc}, nil

	case OpGetPeersResponse:
		peers, err := d.peerList()
		if err != nil {
			return nil, err
		}
		if err := d.finish(); err != nil {
			return nil, err
		}
		return GetPeersResponse{Peers: peers}, nil

	default:
		return nil, fmt.Errorf("wire: unrecognized opcode %#x", byte(op))
	}
}
