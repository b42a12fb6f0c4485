package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, cmd Command) {
	t.Helper()
	encoded := Encode(cmd)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(Encode(%#v)) failed: %v", cmd, err)
	}
	if got, want := Encode(decoded), encoded; !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch for %#v: got %x, want %x", cmd, got, want)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	peerA := Peer{ID: 42, Addr: "127.0.0.1:4000"}
	peerB := Peer{ID: 7, Addr: "[::1]:9001"}

	commands := []Command{
		FileInfoRequest{CRC: 3613099103},
		FileInfoResponse{Info: FileInfo{FileSize: 5, ChunkSize: 1, FileCRC: 1364906956, OriginalFilename: "data.bin"}},
		ChunkRequest{CRC: 1, ChunkID: 42},
		ChunkResponse{CRC: 1, ChunkID: 0, Data: []byte{0, 1, 2, 3, 4}},
		ChunkResponse{CRC: 1, ChunkID: 0, Data: []byte{}},
		PingRequest{Sender: peerA},
		PingResponse{ID: 99},
		StoreRequest{Sender: peerA, Key: 42, Value: "hello"},
		StoreResponse{},
		FindNodeRequest{Sender: peerA, Target: 1},
		FindNodeResponse{Peers: []Peer{peerA, peerB}},
		FindNodeResponse{Peers: nil},
		FindValueRequest{Sender: peerA, Key: 42},
		FindValueResponse{Value: "hello"},
		MessageRequest{Text: "gm"},
		MessageResponse{},
		AnnounceRequest{Sender: peerA, CRC: 3613099103},
		AnnounceResponse{},
		GetPeersRequest{CRC: 3613099103},
		GetPeersResponse{Peers: []Peer{peerA}},
		ErrorOccured{Code: ErrUnknown},
		ErrorOccured{Code: ErrFileNotFound},
		ErrorOccured{Code: ErrChunkNotFound},
		ErrorOccured{Code: ErrInvalidChunk},
		ErrorOccured{Code: ErrKeyNotFound},
	}

	for _, cmd := range commands {
		roundTrip(t, cmd)
	}
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	tests := []struct {
		name string
		full []byte
	}{
		{"FileInfoRequest", Encode(FileInfoRequest{CRC: 7})},
		{"ChunkRequest", Encode(ChunkRequest{CRC: 7, ChunkID: 1})},
		{"PingRequest", Encode(PingRequest{Sender: Peer{ID: 1, Addr: "a:1"}})},
		{"StoreRequest", Encode(StoreRequest{Sender: Peer{ID: 1, Addr: "a:1"}, Key: 1, Value: "x"})},
		{"FindNodeRequest", Encode(FindNodeRequest{Sender: Peer{ID: 1, Addr: "a:1"}, Target: 2})},
		{"FindNodeResponse", Encode(FindNodeResponse{Peers: []Peer{{ID: 1, Addr: "a:1"}}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for n := 0; n < len(tt.full); n++ {
				truncated := tt.full[:n]
				if _, err := Decode(truncated); err == nil {
					t.Errorf("Decode(%x) (len %d, full len %d) succeeded, want error", truncated, n, len(tt.full))
				}
			}
		})
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("Decode(nil) succeeded, want error")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, err := Decode([]byte{0x7f}); err == nil {
		t.Fatal("Decode of unknown opcode 0x7f succeeded, want error")
	}
}

func TestDecodeStringResidueMismatch(t *testing.T) {
	// A MessageRequest claiming a 10-byte string but only 2 bytes follow.
	buf := []byte{byte(OpMessageRequest), 0, 0, 0, 10, 'h', 'i'}
	if _, err := Decode(buf); err == nil {
		t.Fatal("Decode with mismatched string length succeeded, want error")
	}
}

func TestDecodeTrailingGarbage(t *testing.T) {
	buf := append(Encode(PingResponse{ID: 1}), 0xff)
	if _, err := Decode(buf); err == nil {
		t.Fatal("Decode with trailing garbage succeeded, want error")
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	buf := []byte{byte(OpMessageRequest), 0, 0, 0, 1, 0xff}
	if _, err := Decode(buf); err == nil {
		t.Fatal("Decode with invalid UTF-8 succeeded, want error")
	}
}

func TestErrorOccuredOpcodeEncoding(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want byte
	}{
		{ErrUnknown, 0x80},
		{ErrFileNotFound, 0x81},
		{ErrChunkNotFound, 0x82},
		{ErrInvalidChunk, 0x83},
		{ErrKeyNotFound, 0x84},
	}
	for _, tt := range tests {
		got := Encode(ErrorOccured{Code: tt.code})
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("Encode(ErrorOccured{%v}) = %x, want [%#x]", tt.code, got, tt.want)
		}
	}
}
