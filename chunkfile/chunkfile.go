// Package chunkfile provides fixed-size chunked access to a file on
// disk: the unit the wire protocol's ChunkRequest/ChunkResponse pair and
// the multi-peer download orchestrator both operate on.
package chunkfile

import (
	"fmt"
	"os"
)

// DefaultChunkSize is the chunk size used unless a torrent's metadata
// says otherwise.
const DefaultChunkSize uint32 = 1024 * 1024

// File gives positional (ReadAt/WriteAt), chunk-indexed read/write access
// to one file on disk, fixed at chunkSize bytes per chunk (the last chunk
// may be shorter).
type File struct {
	f         *os.File
	fileSize  uint64
	chunkSize uint32
}

// OpenExisting opens an already-existing file for chunked read/write.
func OpenExisting(path string, chunkSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: opening existing file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: stat: %w", err)
	}
	return &File{f: f, fileSize: uint64(info.Size()), chunkSize: chunkSize}, nil
}

// OpenNew creates (truncating any existing contents) and preallocates a
// file of preallocatedSize bytes for chunked writes, e.g. when
// downloading a file whose size is known up front from remote FileInfo.
func OpenNew(path string, preallocatedSize uint64, chunkSize uint32) (*File, error) {
	if preallocatedSize == 0 {
		return nil, fmt.Errorf("chunkfile: initial allocated size can't be 0")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: creating new file: %w", err)
	}
	if err := f.Truncate(int64(preallocatedSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: preallocating: %w", err)
	}
	return &File{f: f, fileSize: preallocatedSize, chunkSize: chunkSize}, nil
}

// Close releases the underlying file descriptor.
func (c *File) Close() error { return c.f.Close() }

// FileSize returns the file's total size in bytes.
func (c *File) FileSize() uint64 { return c.fileSize }

// ChunkSize returns the fixed size chunks are read/written in (the last
// chunk may be shorter).
func (c *File) ChunkSize() uint32 { return c.chunkSize }

// NbChunks returns how many chunks the file is currently split into.
func (c *File) NbChunks() uint32 {
	return uint32((c.fileSize + uint64(c.chunkSize) - 1) / uint64(c.chunkSize))
}

func (c *File) chunkRange(chunkID uint32) (from, to uint64) {
	from = uint64(chunkID) * uint64(c.chunkSize)
	to = from + uint64(c.chunkSize)
	if to > c.fileSize {
		to = c.fileSize
	}
	return from, to
}

// ReadChunk reads the chunk at chunkID from disk.
func (c *File) ReadChunk(chunkID uint32) ([]byte, error) {
	from, to := c.chunkRange(chunkID)
	if from >= to {
		return nil, fmt.Errorf("chunkfile: chunk %d out of range", chunkID)
	}
	buf := make([]byte, to-from)
	if _, err := c.f.ReadAt(buf, int64(from)); err != nil {
		return nil, fmt.Errorf("chunkfile: reading chunk %d: %w", chunkID, err)
	}
	return buf, nil
}

// WriteChunk writes data to the chunk at chunkID. data's length must
// match the expected chunk length exactly.
func (c *File) WriteChunk(chunkID uint32, data []byte) error {
	from, to := c.chunkRange(chunkID)
	if from >= to {
		return fmt.Errorf("chunkfile: chunk %d out of range", chunkID)
	}
	if to-from != uint64(len(data)) {
		return fmt.Errorf("chunkfile: chunk %d expects %d bytes, got %d", chunkID, to-from, len(data))
	}
	if _, err := c.f.WriteAt(data, int64(from)); err != nil {
		return fmt.Errorf("chunkfile: writing chunk %d: %w", chunkID, err)
	}
	return c.f.Sync()
}
