// Package torrentfile persists per-file share metadata: the original
// filename, size, whole-file CRC, and the per-chunk CRCs accumulated as
// a download fills in, alongside the chunked data file itself.
package torrentfile

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/jackpal/bencode-go"

	"github.com/axelb/pire/chunkfile"
)

// Metadata describes one shared file. A nil entry in CompletedChunks
// means that chunk hasn't arrived yet; a non-nil entry holds the CRC32
// computed when it was written.
type Metadata struct {
	OriginalFilename string
	LocalPath        string
	FileSize         uint64
	FileCRC          uint32
	ChunkSize        uint32
	CompletedChunks  []*uint32
}

// missingChunkCRC is the sentinel persisted in place of a nil
// CompletedChunks entry: bencode has no concept of null, and CRC32
// values never reach the full int64 range, so -1 is unambiguous.
const missingChunkCRC = -1

// persistedMetadata is Metadata's bencode wire shape: completed_chunks
// is flattened from []*uint32 to []int64 using missingChunkCRC in place
// of nil, since bencode dictionaries/lists can't carry an absent value.
type persistedMetadata struct {
	OriginalFilename string  `bencode:"original_filename"`
	LocalPath        string  `bencode:"local_path"`
	FileSize         uint64  `bencode:"file_size"`
	FileCRC          uint32  `bencode:"file_crc"`
	ChunkSize        uint32  `bencode:"chunk_size"`
	CompletedChunks  []int64 `bencode:"completed_chunks"`
}

func (m Metadata) toPersisted() persistedMetadata {
	chunks := make([]int64, len(m.CompletedChunks))
	for i, c := range m.CompletedChunks {
		if c == nil {
			chunks[i] = missingChunkCRC
		} else {
			chunks[i] = int64(*c)
		}
	}
	return persistedMetadata{
		OriginalFilename: m.OriginalFilename,
		LocalPath:        m.LocalPath,
		FileSize:         m.FileSize,
		FileCRC:          m.FileCRC,
		ChunkSize:        m.ChunkSize,
		CompletedChunks:  chunks,
	}
}

func (p persistedMetadata) toMetadata() Metadata {
	chunks := make([]*uint32, len(p.CompletedChunks))
	for i, c := range p.CompletedChunks {
		if c != missingChunkCRC {
			v := uint32(c)
			chunks[i] = &v
		}
	}
	return Metadata{
		OriginalFilename: p.OriginalFilename,
		LocalPath:        p.LocalPath,
		FileSize:         p.FileSize,
		FileCRC:          p.FileCRC,
		ChunkSize:        p.ChunkSize,
		CompletedChunks:  chunks,
	}
}

// TorrentFile pairs a Metadata descriptor with the chunked data file it
// describes, and the path the metadata itself is persisted at.
type TorrentFile struct {
	metadataPath string
	Metadata     Metadata
	Data         *chunkfile.File
}

// NewFromExistingFile builds fresh metadata from a file already present
// on disk, computing every chunk's CRC and the whole-file CRC by
// streaming it once, then persists the metadata to metadataPath.
func NewFromExistingFile(metadataPath, originalFile string, chunkSize uint32) (*TorrentFile, error) {
	data, err := chunkfile.OpenExisting(originalFile, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: opening source file: %w", err)
	}

	nbChunks := data.NbChunks()
	completed := make([]*uint32, nbChunks)
	whole := crc32.NewIEEE()

	for idx := uint32(0); idx < nbChunks; idx++ {
		chunk, err := data.ReadChunk(idx)
		if err != nil {
			data.Close()
			return nil, fmt.Errorf("torrentfile: reading chunk %d: %w", idx, err)
		}
		sum := crc32.ChecksumIEEE(chunk)
		completed[idx] = &sum
		whole.Write(chunk)
	}

	meta := Metadata{
		OriginalFilename: filepath.Base(originalFile),
		LocalPath:        originalFile,
		FileSize:         data.FileSize(),
		FileCRC:          whole.Sum32(),
		ChunkSize:        chunkSize,
		CompletedChunks:  completed,
	}

	tf := &TorrentFile{metadataPath: metadataPath, Metadata: meta, Data: data}
	if err := tf.dump(); err != nil {
		data.Close()
		return nil, err
	}
	return tf, nil
}

// NewFromRemoteInfo preallocates a zero-filled data file of fileSize
// bytes for a download about to start, and initializes CompletedChunks
// to all-missing.
func NewFromRemoteInfo(metadataPath, localPath, originalFilename string, fileSize uint64, fileCRC, chunkSize uint32) (*TorrentFile, error) {
	data, err := chunkfile.OpenNew(localPath, fileSize, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: preallocating destination file: %w", err)
	}

	meta := Metadata{
		OriginalFilename: originalFilename,
		LocalPath:        localPath,
		FileSize:         fileSize,
		FileCRC:          fileCRC,
		ChunkSize:        chunkSize,
		CompletedChunks:  make([]*uint32, data.NbChunks()),
	}

	tf := &TorrentFile{metadataPath: metadataPath, Metadata: meta, Data: data}
	if err := tf.dump(); err != nil {
		data.Close()
		return nil, err
	}
	return tf, nil
}

// Load reads an existing metadata file and re-verifies the whole-file
// CRC by rehashing the associated data file from disk; a mismatch (the
// data file was tampered with or truncated) is a fatal error.
func Load(metadataPath string) (*TorrentFile, error) {
	f, err := os.Open(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: opening metadata: %w", err)
	}
	var raw persistedMetadata
	err = bencode.Unmarshal(f, &raw)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("torrentfile: decoding metadata: %w", err)
	}
	meta := raw.toMetadata()

	data, err := chunkfile.OpenExisting(meta.LocalPath, meta.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: opening data file: %w", err)
	}

	whole := crc32.NewIEEE()
	for idx := uint32(0); idx < data.NbChunks(); idx++ {
		chunk, err := data.ReadChunk(idx)
		if err != nil {
			data.Close()
			return nil, fmt.Errorf("torrentfile: rehashing chunk %d: %w", idx, err)
		}
		whole.Write(chunk)
	}
	if got := whole.Sum32(); got != meta.FileCRC {
		data.Close()
		return nil, fmt.Errorf("torrentfile: crc mismatch, expected %d but got %d", meta.FileCRC, got)
	}

	return &TorrentFile{metadataPath: metadataPath, Metadata: meta, Data: data}, nil
}

// Close releases the underlying data file handle.
func (tf *TorrentFile) Close() error { return tf.Data.Close() }

// NbChunks returns the number of chunks the file is split into.
func (tf *TorrentFile) NbChunks() uint32 { return uint32(len(tf.Metadata.CompletedChunks)) }

// IsComplete reports whether every chunk has arrived.
func (tf *TorrentFile) IsComplete() bool {
	for _, c := range tf.Metadata.CompletedChunks {
		if c == nil {
			return false
		}
	}
	return true
}

// CommitChunk writes data for chunkID to the data file, records its CRC
// in the metadata, and flushes the metadata to disk.
func (tf *TorrentFile) CommitChunk(chunkID uint32, data []byte) error {
	if err := tf.Data.WriteChunk(chunkID, data); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(data)
	tf.Metadata.CompletedChunks[chunkID] = &sum
	return tf.dump()
}

// dump persists the metadata (not the data file) to metadataPath.
func (tf *TorrentFile) dump() error {
	f, err := os.OpenFile(tf.metadataPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("torrentfile: creating metadata file: %w", err)
	}
	defer f.Close()
	if err := bencode.Marshal(f, tf.Metadata.toPersisted()); err != nil {
		return fmt.Errorf("torrentfile: encoding metadata: %w", err)
	}
	return nil
}
