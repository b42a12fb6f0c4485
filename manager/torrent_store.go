package manager

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/axelb/pire/server"
	"github.com/axelb/pire/torrentfile"
	"github.com/axelb/pire/wire"
)

// TorrentStore maps a file's CRC to its metadata and chunked data-file
// handle. It implements server.Store structurally, so the dispatcher can
// read from it without the server package importing this one.
type TorrentStore struct {
	mu   sync.Mutex
	byID map[uint32]*torrentfile.TorrentFile
}

func newTorrentStore() *TorrentStore {
	return &TorrentStore{byID: make(map[uint32]*torrentfile.TorrentFile)}
}

// LoadExisting builds a torrent from a file already on disk and
// registers it, keyed by its computed whole-file CRC.
func (s *TorrentStore) LoadExisting(workingDir, originalFile string, chunkSize uint32) (*torrentfile.TorrentFile, error) {
	metaPath := filepath.Join(workingDir, fmt.Sprintf("%s.torrent", filepath.Base(originalFile)))
	tf, err := torrentfile.NewFromExistingFile(metaPath, originalFile, chunkSize)
	if err != nil {
		return nil, err
	}
	s.register(tf)
	return tf, nil
}

// PrepareDownload preallocates the destination file for a download whose
// remote FileInfo is already known, and registers it.
func (s *TorrentStore) PrepareDownload(workingDir string, info wire.FileInfo) (*torrentfile.TorrentFile, error) {
	localPath := filepath.Join(workingDir, info.OriginalFilename)
	metaPath := localPath + ".torrent"
	tf, err := torrentfile.NewFromRemoteInfo(metaPath, localPath, info.OriginalFilename, uint64(info.FileSize), info.FileCRC, info.ChunkSize)
	if err != nil {
		return nil, err
	}
	s.register(tf)
	return tf, nil
}

func (s *TorrentStore) register(tf *torrentfile.TorrentFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tf.Metadata.FileCRC] = tf
}

// Get returns the torrent registered under crc, if any.
func (s *TorrentStore) Get(crc uint32) (*torrentfile.TorrentFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.byID[crc]
	return tf, ok
}

// FileInfo implements server.Store.
func (s *TorrentStore) FileInfo(crc uint32) (wire.FileInfo, bool) {
	tf, ok := s.Get(crc)
	if !ok {
		return wire.FileInfo{}, false
	}
	return wire.FileInfo{
		FileSize:         uint32(tf.Metadata.FileSize),
		ChunkSize:        tf.Metadata.ChunkSize,
		FileCRC:          tf.Metadata.FileCRC,
		OriginalFilename: tf.Metadata.OriginalFilename,
	}, true
}

// ReadChunk implements server.Store.
func (s *TorrentStore) ReadChunk(crc uint32, chunkID uint32) ([]byte, server.ChunkError) {
	tf, ok := s.Get(crc)
	if !ok {
		return nil, server.ChunkFileNotFound
	}
	if chunkID >= tf.NbChunks() {
		return nil, server.ChunkInvalidChunk
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := tf.Data.ReadChunk(chunkID)
	if err != nil {
		return nil, server.ChunkMissing
	}
	return data, server.ChunkOK
}

// CloseAll releases every registered torrent's data file handle.
func (s *TorrentStore) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tf := range s.byID {
		tf.Close()
	}
}
