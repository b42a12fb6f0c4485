package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/axelb/pire/rpcclient"
	"github.com/axelb/pire/torrentfile"
	"github.com/axelb/pire/wire"
)

// FileInfo asks a specific peer for a shared file's chunking parameters.
func (m *Manager) FileInfo(addr string, crc uint32) (wire.FileInfo, bool, error) {
	return rpcclient.FileInfo(addr, m.timeouts(), crc)
}

// downloadQueue is a LIFO of not-yet-committed chunk ids, shared by every
// per-peer worker goroutine.
type downloadQueue struct {
	mu      sync.Mutex
	pending []uint32
}

func newDownloadQueue(nbChunks uint32) *downloadQueue {
	pending := make([]uint32, nbChunks)
	for i := range pending {
		pending[i] = uint32(i)
	}
	return &downloadQueue{pending: pending}
}

func (q *downloadQueue) next() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	id := q.pending[len(q.pending)-1]
	q.pending = q.pending[:len(q.pending)-1]
	return id, true
}

// requeue puts id back at the bottom of the queue, so the next pop
// yields a different chunk while any other remains.
func (q *downloadQueue) requeue(id uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append([]uint32{id}, q.pending...)
}

// DownloadFile discovers who owns the file identified by crc, learns its
// chunking layout, and pulls every chunk over one worker goroutine per
// reachable peer. A peer whose connection fails is dropped (its
// in-flight chunk is requeued for another worker); a peer that merely
// doesn't have a given chunk yet is retried with the next one instead.
func (m *Manager) DownloadFile(ctx context.Context, crc uint32) (*torrentfile.TorrentFile, error) {
	peers, err := m.GetPeers(ctx, crc)
	if err != nil {
		return nil, fmt.Errorf("manager: download: get_peers: %w", err)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("manager: download: no peers known for file %d", crc)
	}

	var info wire.FileInfo
	var haveInfo bool
	for _, p := range peers {
		i, ok, err := rpcclient.FileInfo(p.Addr, m.timeouts(), crc)
		if err != nil || !ok {
			continue
		}
		info, haveInfo = i, true
		break
	}
	if !haveInfo {
		return nil, fmt.Errorf("manager: download: no peer answered file_info for %d", crc)
	}

	tf, err := m.store.PrepareDownload(m.config.WorkingDir, info)
	if err != nil {
		return nil, fmt.Errorf("manager: download: preparing destination: %w", err)
	}

	queue := newDownloadQueue(tf.NbChunks())

	var bar *progressbar.ProgressBar
	if !m.config.Quiet {
		bar = progressbar.Default(int64(tf.NbChunks()), info.OriginalFilename)
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer wire.Peer) {
			defer wg.Done()
			for {
				id, ok := queue.next()
				if !ok {
					return
				}
				data, ok, err := rpcclient.Chunk(peer.Addr, m.timeouts(), crc, id)
				if err != nil {
					queue.requeue(id)
					return // transport or protocol error from this worker's peer: give up on it
				}
				if !ok {
					queue.requeue(id)
					continue // this peer doesn't have the chunk (yet); try the next one
				}
				if err := tf.CommitChunk(id, data); err != nil {
					queue.requeue(id)
					continue
				}
				if bar != nil {
					bar.Add(1)
				}
				m.metrics.ObserveChunkTransferred("download")
				m.metrics.AddDownloadBytes(len(data))
			}
		}(peer)
	}
	wg.Wait()

	if !tf.IsComplete() {
		return tf, fmt.Errorf("manager: download: incomplete after exhausting every known peer")
	}
	return tf, nil
}

// ShareFile registers a local file for sharing: it computes every
// chunk's CRC and the whole-file CRC, then persists torrent metadata in
// the configured working directory so the dispatcher can serve
// FileInfoRequest/ChunkRequest for it once Seed is running.
func (m *Manager) ShareFile(path string) (*torrentfile.TorrentFile, error) {
	return m.store.LoadExisting(m.config.WorkingDir, path, m.config.ChunkSize)
}
