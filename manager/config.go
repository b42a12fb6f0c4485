// Package manager is the façade every user-facing command goes
// through: a context (DHT + torrent store + configuration, each behind
// its own lock) fronting the lookup engine, RPC client, and server
// dispatcher packages.
package manager

import (
	"time"

	"github.com/axelb/pire/chunkfile"
)

// Config bundles the process-wide tunables that spec.md's "Manager
// context" calls for. Values are copied out of the Manager under lock
// rather than read through it at each use, per spec §9.
type Config struct {
	// ConnectTimeout, WriteTimeout, ReadTimeout bound every outbound RPC
	// phase and the inbound dispatcher's response write.
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration

	// Slowness, if non-zero, is injected before every response is
	// written and before every outbound request, for exercising timeout
	// handling deterministically.
	Slowness time.Duration

	// MaxHop bounds a greedy lookup's hop count; nil selects the classic
	// (converge-until-no-improvement) strategy.
	MaxHop *int

	// DumpInterval is how often the background task snapshots the DHT
	// to DumpPath. Zero disables the background task.
	DumpInterval time.Duration
	DumpPath     string

	// RecentPeersCacheEnabled toggles the routing table's auxiliary LRU.
	RecentPeersCacheEnabled bool

	// WorkingDir is where torrent metadata and data files are created,
	// relative paths are resolved against it.
	WorkingDir string

	// ChunkSize is the chunk size new torrents are created with.
	ChunkSize uint32

	// Quiet disables the download progress bar, so tests and
	// unattended `seed` runs don't write one to a log file.
	Quiet bool
}

// DefaultConfig matches spec.md's stated defaults: 200ms per RPC phase,
// a 30s DHT dump interval, classic lookup strategy, recent-peers cache
// enabled.
func DefaultConfig() Config {
	const rpcTimeout = 200 * time.Millisecond
	return Config{
		ConnectTimeout:          rpcTimeout,
		WriteTimeout:            rpcTimeout,
		ReadTimeout:             rpcTimeout,
		DumpInterval:            30 * time.Second,
		DumpPath:                "dht.snapshot",
		RecentPeersCacheEnabled: true,
		ChunkSize:               chunkfile.DefaultChunkSize,
	}
}
