package manager

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/axelb/pire/dht"
	"github.com/axelb/pire/logging"
	"github.com/axelb/pire/metrics"
	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/rpcclient"
	"github.com/axelb/pire/server"
	"github.com/axelb/pire/wire"
)

// Manager is the single facade every user command goes through. Its
// mutex guards the configuration, listener and dispatcher fields; the
// DHT and torrent store each carry their own lock. Critical sections stay
// short and release before any blocking network I/O.
type Manager struct {
	mu sync.Mutex

	ownID   uint32
	ownAddr string
	config  Config

	dht   *dht.DistributedHashTable
	store *TorrentStore

	logger  *logging.Logger
	metrics *metrics.Collector

	listener   net.Listener
	stopDump   chan struct{}
	dumpDone   chan struct{}
	dispatcher *server.Dispatcher
}

// New builds a Manager for a peer with the given identifier and
// listening address.
func New(ownID uint32, ownAddr string, config Config, logger *logging.Logger, collector *metrics.Collector) *Manager {
	d := dht.New(ownID)
	d.SetRecentPeersCacheEnabled(config.RecentPeersCacheEnabled)
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		ownID:   ownID,
		ownAddr: ownAddr,
		config:  config,
		dht:     d,
		store:   newTorrentStore(),
		logger:  logger,
		metrics: collector,
	}
}

func (m *Manager) timeouts() rpcclient.Timeouts {
	m.mu.Lock()
	t := rpcclient.Timeouts{
		Connect:  m.config.ConnectTimeout,
		Write:    m.config.WriteTimeout,
		Read:     m.config.ReadTimeout,
		Slowness: m.config.Slowness,
	}
	m.mu.Unlock()
	return t
}

func (m *Manager) selfPeer() wire.Peer {
	return wire.Peer{ID: m.ownID, Addr: m.Addr()}
}

// Addr returns the address this peer is reachable at: the listener's
// actual bound address once Seed has run (useful when ownAddr was
// ":0"), or the address it was configured with otherwise.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.ownAddr
}

// Seed starts the server dispatcher on a TCP listener bound to
// m.ownAddr, and the periodic DHT dump background task. It returns once
// the listener is bound; Serve itself runs on its own goroutine.
func (m *Manager) Seed() error {
	lc := net.ListenConfig{Control: setReuseAddrAndPort}
	ln, err := lc.Listen(context.Background(), "tcp", m.ownAddr)
	if err != nil {
		return fmt.Errorf("manager: seed: listen: %w", err)
	}
	m.mu.Lock()
	m.listener = ln
	m.dispatcher = &server.Dispatcher{
		OwnID:   m.ownID,
		DHT:     m.dht,
		Store:   m.store,
		Config:  server.Config{WriteTimeout: m.config.WriteTimeout, Slowness: m.config.Slowness},
		Logger:  m.logger,
		Metrics: m.metrics,
		OnMessage: func(text string) {
			m.logger.Info("message received: %s", text)
		},
	}
	m.mu.Unlock()

	go func() {
		if err := m.dispatcher.Serve(ln); err != nil {
			m.logger.Info("server loop stopped: %v", err)
		}
	}()

	if m.config.DumpInterval > 0 {
		m.startDumpLoop()
	}
	return nil
}

func (m *Manager) startDumpLoop() {
	m.stopDump = make(chan struct{})
	m.dumpDone = make(chan struct{})
	go func() {
		defer close(m.dumpDone)
		ticker := time.NewTicker(m.config.DumpInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.DumpDHT(); err != nil {
					m.logger.Warn("dht dump failed: %v", err)
				}
			case <-m.stopDump:
				return
			}
		}
	}()
}

// DumpDHT snapshots the DHT to the configured path.
func (m *Manager) DumpDHT() error {
	m.mu.Lock()
	path := m.config.DumpPath
	m.mu.Unlock()
	return m.dht.Dump(path)
}

// Close stops the listener, the dump loop, and releases every open
// torrent file handle.
func (m *Manager) Close() error {
	if m.stopDump != nil {
		close(m.stopDump)
		<-m.dumpDone
	}
	m.store.CloseAll()
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// Ping sends a PingRequest to addr and learns it in our DHT on success.
func (m *Manager) Ping(addr string) (uint32, error) {
	id, err := rpcclient.Ping(addr, m.timeouts(), m.selfPeer())
	if err != nil {
		return 0, err
	}
	m.dht.AddNode(peerid.NewPeerNode(id, peerid.TextAddr(addr)))
	return id, nil
}

// Bootstrap introduces us to the overlay through a single known peer:
// ping it to learn its id, then ask it for nodes close to our own id so
// our routing table gains a useful initial fan-out.
func (m *Manager) Bootstrap(addr string) error {
	id, err := m.Ping(addr)
	if err != nil {
		return fmt.Errorf("manager: bootstrap: ping: %w", err)
	}

	peers, err := rpcclient.FindNode(addr, m.timeouts(), m.selfPeer(), m.ownID)
	if err != nil {
		return fmt.Errorf("manager: bootstrap: find_node: %w", err)
	}
	for _, p := range peers {
		if p.ID == m.ownID {
			continue
		}
		m.dht.AddNode(peerid.NewPeerNode(p.ID, peerid.TextAddr(p.Addr)))
	}
	_ = id
	return nil
}

// FindNode issues a direct (non-iterative) FindNodeRequest to addr.
func (m *Manager) FindNode(addr string, target uint32) ([]wire.Peer, error) {
	return rpcclient.FindNode(addr, m.timeouts(), m.selfPeer(), target)
}

// StoreLocal stores a key/value pair in our own DHT, the entry point for
// the `store` operator command (the owning node of a key is reached
// through the lookup engine by other peers calling find-value).
func (m *Manager) StoreLocal(key uint32, value string) {
	m.dht.StoreValue(key, value)
}

// StoreRemote sends a StoreRequest to a specific peer.
func (m *Manager) StoreRemote(addr string, key uint32, value string) error {
	return rpcclient.Store(addr, m.timeouts(), m.selfPeer(), key, value)
}

// Message sends a MessageRequest to addr.
func (m *Manager) Message(addr, text string) error {
	return rpcclient.Message(addr, m.timeouts(), text)
}

// Peers returns every peer currently known to our routing table.
func (m *Manager) Peers() []peerid.PeerNode {
	return m.dht.GetClosestPeersFrom(m.ownID, 1<<20)
}

// OwnID returns this manager's peer identifier.
func (m *Manager) OwnID() uint32 { return m.ownID }

// setReuseAddrAndPort is a net.ListenConfig.Control callback that sets
// SO_REUSEADDR and SO_REUSEPORT on the listening socket, so a restarted
// seeder can rebind its port immediately instead of waiting out
// TIME_WAIT.
func setReuseAddrAndPort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
