package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	quic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/discovery"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Namespace is the rendezvous namespace advertised on the DHT.
const Namespace = "accountd"

// AddrsFile lists the node's dialable addresses once it is ready.
const AddrsFile = "addrs"

var (
	// ErrAlreadyStarted indicates a second call to Start.
	ErrAlreadyStarted = errors.New("node already started")

	// ErrClosed indicates use of a closed node.
	ErrClosed = errors.New("node closed")

	// ErrPeerUnreachable indicates that no route to a peer is known.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// State is the lifecycle position of a node.
type State uint8

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the host settings derived from the backend configuration.
type Config struct {
	DataDir      string
	Discovery    discovery.Config
	Bootstrap    backend.BootstrapPolicy
	ListenAddrs  []string
	EnableQUIC   bool
	PortMapping  bool
	AgentVersion string
}

// ConfigFrom extracts the node settings from cfg.
func ConfigFrom(cfg backend.Config) Config {
	return Config{
		DataDir:      cfg.NodeDir(),
		Discovery:    cfg.Discovery,
		Bootstrap:    cfg.Bootstrap,
		ListenAddrs:  append([]string(nil), cfg.ListenAddrs...),
		EnableQUIC:   cfg.EnableQUIC,
		PortMapping:  cfg.PortMapping,
		AgentVersion: cfg.AgentVersion,
	}
}

// listenAddrs returns the configured addresses, or wildcard defaults,
// minus QUIC addresses when QUIC is disabled.
func (c Config) listenAddrs() []string {
	addrs := c.ListenAddrs
	if len(addrs) == 0 {
		addrs = []string{"/ip4/0.0.0.0/tcp/0", "/ip6/::/tcp/0"}
		if c.EnableQUIC {
			addrs = append(addrs, "/ip4/0.0.0.0/udp/0/quic-v1", "/ip6/::/udp/0/quic-v1")
		}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !c.EnableQUIC && strings.Contains(a, "/quic") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Node is a lazily started libp2p host.
type Node struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	err     error
	host    host.Host
	dht     *dht.IpfsDHT
	cancel  context.CancelFunc
	onReady []func(host.Host)
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

// New returns an idle node.
func New(cfg Config) *Node {
	return &Node{
		cfg:   cfg,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start builds the host in the background using priv as the peer identity.
// The node keeps running until Close even if ctx ends first; ctx only
// bounds the construction.
func (n *Node) Start(ctx context.Context, priv ed25519.PrivateKey) error {
	key, err := p2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("%w: %v", crypto.ErrInvalidKey, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if n.state != StateIdle {
		return ErrAlreadyStarted
	}
	n.state = StateStarting

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.cancel = cancel

	logrus.WithFields(logrus.Fields{
		"function":  "Start",
		"discovery": n.cfg.Discovery.Kind.String(),
		"quic":      n.cfg.EnableQUIC,
	}).Info("Starting node")

	go n.run(ctx, runCtx, key)
	return nil
}

func (n *Node) run(startCtx, runCtx context.Context, key p2pcrypto.PrivKey) {
	defer close(n.done)

	h, kdht, err := n.build(startCtx, runCtx, key)

	n.mu.Lock()
	if err == nil && n.closed {
		err = ErrClosed
	}
	if err != nil {
		n.state = StateFailed
		n.err = err
		n.mu.Unlock()
		if h != nil {
			closeHost(h, kdht)
		}
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Error("Node failed to start")
		return
	}
	n.host = h
	n.dht = kdht
	n.state = StateReady
	callbacks := n.onReady
	n.onReady = nil
	close(n.ready)
	n.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"peer_id":  h.ID().String(),
		"addrs":    len(h.Addrs()),
	}).Info("Node ready")

	n.writeAddrs(h)
	for _, fn := range callbacks {
		fn(h)
	}
}

func (n *Node) build(startCtx, runCtx context.Context, key p2pcrypto.PrivKey) (host.Host, *dht.IpfsDHT, error) {
	if err := startCtx.Err(); err != nil {
		return nil, nil, err
	}

	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(n.cfg.listenAddrs()...),
		libp2p.Transport(tcp.NewTCPTransport),
	}
	if n.cfg.EnableQUIC {
		opts = append(opts, libp2p.Transport(quic.NewTransport))
	}
	if n.cfg.PortMapping {
		opts = append(opts, libp2p.NATPortMap())
	}
	if n.cfg.AgentVersion != "" {
		opts = append(opts, libp2p.UserAgent(n.cfg.AgentVersion))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create libp2p host: %w", err)
	}

	kdht, err := startDiscovery(runCtx, h, n.cfg)
	if err != nil {
		return h, nil, err
	}
	return h, kdht, nil
}

func (n *Node) writeAddrs(h host.Host) {
	if n.cfg.DataDir == "" {
		return
	}
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
	if err != nil {
		return
	}
	lines := make([]string, 0, len(addrs))
	for _, a := range addrs {
		lines = append(lines, a.String())
	}
	if err := os.MkdirAll(n.cfg.DataDir, 0o700); err == nil {
		err = os.WriteFile(filepath.Join(n.cfg.DataDir, AddrsFile), []byte(strings.Join(lines, "\n")+"\n"), 0o600)
		if err == nil {
			return
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "writeAddrs",
		"dir":      n.cfg.DataDir,
	}).Warn("Failed to record node addresses")
}

// State returns the lifecycle state and, when failed, the start error.
func (n *Node) State() (State, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state, n.err
}

// Ready is closed when the node reaches StateReady.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Host returns the running host, backend.ErrNotAvailable while starting, or
// the start error.
func (n *Node) Host() (host.Host, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch {
	case n.closed:
		return nil, ErrClosed
	case n.state == StateReady:
		return n.host, nil
	case n.state == StateFailed:
		return nil, n.err
	default:
		return nil, backend.ErrNotAvailable
	}
}

// OnReady registers fn to run once the host is ready. If it already is, fn
// runs immediately on the calling goroutine.
func (n *Node) OnReady(fn func(host.Host)) {
	n.mu.Lock()
	if n.state != StateReady {
		n.onReady = append(n.onReady, fn)
		n.mu.Unlock()
		return
	}
	h := n.host
	n.mu.Unlock()
	fn(h)
}

// Connect makes sure a connection to id exists, looking the peer up on the
// DHT when its addresses are unknown.
func (n *Node) Connect(ctx context.Context, id peer.ID) error {
	h, err := n.Host()
	if err != nil {
		return err
	}
	if h.Network().Connectedness(id) == network.Connected {
		return nil
	}

	info := peer.AddrInfo{ID: id, Addrs: h.Peerstore().Addrs(id)}
	if len(info.Addrs) == 0 {
		n.mu.RLock()
		kdht := n.dht
		n.mu.RUnlock()
		if kdht == nil {
			return fmt.Errorf("%w: %s", ErrPeerUnreachable, id)
		}
		found, err := kdht.FindPeer(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, id, err)
		}
		info = found
	}
	if err := h.Connect(ctx, info); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, id, err)
	}
	return nil
}

// Close stops the host and any discovery. It waits for a pending start.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.state != StateIdle
	cancel := n.cancel
	n.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-n.done

	n.mu.Lock()
	h, kdht := n.host, n.dht
	n.host, n.dht = nil, nil
	n.mu.Unlock()
	if h == nil {
		return nil
	}
	return closeHost(h, kdht)
}

func closeHost(h host.Host, kdht *dht.IpfsDHT) error {
	var err error
	if kdht != nil {
		err = kdht.Close()
	}
	return multierr.Append(err, h.Close())
}
