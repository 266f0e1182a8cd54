package messaging

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/limits"
	"github.com/opd-ai/accountd/node"
	"github.com/sirupsen/logrus"
)

// ProtocolID identifies the message stream protocol.
const ProtocolID = protocol.ID("/accountd/message/1.0.0")

// DefaultHistorySize bounds the in-memory message history.
const DefaultHistorySize = 1024

// streamTimeout bounds one exchange when the caller's context has no deadline.
const streamTimeout = 30 * time.Second

var (
	// ErrSelfMessage indicates a message addressed to the local account.
	ErrSelfMessage = errors.New("cannot message self")

	// ErrNotAcknowledged indicates that the peer did not confirm receipt.
	ErrNotAcknowledged = errors.New("message not acknowledged")
)

// PublicKeySource provides the account public key. IdentityBackend satisfies it.
type PublicKeySource interface {
	PublicKey() (ed25519.PublicKey, error)
}

// Option configures a Backend.
type Option func(*Backend)

// WithHistorySize overrides DefaultHistorySize.
func WithHistorySize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// Backend implements backend.MessagingBackend.
type Backend struct {
	node *node.Node
	keys PublicKeySource
	now  func() time.Time

	mu          sync.Mutex
	history     []backend.Message
	historySize int
	host        host.Host
	closed      bool
}

// New returns a backend that starts serving once n is ready.
func New(n *node.Node, keys PublicKeySource, opts ...Option) *Backend {
	b := &Backend{
		node:        n,
		keys:        keys,
		now:         time.Now,
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	n.OnReady(b.attach)
	return b
}

func (b *Backend) attach(h host.Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.host = h
	h.SetStreamHandler(ProtocolID, b.handleStream)
	logrus.WithFields(logrus.Fields{
		"function": "attach",
		"protocol": string(ProtocolID),
	}).Debug("Message handler registered")
}

func (b *Backend) ownDID() (string, error) {
	pub, err := b.keys.PublicKey()
	if err != nil {
		return "", err
	}
	return crypto.EncodeDIDKey(pub), nil
}

// Send delivers body to toDID and waits for the acknowledgement.
func (b *Backend) Send(ctx context.Context, toDID, body string) (backend.Message, error) {
	if err := limits.ValidateMessage([]byte(body)); err != nil {
		return backend.Message{}, err
	}
	h, err := b.node.Host()
	if err != nil {
		return backend.Message{}, err
	}
	from, err := b.ownDID()
	if err != nil {
		return backend.Message{}, err
	}
	if toDID == from {
		return backend.Message{}, ErrSelfMessage
	}
	pid, err := node.PeerIDFromDID(toDID)
	if err != nil {
		return backend.Message{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, streamTimeout)
		defer cancel()
	}
	if err := b.node.Connect(ctx, pid); err != nil {
		return backend.Message{}, err
	}

	s, err := h.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return backend.Message{}, fmt.Errorf("open message stream: %w", err)
	}
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	f := frame{ID: uuid.NewString(), From: from, Body: body, Sent: b.now().UTC()}
	if err := writeFrame(s, f); err != nil {
		s.Reset()
		return backend.Message{}, fmt.Errorf("write message: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		s.Reset()
		return backend.Message{}, fmt.Errorf("write message: %w", err)
	}

	var a ack
	if err := readFrame(s, frameOverhead, &a); err != nil || a.ID != f.ID {
		s.Reset()
		return backend.Message{}, fmt.Errorf("%w: %s", ErrNotAcknowledged, f.ID)
	}

	msg := backend.Message{ID: f.ID, From: from, To: toDID, Body: body, Sent: f.Sent, Outgoing: true}
	b.record(msg)
	return msg, nil
}

func (b *Backend) handleStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(streamTimeout))

	logger := logrus.WithFields(logrus.Fields{
		"function": "handleStream",
		"peer":     s.Conn().RemotePeer().String(),
	})

	var f frame
	if err := readFrame(s, limits.MaxMessage+frameOverhead, &f); err != nil {
		logger.WithField("error", err.Error()).Debug("Dropping unreadable message frame")
		s.Reset()
		return
	}
	if err := limits.ValidateMessage([]byte(f.Body)); err != nil || f.ID == "" {
		logger.Debug("Dropping invalid message")
		s.Reset()
		return
	}
	sender, err := node.PeerIDFromDID(f.From)
	if err != nil || sender != s.Conn().RemotePeer() {
		logger.WithField("claimed", f.From).Warn("Dropping message with mismatched sender")
		s.Reset()
		return
	}

	to, _ := b.ownDID()
	b.record(backend.Message{ID: f.ID, From: f.From, To: to, Body: f.Body, Sent: f.Sent})

	if err := writeFrame(s, ack{ID: f.ID}); err != nil {
		logger.WithField("error", err.Error()).Debug("Failed to acknowledge message")
	}
}

func (b *Backend) record(msg backend.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, msg)
	if over := len(b.history) - b.historySize; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// Messages returns the history, oldest first.
func (b *Backend) Messages(ctx context.Context) ([]backend.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := b.node.Host(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Message(nil), b.history...), nil
}

// Close unregisters the stream handler. The node itself belongs to the
// identity backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.host != nil {
		b.host.RemoveStreamHandler(ProtocolID)
	}
	return nil
}
