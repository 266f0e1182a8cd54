package backend

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/accountd/crypto"
)

// fakeHandle implements every capability and records the build that made it.
type fakeHandle struct {
	build    int64
	closed   atomic.Bool
	closeErr error
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return h.closeErr
}

func (h *fakeHandle) CreateIdentity(ctx context.Context, username, seedWords string) error {
	return nil
}

func (h *fakeHandle) OwnIdentity(ctx context.Context) (Identity, error) {
	return Identity{Username: "alice"}, nil
}

func (h *fakeHandle) PublicKey() (ed25519.PublicKey, error) { return nil, ErrNoIdentity }

func (h *fakeHandle) Send(ctx context.Context, toDID, body string) (Message, error) {
	return Message{To: toDID, Body: body, Outgoing: true}, nil
}

func (h *fakeHandle) Messages(ctx context.Context) ([]Message, error) { return nil, nil }

func (h *fakeHandle) Put(ctx context.Context, name string, r io.Reader) (FileInfo, error) {
	return FileInfo{Name: name}, nil
}

func (h *fakeHandle) Get(ctx context.Context, name string) (io.ReadCloser, FileInfo, error) {
	return io.NopCloser(nil), FileInfo{Name: name}, nil
}

func (h *fakeHandle) List(ctx context.Context) ([]FileInfo, error) { return nil, nil }

func (h *fakeHandle) Remove(ctx context.Context, name string) error { return nil }

func (h *fakeHandle) Offer(ctx context.Context, peerDID string) (Call, error) {
	return Call{PeerDID: peerDID}, nil
}

func (h *fakeHandle) Accept(ctx context.Context, peerDID, offerSDP string) (Call, error) {
	return Call{PeerDID: peerDID}, nil
}

func (h *fakeHandle) Complete(ctx context.Context, callID, answerSDP string) error { return nil }

func (h *fakeHandle) Hangup(ctx context.Context, callID string) error { return nil }

func (h *fakeHandle) Calls() []Call { return nil }

// fakeBuilder hands out fakeHandles and can be told to fail.
type fakeBuilder struct {
	mu          sync.Mutex
	builds      int64
	failCore    error
	failCalling error
	partialCore bool
	stores      []*crypto.SecretStore
	handles     []*fakeHandle
}

func (b *fakeBuilder) newHandle(build int64) *fakeHandle {
	h := &fakeHandle{build: build}
	b.handles = append(b.handles, h)
	return h
}

func (b *fakeBuilder) BuildCore(ctx context.Context, store *crypto.SecretStore, cfg Config) (IdentityBackend, MessagingBackend, StorageBackend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stores = append(b.stores, store)
	if b.failCore != nil {
		if b.partialCore {
			return b.newHandle(-1), b.newHandle(-1), nil, b.failCore
		}
		return nil, nil, nil, b.failCore
	}
	b.builds++
	return b.newHandle(b.builds), b.newHandle(b.builds), b.newHandle(b.builds), nil
}

func (b *fakeBuilder) BuildCalling(ctx context.Context, identity IdentityBackend, cfg Config) (CallingBackend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCalling != nil {
		return nil, b.failCalling
	}
	return b.newHandle(identity.(*fakeHandle).build), nil
}

func (b *fakeBuilder) setFailures(core, calling error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCore = core
	b.failCalling = calling
}

func (b *fakeBuilder) allHandles() []*fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeHandle(nil), b.handles...)
}

var errBuild = errors.New("build exploded")
