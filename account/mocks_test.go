package account

import (
	"context"
	"crypto/ed25519"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

// pollScript feeds OwnIdentity results. Once exhausted every poll succeeds.
type pollScript struct {
	mu      sync.Mutex
	results []error
	polls   int
}

func (p *pollScript) next() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func (p *pollScript) set(results ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
	p.polls = 0
}

func (p *pollScript) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// stubIdentity keeps the username in the secret store like a real backend.
type stubIdentity struct {
	store     *crypto.SecretStore
	script    *pollScript
	createErr error
	created   int
	closed    bool
}

func (s *stubIdentity) CreateIdentity(ctx context.Context, username, seedWords string) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created++
	return s.store.Set(crypto.KeypairEntry, []byte(username))
}

func (s *stubIdentity) OwnIdentity(ctx context.Context) (backend.Identity, error) {
	if err := s.script.next(); err != nil {
		return backend.Identity{}, err
	}
	name, err := s.store.Get(crypto.KeypairEntry)
	if err != nil {
		return backend.Identity{}, err
	}
	return backend.Identity{Username: string(name), ShortID: "0000beef"}, nil
}

func (s *stubIdentity) PublicKey() (ed25519.PublicKey, error) { return nil, backend.ErrNoIdentity }

func (s *stubIdentity) Close() error {
	s.closed = true
	return nil
}

// stubSubsystem satisfies the remaining capabilities with no behavior.
type stubSubsystem struct{}

func (stubSubsystem) Close() error { return nil }

func (stubSubsystem) Send(ctx context.Context, toDID, body string) (backend.Message, error) {
	return backend.Message{}, nil
}

func (stubSubsystem) Messages(ctx context.Context) ([]backend.Message, error) { return nil, nil }

func (stubSubsystem) Put(ctx context.Context, name string, r io.Reader) (backend.FileInfo, error) {
	return backend.FileInfo{}, nil
}

func (stubSubsystem) Get(ctx context.Context, name string) (io.ReadCloser, backend.FileInfo, error) {
	return nil, backend.FileInfo{}, nil
}

func (stubSubsystem) List(ctx context.Context) ([]backend.FileInfo, error) { return nil, nil }

func (stubSubsystem) Remove(ctx context.Context, name string) error { return nil }

func (stubSubsystem) Offer(ctx context.Context, peerDID string) (backend.Call, error) {
	return backend.Call{}, nil
}

func (stubSubsystem) Accept(ctx context.Context, peerDID, offerSDP string) (backend.Call, error) {
	return backend.Call{}, nil
}

func (stubSubsystem) Complete(ctx context.Context, callID, answerSDP string) error { return nil }

func (stubSubsystem) Hangup(ctx context.Context, callID string) error { return nil }

func (stubSubsystem) Calls() []backend.Call { return nil }

// builtWith records the state of a store at construction time.
type builtWith struct {
	store      *crypto.SecretStore
	hadKeypair bool
	unlocked   bool
}

type stubBuilder struct {
	mu         sync.Mutex
	script     *pollScript
	createErr  error
	failCore   error
	builds     []builtWith
	identities []*stubIdentity
}

func newStubBuilder() *stubBuilder {
	return &stubBuilder{script: &pollScript{}}
}

func (b *stubBuilder) BuildCore(ctx context.Context, store *crypto.SecretStore, cfg backend.Config) (backend.IdentityBackend, backend.MessagingBackend, backend.StorageBackend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCore != nil {
		return nil, nil, nil, b.failCore
	}
	b.builds = append(b.builds, builtWith{
		store:      store,
		hadKeypair: store.Exists(crypto.KeypairEntry),
		unlocked:   store.IsUnlocked(),
	})
	id := &stubIdentity{store: store, script: b.script, createErr: b.createErr}
	b.identities = append(b.identities, id)
	return id, stubSubsystem{}, stubSubsystem{}, nil
}

func (b *stubBuilder) BuildCalling(ctx context.Context, identity backend.IdentityBackend, cfg backend.Config) (backend.CallingBackend, error) {
	return stubSubsystem{}, nil
}

// fakeClock records sleeps and advances virtual time instead of sleeping.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

type countingObserver struct {
	mu         sync.Mutex
	overwrites int
	polls      int
	resets     int
}

func (o *countingObserver) AccountReset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
}

func (o *countingObserver) Overwrite() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overwrites++
}

func (o *countingObserver) ReadinessPoll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls++
}
