package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/accountd/crypto"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// slot guards one subsystem handle and the generation that produced it.
type slot[T any] struct {
	mu         sync.Mutex
	handle     T
	generation uint64
	closed     bool
}

func (s *slot[T]) with(fn func(T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.handle)
}

// Generations reports the generation tag of each slot.
type Generations struct {
	Identity  uint64 `json:"identity"`
	Messaging uint64 `json:"messaging"`
	Storage   uint64 `json:"storage"`
	Calling   uint64 `json:"calling"`
}

// Consistent reports whether all four slots carry the same tag.
func (g Generations) Consistent() bool {
	return g.Identity == g.Messaging && g.Messaging == g.Storage && g.Storage == g.Calling
}

// generation is one complete set of handles.
type generation struct {
	identity  IdentityBackend
	messaging MessagingBackend
	storage   StorageBackend
	calling   CallingBackend
}

// Bundle owns one handle per capability. All methods are safe for concurrent use.
type Bundle struct {
	identity  slot[IdentityBackend]
	messaging slot[MessagingBackend]
	storage   slot[StorageBackend]
	calling   slot[CallingBackend]

	builder Builder
	cfg     Config

	// counter is only advanced while every slot lock is held.
	counter uint64
}

// New constructs the first generation of handles.
func New(ctx context.Context, builder Builder, store *crypto.SecretStore, cfg Config) (*Bundle, error) {
	if builder == nil {
		return nil, fmt.Errorf("%w: nil builder", ErrConstruction)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	b := &Bundle{builder: builder, cfg: cfg}
	gen, err := b.build(ctx, store)
	if err != nil {
		return nil, err
	}
	if _, err := b.install(gen); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"generation": b.counter,
		"discovery":  cfg.Discovery.Kind.String(),
	}).Info("Backend bundle constructed")
	return b, nil
}

// build constructs a complete generation, closing partial results on failure.
func (b *Bundle) build(ctx context.Context, store *crypto.SecretStore) (*generation, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil secret store", ErrConstruction)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	identity, messaging, storage, err := b.builder.BuildCore(ctx, store, b.cfg)
	if err != nil {
		closeQuietly("BuildCore", identity, messaging, storage)
		return nil, fmt.Errorf("%w: core: %w", ErrConstruction, err)
	}
	if identity == nil || messaging == nil || storage == nil {
		closeQuietly("BuildCore", identity, messaging, storage)
		return nil, fmt.Errorf("%w: core builder returned a nil handle", ErrConstruction)
	}

	calling, err := b.builder.BuildCalling(ctx, identity, b.cfg)
	if err == nil && calling == nil {
		err = errors.New("calling builder returned a nil handle")
	}
	if err != nil {
		closeQuietly("BuildCalling", calling, storage, messaging, identity)
		return nil, fmt.Errorf("%w: calling: %w", ErrConstruction, err)
	}

	return &generation{identity: identity, messaging: messaging, storage: storage, calling: calling}, nil
}

// lockAll acquires every slot in the fixed order.
func (b *Bundle) lockAll() {
	b.identity.mu.Lock()
	b.messaging.mu.Lock()
	b.storage.mu.Lock()
	b.calling.mu.Lock()
}

func (b *Bundle) unlockAll() {
	b.calling.mu.Unlock()
	b.storage.mu.Unlock()
	b.messaging.mu.Unlock()
	b.identity.mu.Unlock()
}

// install swaps gen in and returns the previous generation. The bundle must
// not be closed.
func (b *Bundle) install(gen *generation) (*generation, error) {
	b.lockAll()
	defer b.unlockAll()

	if b.identity.closed {
		return nil, ErrClosed
	}

	prev := &generation{
		identity:  b.identity.handle,
		messaging: b.messaging.handle,
		storage:   b.storage.handle,
		calling:   b.calling.handle,
	}

	b.counter++
	b.identity.handle, b.identity.generation = gen.identity, b.counter
	b.messaging.handle, b.messaging.generation = gen.messaging, b.counter
	b.storage.handle, b.storage.generation = gen.storage, b.counter
	b.calling.handle, b.calling.generation = gen.calling, b.counter
	return prev, nil
}

// Reinit replaces every handle with a generation built against store. The new
// generation is fully constructed before any lock is taken; on failure the
// current generation is left untouched.
func (b *Bundle) Reinit(ctx context.Context, store *crypto.SecretStore) error {
	gen, err := b.build(ctx, store)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reinit",
			"error":    err.Error(),
		}).Warn("Reinit construction failed, keeping current generation")
		return err
	}

	prev, err := b.install(gen)
	if err != nil {
		closeQuietly("Reinit", gen.calling, gen.storage, gen.messaging, gen.identity)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Reinit",
		"generation": b.Generations().Identity,
	}).Info("Backend bundle reinitialized")

	closeQuietly("Reinit", prev.calling, prev.storage, prev.messaging, prev.identity)
	return nil
}

// WithIdentity runs fn while holding the identity slot lock.
func (b *Bundle) WithIdentity(fn func(IdentityBackend) error) error {
	return b.identity.with(fn)
}

// WithMessaging runs fn while holding the messaging slot lock.
func (b *Bundle) WithMessaging(fn func(MessagingBackend) error) error {
	return b.messaging.with(fn)
}

// WithStorage runs fn while holding the storage slot lock.
func (b *Bundle) WithStorage(fn func(StorageBackend) error) error {
	return b.storage.with(fn)
}

// WithCalling runs fn while holding the calling slot lock.
func (b *Bundle) WithCalling(fn func(CallingBackend) error) error {
	return b.calling.with(fn)
}

// Generations returns the current tag of each slot, read under all locks.
func (b *Bundle) Generations() Generations {
	b.lockAll()
	defer b.unlockAll()
	return Generations{
		Identity:  b.identity.generation,
		Messaging: b.messaging.generation,
		Storage:   b.storage.generation,
		Calling:   b.calling.generation,
	}
}

// Config returns a copy of the construction configuration.
func (b *Bundle) Config() Config {
	return b.cfg.withDefaults()
}

// Close closes every handle. Later accessor calls return ErrClosed.
func (b *Bundle) Close() error {
	b.lockAll()
	if b.identity.closed {
		b.unlockAll()
		return nil
	}
	gen := generation{
		identity:  b.identity.handle,
		messaging: b.messaging.handle,
		storage:   b.storage.handle,
		calling:   b.calling.handle,
	}
	b.identity.closed = true
	b.messaging.closed = true
	b.storage.closed = true
	b.calling.closed = true
	b.unlockAll()

	return closeAll(gen.calling, gen.storage, gen.messaging, gen.identity)
}

type closer interface {
	Close() error
}

// closeAll closes every non-nil handle and combines the errors.
func closeAll(handles ...closer) error {
	var err error
	for _, h := range handles {
		if h == nil {
			continue
		}
		err = multierr.Append(err, h.Close())
	}
	return err
}

func closeQuietly(op string, handles ...closer) {
	if err := closeAll(handles...); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "closeQuietly",
			"operation": op,
			"errors":    len(multierr.Errors(err)),
			"error":     err.Error(),
		}).Warn("Errors while closing backend handles")
	}
}
