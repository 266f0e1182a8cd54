package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/limits"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the delay between readiness polls.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultStoreFilename is the secret store file inside the storage root.
const DefaultStoreFilename = "keystore.json"

// Options configures a Manager. Bundle and Store are required; the bundle
// must have been built against Store.
type Options struct {
	Bundle *backend.Bundle
	Store  *crypto.SecretStore

	AccountRoot   string
	StorageRoot   string
	StoreFilename string
	StoreOptions  []crypto.StoreOption

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// MaxPollAttempts bounds readiness polling. Zero means unbounded.
	MaxPollAttempts int
	// ReadinessTimeout bounds the readiness wait. Zero means none.
	ReadinessTimeout time.Duration

	Clock    Clock
	Observer Observer
}

// Manager serializes access to the secret store and drives identity creation.
type Manager struct {
	storeMu sync.Mutex
	store   *crypto.SecretStore
	// built is the store the bundle's current generation was built against.
	// It differs from store after a failed rebuild.
	built *crypto.SecretStore

	bundle *backend.Bundle

	accountRoot   string
	storageRoot   string
	storeFilename string
	storeOptions  []crypto.StoreOption

	pollInterval     time.Duration
	maxPollAttempts  int
	readinessTimeout time.Duration

	clock    Clock
	observer Observer
}

// New returns a Manager for opts, applying defaults to unset fields.
func New(opts Options) *Manager {
	m := &Manager{
		store:            opts.Store,
		built:            opts.Store,
		bundle:           opts.Bundle,
		accountRoot:      opts.AccountRoot,
		storageRoot:      opts.StorageRoot,
		storeFilename:    opts.StoreFilename,
		storeOptions:     append([]crypto.StoreOption(nil), opts.StoreOptions...),
		pollInterval:     opts.PollInterval,
		maxPollAttempts:  opts.MaxPollAttempts,
		readinessTimeout: opts.ReadinessTimeout,
		clock:            opts.Clock,
		observer:         opts.Observer,
	}
	if m.storeFilename == "" {
		m.storeFilename = DefaultStoreFilename
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.maxPollAttempts < 0 {
		m.maxPollAttempts = 0
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	return m
}

// Store returns the current secret store. It changes after an overwrite.
func (m *Manager) Store() *crypto.SecretStore {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.store
}

// CreateIdentity creates a new account identity, replacing any existing one,
// and waits until the identity backend reports it.
func (m *Manager) CreateIdentity(ctx context.Context, username, passphrase, seedWords string) (backend.Identity, error) {
	if err := validateCreate(username, passphrase, seedWords); err != nil {
		return backend.Identity{}, err
	}

	if err := m.prepareStore(ctx, passphrase); err != nil {
		return backend.Identity{}, err
	}

	err := m.bundle.WithIdentity(func(id backend.IdentityBackend) error {
		return id.CreateIdentity(ctx, username, seedWords)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CreateIdentity",
			"username": username,
			"error":    err.Error(),
		}).Error("Identity backend rejected the new identity")
		return backend.Identity{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return m.awaitReadiness(ctx)
}

func validateCreate(username, passphrase, seedWords string) error {
	for _, err := range []error{
		limits.ValidateUsername(username),
		limits.ValidatePassphrase(passphrase),
		limits.ValidateSeedWords(seedWords),
	} {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return nil
}

// prepareStore runs the inspect, overwrite and unlock steps under the store
// mutex.
func (m *Manager) prepareStore(ctx context.Context, passphrase string) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case m.store.Exists(crypto.KeypairEntry):
		if err := m.overwriteLocked(ctx); err != nil {
			return err
		}
	case m.built != m.store:
		if err := m.rebuildLocked(ctx); err != nil {
			return err
		}
	}

	if err := m.store.Unlock(passphrase); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "prepareStore",
			"path":     m.store.Path(),
			"error":    err.Error(),
		}).Warn("Failed to unlock secret store")
		return fmt.Errorf("unlock secret store: %w", err)
	}
	return nil
}

// overwriteLocked replaces the account with an empty one. m.storeMu must be held.
func (m *Manager) overwriteLocked(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function":     "overwriteLocked",
		"account_root": m.accountRoot,
	}).Info("Existing account found, overwriting")
	m.observer.Overwrite()

	// The previous store must never be reused, even if the rebuild fails.
	m.store.Lock()

	fresh, err := ResetStore(ctx, m.accountRoot, m.storageRoot, m.storeFilename, m.storeOptions...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOverwrite, err)
	}
	m.store = fresh
	if o, ok := m.observer.(ResetObserver); ok {
		o.AccountReset()
	}

	return m.rebuildLocked(ctx)
}

// rebuildLocked builds a new bundle generation against m.store. A failure
// leaves m.built pointing at the previous store so the next request retries.
// m.storeMu must be held.
func (m *Manager) rebuildLocked(ctx context.Context) error {
	if err := m.bundle.Reinit(ctx, m.store); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rebuildLocked",
			"error":    err.Error(),
		}).Error("Failed to rebuild backends for the fresh store")
		return fmt.Errorf("%w: %w", ErrOverwrite, err)
	}
	m.built = m.store
	return nil
}

// awaitReadiness polls the identity backend until it reports the identity.
func (m *Manager) awaitReadiness(ctx context.Context) (backend.Identity, error) {
	var deadline time.Time
	if m.readinessTimeout > 0 {
		deadline = m.clock.Now().Add(m.readinessTimeout)
	}

	for attempt := 1; ; attempt++ {
		ident, err := m.ownIdentity(ctx)
		m.observer.ReadinessPoll()

		switch {
		case err == nil:
			logrus.WithFields(logrus.Fields{
				"function": "awaitReadiness",
				"username": ident.Username,
				"short_id": ident.ShortID,
				"attempts": attempt,
			}).Info("Identity ready")
			return ident, nil

		case ctx.Err() != nil:
			return backend.Identity{}, fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())

		case !errors.Is(err, backend.ErrNotAvailable):
			m.seal()
			logrus.WithFields(logrus.Fields{
				"function": "awaitReadiness",
				"attempts": attempt,
				"error":    err.Error(),
			}).Error("Identity failed to become ready, secret store sealed")
			return backend.Identity{}, fmt.Errorf("%w: %w", ErrReadiness, err)
		}

		if m.maxPollAttempts > 0 && attempt >= m.maxPollAttempts {
			return backend.Identity{}, fmt.Errorf("%w: gave up after %d attempts", ErrNotReady, attempt)
		}
		if !deadline.IsZero() && !m.clock.Now().Before(deadline) {
			return backend.Identity{}, fmt.Errorf("%w: timed out after %s", ErrNotReady, m.readinessTimeout)
		}
		if err := m.clock.Sleep(ctx, m.pollInterval); err != nil {
			return backend.Identity{}, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
	}
}

func (m *Manager) ownIdentity(ctx context.Context) (backend.Identity, error) {
	var ident backend.Identity
	err := m.bundle.WithIdentity(func(id backend.IdentityBackend) error {
		var err error
		ident, err = id.OwnIdentity(ctx)
		return err
	})
	return ident, err
}

// seal locks the current secret store.
func (m *Manager) seal() {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	m.store.Lock()
}
