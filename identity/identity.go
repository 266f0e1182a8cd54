package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/limits"
	"github.com/opd-ai/accountd/node"
	"github.com/sirupsen/logrus"
)

// Secret store entry names, besides crypto.KeypairEntry.
const (
	ProfileEntry = "profile"
	PhraseEntry  = "phrase"
)

// ErrIdentityExists indicates CreateIdentity on a store that already holds a keypair.
var ErrIdentityExists = errors.New("identity already exists")

type profile struct {
	Username       string    `json:"username"`
	StatusMessage  string    `json:"status_message,omitempty"`
	ProfilePicture []byte    `json:"profile_picture,omitempty"`
	Created        time.Time `json:"created"`
}

// Backend implements backend.IdentityBackend on top of a secret store and a
// node. It owns the node and closes it.
type Backend struct {
	store *crypto.SecretStore
	node  *node.Node
	cfg   backend.Config
	now   func() time.Time

	mu        sync.Mutex
	key       ed25519.PrivateKey
	profile   *profile
	announced bool
	closed    bool
}

// New returns a backend for store. When the store is unlocked and already
// holds an identity the node is started right away.
func New(ctx context.Context, store *crypto.SecretStore, n *node.Node, cfg backend.Config) (*Backend, error) {
	b := &Backend{store: store, node: n, cfg: cfg, now: time.Now}

	if !store.IsUnlocked() || !store.Exists(crypto.KeypairEntry) {
		return b, nil
	}

	key, p, err := b.load()
	if err != nil {
		return nil, err
	}
	b.key, b.profile = key, p
	if err := n.Start(ctx, key); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return b, nil
}

func (b *Backend) load() (ed25519.PrivateKey, *profile, error) {
	raw, err := b.store.Get(crypto.KeypairEntry)
	if err != nil {
		return nil, nil, err
	}
	key, err := crypto.ParsePrivateKey(raw)
	crypto.ZeroBytes(raw)
	if err != nil {
		return nil, nil, err
	}

	data, err := b.store.Get(ProfileEntry)
	if err != nil {
		return nil, nil, err
	}
	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: profile: %v", crypto.ErrDecode, err)
	}
	return key, &p, nil
}

// CreateIdentity derives the account key, stores it with the profile and
// starts the node. It returns before the node is ready.
func (b *Backend) CreateIdentity(ctx context.Context, username, seedWords string) error {
	if err := limits.ValidateUsername(username); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.ErrClosed
	}
	if !b.store.IsUnlocked() {
		return crypto.ErrLocked
	}
	if b.profile != nil || b.store.Exists(crypto.KeypairEntry) {
		return ErrIdentityExists
	}

	key, err := crypto.DeriveIdentityKey(seedWords)
	if err != nil {
		return err
	}
	did := crypto.EncodeDIDKey(key.Public().(ed25519.PublicKey))

	p := &profile{Username: username, Created: b.now().UTC()}
	if b.cfg.DefaultAvatar != nil {
		pic, err := b.cfg.DefaultAvatar(did, b.cfg.AvatarSize)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CreateIdentity",
				"error":    err.Error(),
			}).Warn("Failed to generate default profile picture")
		} else {
			p.ProfilePicture = pic
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := b.store.Set(crypto.KeypairEntry, key); err != nil {
		return err
	}
	if err := b.store.Set(ProfileEntry, data); err != nil {
		_ = b.store.Delete(crypto.KeypairEntry)
		return err
	}
	if b.cfg.SavePhrase {
		if normalized := crypto.NormalizeSeedWords(seedWords); normalized != "" {
			if err := b.store.Set(PhraseEntry, []byte(normalized)); err != nil {
				return err
			}
		}
	}

	b.key, b.profile = key, p

	logrus.WithFields(logrus.Fields{
		"function": "CreateIdentity",
		"username": username,
		"short_id": crypto.ShortID(key.Public().(ed25519.PublicKey)),
	}).Info("Identity created, starting node")

	return b.node.Start(ctx, key)
}

// OwnIdentity returns the identity once the node is ready.
func (b *Backend) OwnIdentity(ctx context.Context) (backend.Identity, error) {
	if err := ctx.Err(); err != nil {
		return backend.Identity{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return backend.Identity{}, backend.ErrClosed
	}
	if b.profile == nil {
		return backend.Identity{}, backend.ErrNoIdentity
	}

	state, err := b.node.State()
	switch state {
	case node.StateReady:
	case node.StateFailed:
		return backend.Identity{}, err
	default:
		return backend.Identity{}, backend.ErrNotAvailable
	}

	pub := b.key.Public().(ed25519.PublicKey)
	ident := backend.Identity{
		Username:       b.profile.Username,
		DID:            crypto.EncodeDIDKey(pub),
		ShortID:        crypto.ShortID(pub),
		StatusMessage:  b.profile.StatusMessage,
		ProfilePicture: append([]byte(nil), b.profile.ProfilePicture...),
		Created:        b.profile.Created,
	}

	if b.cfg.EmitOnlineEvent && !b.announced {
		b.announced = true
		logrus.WithFields(logrus.Fields{
			"function": "OwnIdentity",
			"did":      ident.DID,
		}).Info("Identity online")
	}
	return ident, nil
}

// PublicKey returns the account public key.
func (b *Backend) PublicKey() (ed25519.PublicKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.key == nil {
		return nil, backend.ErrNoIdentity
	}
	return b.key.Public().(ed25519.PublicKey), nil
}

// Close stops the node and wipes the in-memory key.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	key := b.key
	b.key = nil
	b.mu.Unlock()

	err := b.node.Close()
	if key != nil {
		crypto.WipePrivateKey(key)
	}
	return err
}
