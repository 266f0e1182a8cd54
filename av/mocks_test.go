package av

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

// stubIdentity reports a fixed identity, or err while err is set.
type stubIdentity struct {
	mu  sync.Mutex
	pub ed25519.PublicKey
	err error
}

func newStubIdentity(t *testing.T) *stubIdentity {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &stubIdentity{pub: pub}
}

func (s *stubIdentity) DID() string {
	return crypto.EncodeDIDKey(s.pub)
}

func (s *stubIdentity) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubIdentity) CreateIdentity(context.Context, string, string) error {
	return nil
}

func (s *stubIdentity) OwnIdentity(context.Context) (backend.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return backend.Identity{}, s.err
	}
	return backend.Identity{Username: "alice", DID: s.DID()}, nil
}

func (s *stubIdentity) PublicKey() (ed25519.PublicKey, error) {
	return s.pub, nil
}

func (s *stubIdentity) Close() error {
	return nil
}
