package messaging

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
	"github.com/opd-ai/accountd/discovery"
	"github.com/opd-ai/accountd/node"
	"github.com/stretchr/testify/require"
)

// staticKeys is a PublicKeySource with a fixed key.
type staticKeys struct {
	priv ed25519.PrivateKey
}

func (k staticKeys) PublicKey() (ed25519.PublicKey, error) {
	if k.priv == nil {
		return nil, backend.ErrNoIdentity
	}
	return k.priv.Public().(ed25519.PublicKey), nil
}

type peerUnderTest struct {
	node    *node.Node
	backend *Backend
	host    host.Host
	did     string
	priv    ed25519.PrivateKey
}

func newPeer(t *testing.T, opts ...Option) *peerUnderTest {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	n := node.New(node.Config{
		DataDir:     filepath.Join(t.TempDir(), "node"),
		Discovery:   discovery.Config{Kind: discovery.KindNone},
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	b := New(n, staticKeys{priv: priv}, opts...)
	t.Cleanup(func() {
		b.Close()
		n.Close()
	})

	require.NoError(t, n.Start(t.Context(), priv))
	select {
	case <-n.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("node not ready")
	}
	h, err := n.Host()
	require.NoError(t, err)

	return &peerUnderTest{
		node:    n,
		backend: b,
		host:    h,
		did:     crypto.EncodeDIDKey(priv.Public().(ed25519.PublicKey)),
		priv:    priv,
	}
}

// introduce lets from dial to.
func introduce(from, to *peerUnderTest) {
	from.host.Peerstore().AddAddrs(to.host.ID(), to.host.Addrs(), peerstore.PermanentAddrTTL)
}
