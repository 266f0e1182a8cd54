package node

import (
	"crypto/ed25519"
	"fmt"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/opd-ai/accountd/crypto"
)

// PeerIDFromPublicKey returns the libp2p peer ID of an account key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) (peer.ID, error) {
	key, err := p2pcrypto.UnmarshalEd25519PublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", crypto.ErrInvalidKey, err)
	}
	return peer.IDFromPublicKey(key)
}

// PeerIDFromDID returns the libp2p peer ID of a did:key.
func PeerIDFromDID(did string) (peer.ID, error) {
	pub, err := crypto.DecodeDIDKey(did)
	if err != nil {
		return "", err
	}
	return PeerIDFromPublicKey(pub)
}

// DIDFromPeerID is the inverse of PeerIDFromDID.
func DIDFromPeerID(id peer.ID) (string, error) {
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", crypto.ErrInvalidDID, err)
	}
	raw, err := pub.Raw()
	if err != nil {
		return "", fmt.Errorf("%w: %v", crypto.ErrInvalidDID, err)
	}
	if pub.Type() != p2pcrypto.Ed25519 || len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: peer %s is not an ed25519 key", crypto.ErrInvalidDID, id)
	}
	return crypto.EncodeDIDKey(ed25519.PublicKey(raw)), nil
}
