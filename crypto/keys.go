package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
)

const (
	seedSalt = "accountd/identity-seed/v1"
	seedInfo = "ed25519"

	didKeyPrefix = "did:key:z"
)

// multicodec prefix for an Ed25519 public key (0xed, varint encoded).
var ed25519Multicodec = []byte{0xed, 0x01}

// NormalizeSeedWords lower-cases the phrase and collapses whitespace so that
// equivalent phrases derive the same key.
func NormalizeSeedWords(seedWords string) string {
	return strings.ToLower(strings.Join(strings.Fields(seedWords), " "))
}

// DeriveIdentityKey derives the account Ed25519 key from a seed phrase using
// HKDF-SHA256. An empty phrase yields a random key.
func DeriveIdentityKey(seedWords string) (ed25519.PrivateKey, error) {
	normalized := NormalizeSeedWords(seedWords)
	if normalized == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		return priv, nil
	}

	secret := []byte(normalized)
	defer ZeroBytes(secret)

	seed := make([]byte, ed25519.SeedSize)
	defer ZeroBytes(seed)
	kdf := hkdf.New(sha256.New, secret, []byte(seedSalt), []byte(seedInfo))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("derive identity seed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// ParsePrivateKey validates raw Ed25519 private key bytes read from the store.
func ParsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrInvalidKey, len(raw), ed25519.PrivateKeySize)
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, raw)
	return key, nil
}

// EncodeDIDKey returns the did:key form of an Ed25519 public key.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return didKeyPrefix + base58.Encode(buf)
}

// DecodeDIDKey parses an Ed25519 did:key.
func DecodeDIDKey(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}
	raw, err := base58.Decode(strings.TrimPrefix(did, didKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidDID)
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// ShortID returns the last 8 hex characters of a public key, used as a
// human-friendly discriminator next to the username.
func ShortID(pub ed25519.PublicKey) string {
	h := hex.EncodeToString(pub)
	if len(h) < 8 {
		return h
	}
	return h[len(h)-8:]
}
