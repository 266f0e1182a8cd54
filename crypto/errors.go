package crypto

import "errors"

// Sentinel errors for secret store and key operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrStorage indicates the store file or its directory could not be
	// read, written or parsed.
	ErrStorage = errors.New("secret store storage error")

	// ErrAuthenticationFailed indicates a wrong passphrase.
	ErrAuthenticationFailed = errors.New("secret store authentication failed")

	// ErrDecode indicates corrupted ciphertext in the store.
	ErrDecode = errors.New("secret store decode error")

	// ErrLocked indicates an operation that needs the data key on a locked store.
	ErrLocked = errors.New("secret store is locked")

	// ErrNotFound indicates a missing store entry.
	ErrNotFound = errors.New("secret store entry not found")
)

// Key encoding errors.
var (
	// ErrInvalidDID indicates a string that is not an Ed25519 did:key.
	ErrInvalidDID = errors.New("invalid did:key")

	// ErrInvalidKey indicates key material of the wrong size or format.
	ErrInvalidKey = errors.New("invalid key material")
)
