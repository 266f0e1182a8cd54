package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"filippo.io/age"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// StoreVersion is the current secret store file format version.
	StoreVersion = 1

	// KeypairEntry is the well-known entry name holding the account keypair.
	// Its presence means an account already exists.
	KeypairEntry = "keypair"

	// DefaultScryptWorkFactor is the age scrypt log2(N) used to seal the data key.
	DefaultScryptWorkFactor = 18

	dataKeySize = 32
	nonceSize   = 24
)

// storeFile is the on-disk representation. Entry names are kept in clear so
// existence checks work while the store is locked.
type storeFile struct {
	Version   int               `json:"version"`
	SealedKey string            `json:"sealed_key,omitempty"`
	Entries   map[string]string `json:"entries"`
}

// SecretStore is an encrypted key-value file protected by a passphrase.
//
// Values are sealed with a random 32-byte data key using NaCl secretbox. The
// data key is sealed with the passphrase using an age scrypt recipient. A
// store that has never been unlocked has no sealed key and adopts the first
// passphrase it is unlocked with.
type SecretStore struct {
	mu         sync.RWMutex
	dir        string
	path       string
	file       storeFile
	dataKey    *[dataKeySize]byte
	workFactor int
}

// StoreOption configures a SecretStore at open time.
type StoreOption func(*SecretStore)

// WithScryptWorkFactor overrides the scrypt work factor used when sealing a
// new data key. Lower values are only suitable for tests.
func WithScryptWorkFactor(logN int) StoreOption {
	return func(s *SecretStore) {
		if logN > 0 {
			s.workFactor = logN
		}
	}
}

// OpenOrCreate opens the store file dir/filename, creating the directory and
// an empty store when they do not exist. The returned store is locked.
func OpenOrCreate(dir, filename string, opts ...StoreOption) (*SecretStore, error) {
	logrus.WithFields(logrus.Fields{
		"function": "OpenOrCreate",
		"dir":      dir,
		"filename": filename,
	}).Debug("Opening secret store")

	if filename == "" || filepath.Base(filename) != filename {
		return nil, fmt.Errorf("%w: invalid store filename %q", ErrStorage, filename)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", ErrStorage, err)
	}

	s := &SecretStore{
		dir:        dir,
		path:       filepath.Join(dir, filename),
		workFactor: DefaultScryptWorkFactor,
		file: storeFile{
			Version: StoreVersion,
			Entries: make(map[string]string),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "OpenOrCreate",
			"path":     s.path,
		}).Info("Created empty secret store")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("%w: read store file: %v", ErrStorage, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: corrupt store file %s: %v", ErrStorage, s.path, err)
	}
	if file.Version != StoreVersion {
		return nil, fmt.Errorf("%w: unsupported store version %d (expected %d)", ErrStorage, file.Version, StoreVersion)
	}
	if file.Entries == nil {
		file.Entries = make(map[string]string)
	}
	s.file = file

	logrus.WithFields(logrus.Fields{
		"function": "OpenOrCreate",
		"path":     s.path,
		"entries":  len(file.Entries),
		"sealed":   file.SealedKey != "",
	}).Debug("Opened existing secret store")

	return s, nil
}

// Path returns the backing file path.
func (s *SecretStore) Path() string {
	return s.path
}

// Exists reports whether an entry is present. It does not require the store
// to be unlocked.
func (s *SecretStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.file.Entries[name]
	return ok
}

// Names returns the sorted entry names.
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.file.Entries))
	for name := range s.file.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsUnlocked reports whether the data key is held in memory.
func (s *SecretStore) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataKey != nil
}

// HasPassphrase reports whether the store has been sealed with a passphrase.
func (s *SecretStore) HasPassphrase() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.SealedKey != ""
}

// Unlock opens the data key with passphrase. On a store without a sealed key
// a new data key is generated, sealed with passphrase and persisted.
//
// Returns ErrAuthenticationFailed for a wrong passphrase and ErrDecode when
// the sealed key cannot be parsed.
func (s *SecretStore) Unlock(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty passphrase", ErrAuthenticationFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file.SealedKey == "" {
		return s.initializeLocked(passphrase)
	}

	key, err := openDataKey(s.file.SealedKey, passphrase)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SecretStore.Unlock",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Secret store unlock failed")
		return err
	}
	s.replaceKeyLocked(key)

	logrus.WithFields(logrus.Fields{
		"function": "SecretStore.Unlock",
		"path":     s.path,
	}).Info("Secret store unlocked")
	return nil
}

func (s *SecretStore) initializeLocked(passphrase string) error {
	key := new([dataKeySize]byte)
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return fmt.Errorf("%w: generate data key: %v", ErrStorage, err)
	}

	sealed, err := sealDataKey(key, passphrase, s.workFactor)
	if err != nil {
		ZeroBytes(key[:])
		return err
	}

	s.file.SealedKey = sealed
	if err := s.persistLocked(); err != nil {
		s.file.SealedKey = ""
		ZeroBytes(key[:])
		return err
	}
	s.replaceKeyLocked(key)

	logrus.WithFields(logrus.Fields{
		"function":    "SecretStore.Unlock",
		"path":        s.path,
		"work_factor": s.workFactor,
	}).Info("Secret store initialized with new passphrase")
	return nil
}

// Lock wipes the data key from memory. Entries stay on disk.
func (s *SecretStore) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceKeyLocked(nil)

	logrus.WithFields(logrus.Fields{
		"function": "SecretStore.Lock",
		"path":     s.path,
	}).Info("Secret store locked")
}

func (s *SecretStore) replaceKeyLocked(key *[dataKeySize]byte) {
	if s.dataKey != nil {
		ZeroBytes(s.dataKey[:])
	}
	s.dataKey = key
}

// Get decrypts the entry called name.
func (s *SecretStore) Get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dataKey == nil {
		return nil, ErrLocked
	}
	encoded, ok := s.file.Entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", ErrDecode, name, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: entry %s too short (%d bytes)", ErrDecode, name, len(raw))
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.dataKey)
	if !ok {
		return nil, fmt.Errorf("%w: entry %s failed authentication", ErrDecode, name)
	}
	return plaintext, nil
}

// Set encrypts value under name and persists the store.
func (s *SecretStore) Set(name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("%w: empty entry name", ErrStorage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataKey == nil {
		return ErrLocked
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("%w: generate nonce: %v", ErrStorage, err)
	}
	sealed := secretbox.Seal(nonce[:], value, &nonce, s.dataKey)

	previous, existed := s.file.Entries[name]
	s.file.Entries[name] = base64.StdEncoding.EncodeToString(sealed)
	if err := s.persistLocked(); err != nil {
		if existed {
			s.file.Entries[name] = previous
		} else {
			delete(s.file.Entries, name)
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SecretStore.Set",
		"entry":    name,
		"size":     len(value),
	}).Debug("Secret store entry written")
	return nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *SecretStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataKey == nil {
		return ErrLocked
	}
	previous, ok := s.file.Entries[name]
	if !ok {
		return nil
	}
	delete(s.file.Entries, name)
	if err := s.persistLocked(); err != nil {
		s.file.Entries[name] = previous
		return err
	}
	return nil
}

// persistLocked writes the store atomically using a temporary file + rename.
func (s *SecretStore) persistLocked() error {
	data, err := json.MarshalIndent(&s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode store: %v", ErrStorage, err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("%w: write temporary file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("%w: rename store file: %v", ErrStorage, err)
	}
	return nil
}

// sealDataKey encrypts key to an age scrypt recipient derived from passphrase.
func sealDataKey(key *[dataKeySize]byte, passphrase string, workFactor int) (string, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("%w: scrypt recipient: %v", ErrStorage, err)
	}
	recipient.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("%w: age encryptor: %v", ErrStorage, err)
	}
	if _, err := w.Write(key[:]); err != nil {
		return "", fmt.Errorf("%w: seal data key: %v", ErrStorage, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: finalize sealed key: %v", ErrStorage, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// openDataKey reverses sealDataKey.
func openDataKey(sealed, passphrase string) (*[dataKeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed key encoding: %v", ErrDecode, err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) || errors.Is(err, age.ErrIncorrectIdentity) {
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("%w: sealed key: %v", ErrDecode, err)
	}

	plaintext, err := io.ReadAll(io.LimitReader(r, dataKeySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: sealed key payload: %v", ErrDecode, err)
	}
	defer ZeroBytes(plaintext)
	if len(plaintext) != dataKeySize {
		return nil, fmt.Errorf("%w: data key is %d bytes, want %d", ErrDecode, len(plaintext), dataKeySize)
	}

	key := new([dataKeySize]byte)
	copy(key[:], plaintext)
	return key, nil
}
