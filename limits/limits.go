// Package limits provides centralized input limits for account operations.
// This ensures consistent validation across the request surface, the account
// manager and the subsystem backends.
package limits

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinUsername is the minimum username length in runes.
	MinUsername = 4

	// MaxUsername is the maximum username length in runes.
	MaxUsername = 32

	// MaxPassphrase bounds the passphrase length in bytes.
	MaxPassphrase = 1024

	// MaxSeedWords is the maximum number of words accepted in a seed phrase.
	MaxSeedWords = 24

	// MaxMessage is the largest message body the messaging backend sends or
	// accepts from a peer.
	MaxMessage = 64 * 1024

	// MaxFileName is the maximum stored file name length in bytes.
	MaxFileName = 255

	// MaxFileSize is the largest file the storage backend accepts (256MB).
	MaxFileSize = 256 * 1024 * 1024
)

var (
	// ErrInvalidUsername indicates a username outside the accepted length or alphabet.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidPassphrase indicates an empty or oversized passphrase.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrInvalidSeedWords indicates a malformed seed phrase.
	ErrInvalidSeedWords = errors.New("invalid seed words")

	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidFileName indicates a file name that cannot be stored.
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrFileTooLarge indicates a file exceeding MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

// ValidateUsername checks length in runes and rejects control characters and
// leading or trailing whitespace.
func ValidateUsername(username string) error {
	if !utf8.ValidString(username) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidUsername)
	}
	n := utf8.RuneCountInString(username)
	if n < MinUsername || n > MaxUsername {
		return fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidUsername, n, MinUsername, MaxUsername)
	}
	if strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidUsername)
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidUsername)
		}
	}
	return nil
}

// ValidatePassphrase checks that a passphrase is present and bounded.
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPassphrase)
	}
	if len(passphrase) > MaxPassphrase {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrInvalidPassphrase, len(passphrase), MaxPassphrase)
	}
	return nil
}

// ValidateSeedWords accepts an empty phrase (a random key is generated) or a
// whitespace separated list of at most MaxSeedWords words.
func ValidateSeedWords(seedWords string) error {
	words := strings.Fields(seedWords)
	if len(words) > MaxSeedWords {
		return fmt.Errorf("%w: %d words exceeds limit %d", ErrInvalidSeedWords, len(words), MaxSeedWords)
	}
	return nil
}

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateMessage validates a message body against MaxMessage.
func ValidateMessage(message []byte) error {
	return ValidateMessageSize(message, MaxMessage)
}

// ValidateFileName rejects names that are empty, too long, contain path
// separators or refer to the current or parent directory.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	case len(name) > MaxFileName:
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidFileName, len(name), MaxFileName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFileName, name)
	}
	return nil
}
