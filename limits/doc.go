// Package limits provides centralized input limits and validation functions
// for accountd.
//
// # Account Inputs
//
// Identity creation validates its inputs before any account state is touched:
//
//	if err := limits.ValidateUsername(username); err != nil {
//	    // ErrInvalidUsername
//	}
//	if err := limits.ValidatePassphrase(passphrase); err != nil {
//	    // ErrInvalidPassphrase
//	}
//
// Seed words may be empty, in which case the identity backend generates a
// random key. A non-empty phrase is bounded by MaxSeedWords.
//
// # Subsystem Inputs
//
// Messaging bodies are limited by MaxMessage and stored files by MaxFileSize
// and MaxFileName. For custom size limits, use the generic ValidateMessageSize:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// All errors wrap one of the package sentinels so callers classify them with
// errors.Is.
package limits
