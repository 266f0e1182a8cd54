package account

import "errors"

var (
	// ErrInvalidInput indicates a username, passphrase or seed phrase that
	// failed validation. No state is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOverwrite indicates that wiping or rebuilding an existing account failed.
	ErrOverwrite = errors.New("account overwrite failed")

	// ErrCreate indicates that the identity backend rejected the new identity.
	ErrCreate = errors.New("identity creation failed")

	// ErrReadiness indicates a non-transient error while waiting for the
	// identity. The secret store has been sealed.
	ErrReadiness = errors.New("identity readiness failed")

	// ErrNotReady indicates that the poll bound, readiness timeout or
	// context ended before the identity became available.
	ErrNotReady = errors.New("identity not ready")
)
