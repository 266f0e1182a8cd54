package backend

import "errors"

var (
	// ErrConstruction indicates that a subsystem handle could not be built.
	ErrConstruction = errors.New("backend construction failed")

	// ErrNotAvailable is the transient "not ready yet" signal. Callers are
	// expected to retry after a short delay.
	ErrNotAvailable = errors.New("backend not available")

	// ErrNoIdentity indicates that no identity has been created.
	ErrNoIdentity = errors.New("no identity")

	// ErrClosed indicates use of a bundle after Close.
	ErrClosed = errors.New("backend bundle closed")

	// ErrInvalidConfig indicates a configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid backend configuration")
)
