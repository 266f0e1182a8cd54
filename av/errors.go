package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Call initiation errors.
var (
	// ErrCallAlreadyActive indicates a call already exists with this peer.
	ErrCallAlreadyActive = errors.New("call already active with this peer")

	// ErrInvalidSDP indicates the remote session description was rejected.
	ErrInvalidSDP = errors.New("invalid session description")

	// ErrGatheringTimeout indicates ICE gathering did not finish before the
	// context was done.
	ErrGatheringTimeout = errors.New("ice gathering did not complete")
)

// Call control errors.
var (
	// ErrCallNotFound indicates no call exists with this ID.
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidCallState indicates the call is not in a state that allows
	// the operation.
	ErrInvalidCallState = errors.New("invalid call state")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("calling backend closed")
)
