// Package factory builds the production subsystem handles for an account.
//
// A BackendFactory implements backend.Builder. BuildCore creates one
// networking node per generation and hands it to the identity backend,
// which owns it; messaging attaches to the same node and storage opens the
// file store under the configured storage root. BuildCalling derives the
// calling backend from an identity handle.
//
// # Configuration
//
// The factory supports configuration via environment variables:
//   - ACCOUNTD_MESSAGE_HISTORY: number of messages kept in memory
//   - ACCOUNTD_MAX_FILE_SIZE: largest accepted file in bytes
//   - ACCOUNTD_LOOPBACK_ICE: "true" or "false" to gather loopback candidates
//
// Invalid or out of range values are logged and ignored.
//
// # Usage
//
//	f := factory.NewBackendFactory()
//	bundle, err := backend.New(ctx, f, store, cfg)
package factory
