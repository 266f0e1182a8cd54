// Package account owns the local account: its encrypted secret store and the
// backend bundle built on top of it.
//
// The Manager drives identity creation. When an account already exists the
// whole account directory is wiped, a fresh secret store is created and every
// backend handle is rebuilt against it before the new passphrase is applied.
// Backend startup is asynchronous, so creation finishes by polling the
// identity backend until it reports the new identity:
//
//	m := account.New(account.Options{
//	    Bundle:      bundle,
//	    Store:       store,
//	    AccountRoot: paths.AccountRoot(),
//	    StorageRoot: paths.StorageRoot(),
//	})
//	ident, err := m.CreateIdentity(ctx, "alice", passphrase, "")
//
// A non-transient error while polling seals the secret store; it stays
// sealed until the next CreateIdentity replaces it. Reaching the poll bound
// or the readiness timeout returns ErrNotReady and leaves the store open.
//
// The store mutex and each backend slot lock are independent. No lock is
// held while sleeping between polls.
package account
