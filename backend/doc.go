// Package backend defines the four networked subsystem capabilities used by
// an account (identity directory, messaging, file storage and real-time
// calling) and the Bundle that owns one handle of each.
//
// # Capabilities
//
// [IdentityBackend], [MessagingBackend], [StorageBackend] and
// [CallingBackend] are implemented by the identity, messaging, file and av
// packages respectively. A [Builder] constructs them; the production builder
// lives in the factory package and tests substitute their own.
//
// # Bundle
//
// A [Bundle] holds one handle per capability, each behind its own mutex and
// tagged with the generation that produced it:
//
//	bundle, err := backend.New(ctx, builder, store, cfg)
//	if err != nil {
//	    return err // wraps ErrConstruction
//	}
//	defer bundle.Close()
//
//	err = bundle.WithIdentity(func(id backend.IdentityBackend) error {
//	    return id.CreateIdentity(ctx, "alice", "")
//	})
//
// Reinit builds a complete new generation before touching the live handles,
// then swaps all four while holding every slot lock in the fixed order
// identity, messaging, storage, calling. No caller can observe a mix of two
// generations, and a failed construction leaves the previous generation in
// place.
//
// The accessors hold exactly one slot lock for the duration of the callback.
// Callbacks must not call back into the Bundle.
package backend
