// Package crypto implements the account secret store and key handling.
//
// # Secret Store
//
// [SecretStore] is an encrypted key-value file. Entry names are stored in
// clear so that existence probes work on a locked store; entry values are
// sealed with NaCl secretbox under a random data key, and the data key is
// sealed with the user passphrase through an age scrypt recipient:
//
//	store, err := crypto.OpenOrCreate(dir, "keystore.json")
//	if err != nil {
//	    // ErrStorage: unwritable directory or corrupt file
//	}
//	if store.Exists(crypto.KeypairEntry) {
//	    // an account already exists
//	}
//	if err := store.Unlock(passphrase); err != nil {
//	    // ErrAuthenticationFailed or ErrDecode
//	}
//
// A store that has never been unlocked adopts the first passphrase it is
// given. Lock wipes the data key from memory. All writes go through a
// temporary file and a rename.
//
// # Keys
//
// Account keys are Ed25519. [DeriveIdentityKey] derives a key from a seed
// phrase with HKDF-SHA256 (or generates a random key for an empty phrase),
// and [EncodeDIDKey] / [DecodeDIDKey] convert public keys to and from the
// did:key form used as the public identity reference.
//
// # Memory Hygiene
//
// [SecureWipe] and [ZeroBytes] overwrite sensitive buffers. The store wipes
// its data key on Lock and on every key replacement.
package crypto
