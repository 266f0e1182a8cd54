// Package avatar renders the default profile picture of a new identity: a
// symmetric 5x5 identicon derived from the DID, encoded as PNG and followed
// by a fixed three-byte trailer that marks generated pictures.
package avatar
