// Package identity is the production identity backend. The account keypair
// and public profile live in the secret store; the networking node is started
// once the keypair exists, and the identity is reported only after the node
// is ready.
package identity
