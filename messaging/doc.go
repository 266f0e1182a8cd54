// Package messaging is the production messaging backend. Messages travel
// over a libp2p stream protocol, one JSON frame per stream, acknowledged by
// the receiver:
//
//	-> {"id":"...","from":"did:key:z...","body":"hi","sent":"..."}\n
//	<- {"id":"..."}\n
//
// The sender's DID must match the key of the remote peer; frames claiming a
// different sender are dropped. Sent and received messages are kept in a
// bounded in-memory history, oldest first.
//
// Until the node is ready Send and Messages return backend.ErrNotAvailable.
package messaging
