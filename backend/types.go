package backend

import (
	"context"
	"crypto/ed25519"
	"io"
	"time"

	"github.com/opd-ai/accountd/crypto"
)

// Identity is the public profile of the local account.
type Identity struct {
	Username       string    `json:"username"`
	DID            string    `json:"did"`
	ShortID        string    `json:"short_id"`
	StatusMessage  string    `json:"status_message,omitempty"`
	ProfilePicture []byte    `json:"profile_picture,omitempty"`
	Created        time.Time `json:"created"`
}

// Message is a direct message sent or received by the account.
type Message struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Body     string    `json:"body"`
	Sent     time.Time `json:"sent"`
	Outgoing bool      `json:"outgoing"`
}

// FileInfo describes a stored file.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Thumbnail   []byte    `json:"thumbnail,omitempty"`
	Created     time.Time `json:"created"`
}

// CallState is the lifecycle position of a call.
type CallState uint8

const (
	// CallOffered is an outgoing call waiting for an answer.
	CallOffered CallState = iota
	// CallAnswered is an incoming call whose answer has been produced.
	CallAnswered
	// CallConnected is a call with negotiated media.
	CallConnected
	// CallEnded is a finished call.
	CallEnded
)

// String returns the state name.
func (s CallState) String() string {
	switch s {
	case CallOffered:
		return "offered"
	case CallAnswered:
		return "answered"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Call is a snapshot of one audio call.
type Call struct {
	ID             string    `json:"id"`
	PeerDID        string    `json:"peer_did"`
	State          CallState `json:"state"`
	LocalSDP       string    `json:"local_sdp,omitempty"`
	PacketsDecoded uint64    `json:"packets_decoded"`
	Started        time.Time `json:"started"`
}

// IdentityBackend manages the account identity and drives the networking
// runtime. Startup is asynchronous: OwnIdentity returns ErrNotAvailable
// until the runtime is ready.
type IdentityBackend interface {
	CreateIdentity(ctx context.Context, username, seedWords string) error
	OwnIdentity(ctx context.Context) (Identity, error)
	PublicKey() (ed25519.PublicKey, error)
	Close() error
}

// MessagingBackend exchanges direct messages with other accounts.
type MessagingBackend interface {
	Send(ctx context.Context, toDID, body string) (Message, error)
	Messages(ctx context.Context) ([]Message, error)
	Close() error
}

// StorageBackend stores named files for the account.
type StorageBackend interface {
	Put(ctx context.Context, name string, r io.Reader) (FileInfo, error)
	Get(ctx context.Context, name string) (io.ReadCloser, FileInfo, error)
	List(ctx context.Context) ([]FileInfo, error)
	Remove(ctx context.Context, name string) error
	Close() error
}

// CallingBackend places and answers audio calls.
type CallingBackend interface {
	Offer(ctx context.Context, peerDID string) (Call, error)
	Accept(ctx context.Context, peerDID, offerSDP string) (Call, error)
	Complete(ctx context.Context, callID, answerSDP string) error
	Hangup(ctx context.Context, callID string) error
	Calls() []Call
	Close() error
}

// Builder constructs subsystem handles. BuildCore builds identity, messaging
// and storage as one unit sharing the store; BuildCalling derives calling
// from the identity handle.
type Builder interface {
	BuildCore(ctx context.Context, store *crypto.SecretStore, cfg Config) (IdentityBackend, MessagingBackend, StorageBackend, error)
	BuildCalling(ctx context.Context, identity IdentityBackend, cfg Config) (CallingBackend, error)
}
