package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/backend"
)

type createCall struct {
	username, passphrase, seedWords string
}

// stubManager records calls and tracks how many run at once.
type stubManager struct {
	mu     sync.Mutex
	calls  []createCall
	err    error
	delay  time.Duration
	status account.Status

	running atomic.Int32
	peak    atomic.Int32
}

func (m *stubManager) CreateIdentity(ctx context.Context, username, passphrase, seedWords string) (backend.Identity, error) {
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, createCall{username, passphrase, seedWords})
	err, delay := m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return backend.Identity{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Identity{}, err
	}
	return backend.Identity{Username: username, DID: "did:key:z6Mktest", ShortID: "deadbeef"}, nil
}

func (m *stubManager) Status(context.Context) account.Status {
	return m.status
}

func (m *stubManager) recorded() []createCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]createCall(nil), m.calls...)
}
