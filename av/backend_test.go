package av

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

func newTestBackend(t *testing.T, id backend.IdentityBackend) *Backend {
	t.Helper()
	b, err := New(id, backend.Config{}, WithLoopbackCandidates())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOfferRequiresReadyIdentity(t *testing.T) {
	alice := newStubIdentity(t)
	bob := newStubIdentity(t)
	alice.setErr(backend.ErrNotAvailable)
	b := newTestBackend(t, alice)

	_, err := b.Offer(testContext(t), bob.DID())
	assert.ErrorIs(t, err, backend.ErrNotAvailable)
	assert.Empty(t, b.Calls())
}

func TestOfferRejectsInvalidDID(t *testing.T) {
	b := newTestBackend(t, newStubIdentity(t))

	_, err := b.Offer(testContext(t), "did:web:example.com")
	assert.ErrorIs(t, err, crypto.ErrInvalidDID)
}

func TestOfferProducesGatheredSDP(t *testing.T) {
	bob := newStubIdentity(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := New(newStubIdentity(t), backend.Config{}, WithLoopbackCandidates(), WithNow(func() time.Time { return start }))
	require.NoError(t, err)
	defer b.Close()

	c, err := b.Offer(testContext(t), bob.DID())
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, bob.DID(), c.PeerDID)
	assert.Equal(t, backend.CallOffered, c.State)
	assert.Equal(t, start, c.Started)
	assert.Contains(t, c.LocalSDP, "opus/48000")
	assert.Contains(t, c.LocalSDP, "a=candidate:")

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, c.ID, calls[0].ID)
}

func TestOfferRejectsSecondCallToSamePeer(t *testing.T) {
	bob := newStubIdentity(t)
	b := newTestBackend(t, newStubIdentity(t))
	ctx := testContext(t)

	_, err := b.Offer(ctx, bob.DID())
	require.NoError(t, err)

	_, err = b.Offer(ctx, bob.DID())
	assert.ErrorIs(t, err, ErrCallAlreadyActive)
}

func TestAcceptRejectsInvalidOffer(t *testing.T) {
	alice := newStubIdentity(t)
	b := newTestBackend(t, newStubIdentity(t))

	_, err := b.Accept(testContext(t), alice.DID(), "not an sdp")
	assert.ErrorIs(t, err, ErrInvalidSDP)
	assert.Empty(t, b.Calls(), "failed negotiation must not leave a call behind")
}

func TestCompleteUnknownCall(t *testing.T) {
	b := newTestBackend(t, newStubIdentity(t))
	assert.ErrorIs(t, b.Complete(testContext(t), "missing", "sdp"), ErrCallNotFound)
}

func TestCompleteRequiresOfferedCall(t *testing.T) {
	alice := newStubIdentity(t)
	bob := newStubIdentity(t)
	ctx := testContext(t)

	caller := newTestBackend(t, alice)
	callee := newTestBackend(t, bob)

	offer, err := caller.Offer(ctx, bob.DID())
	require.NoError(t, err)
	answer, err := callee.Accept(ctx, alice.DID(), offer.LocalSDP)
	require.NoError(t, err)

	err = callee.Complete(ctx, answer.ID, offer.LocalSDP)
	assert.ErrorIs(t, err, ErrInvalidCallState)
}

func TestCallConnectsOverLoopback(t *testing.T) {
	alice := newStubIdentity(t)
	bob := newStubIdentity(t)
	ctx := testContext(t)

	caller := newTestBackend(t, alice)
	callee := newTestBackend(t, bob)

	offer, err := caller.Offer(ctx, bob.DID())
	require.NoError(t, err)

	answer, err := callee.Accept(ctx, alice.DID(), offer.LocalSDP)
	require.NoError(t, err)
	assert.Equal(t, backend.CallAnswered, answer.State)
	assert.Contains(t, answer.LocalSDP, "opus/48000")

	require.NoError(t, caller.Complete(ctx, offer.ID, answer.LocalSDP))

	connected := func(b *Backend) func() bool {
		return func() bool {
			calls := b.Calls()
			return len(calls) == 1 && calls[0].State == backend.CallConnected
		}
	}
	require.Eventually(t, connected(caller), 15*time.Second, 50*time.Millisecond)
	require.Eventually(t, connected(callee), 15*time.Second, 50*time.Millisecond)

	require.NoError(t, caller.Hangup(ctx, offer.ID))
	assert.Empty(t, caller.Calls())
	assert.ErrorIs(t, caller.Hangup(ctx, offer.ID), ErrCallNotFound)
}

func TestCloseEndsCalls(t *testing.T) {
	bob := newStubIdentity(t)
	b, err := New(newStubIdentity(t), backend.Config{}, WithLoopbackCandidates())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, err = b.Offer(ctx, bob.DID())
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Empty(t, b.Calls())

	_, err = b.Offer(ctx, bob.DID())
	assert.ErrorIs(t, err, ErrClosed)
}
