package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

func newTestServer(m Manager) (*Server, *Metrics) {
	metrics := NewMetrics()
	return NewServer("127.0.0.1:0", m, metrics), metrics
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createURL(values url.Values) string {
	return CreateIdentityPath + "?" + values.Encode()
}

func TestCreateIdentityGET(t *testing.T) {
	m := &stubManager{}
	s, metrics := newTestServer(m)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, createURL(url.Values{
		"username":   {"alice"},
		"passphrase": {"correct-horse"},
		"seed_words": {"one two three"},
	}), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var ident backend.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ident))
	assert.Equal(t, "alice", ident.Username)

	assert.Equal(t, []createCall{{"alice", "correct-horse", "one two three"}}, m.recorded())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.creates.WithLabelValues(OutcomeSuccess)))
}

func TestCreateIdentityPOSTForm(t *testing.T) {
	m := &stubManager{}
	s, _ := newTestServer(m)

	form := url.Values{"username": {"alice"}, "passphrase": {"correct-horse"}, "seed_words": {""}}
	req := httptest.NewRequest(http.MethodPost, CreateIdentityPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := do(t, s.Handler(), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []createCall{{"alice", "correct-horse", ""}}, m.recorded())
}

func TestCreateIdentityFailuresAreOpaque(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"invalid input", fmt.Errorf("%w: username too short", account.ErrInvalidInput), OutcomeInvalidInput},
		{"wrong passphrase", fmt.Errorf("unlock secret store: %w", crypto.ErrAuthenticationFailed), OutcomeUnlockFailed},
		{"overwrite", fmt.Errorf("%w: disk full", account.ErrOverwrite), OutcomeOverwriteFailed},
		{"create", fmt.Errorf("%w: boom", account.ErrCreate), OutcomeCreateFailed},
		{"readiness", fmt.Errorf("%w: node failed", account.ErrReadiness), OutcomeReadinessFailed},
		{"not ready", fmt.Errorf("%w: timed out", account.ErrNotReady), OutcomeNotReady},
		{"other", fmt.Errorf("something else"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, metrics := newTestServer(&stubManager{err: tt.err})

			rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, createURL(url.Values{
				"username":   {"alice"},
				"passphrase": {"correct-horse"},
				"seed_words": {""},
			}), nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, `{"error":"create_identity failed"}`, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "correct-horse")
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.creates.WithLabelValues(tt.outcome)))
		})
	}
}

func TestCreateIdentityMissingParameter(t *testing.T) {
	m := &stubManager{}
	s, metrics := newTestServer(m)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, createURL(url.Values{"username": {"alice"}}), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, m.recorded(), "manager must not be called without a passphrase")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.creates.WithLabelValues(OutcomeInvalidInput)))
}

func TestCreateIdentityRequiresSeedWords(t *testing.T) {
	m := &stubManager{}
	s, metrics := newTestServer(m)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, createURL(url.Values{
		"username":   {"alice"},
		"passphrase": {"correct-horse"},
	}), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `{"error":"create_identity failed"}`, rec.Body.String())
	assert.Empty(t, m.recorded(), "manager must not be called without seed_words")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.creates.WithLabelValues(OutcomeInvalidInput)))
}

func TestCreateIdentityMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(&stubManager{})

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodDelete, CreateIdentityPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestCreateIdentityIsSerialized(t *testing.T) {
	m := &stubManager{delay: 30 * time.Millisecond}
	s, _ := newTestServer(m)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, createURL(url.Values{
				"username":   {fmt.Sprintf("user%d", i)},
				"passphrase": {"correct-horse"},
				"seed_words": {""},
			}), nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.recorded(), 4)
	assert.Equal(t, int32(1), m.peak.Load(), "create_identity must run one at a time")
}

func TestStatus(t *testing.T) {
	ident := backend.Identity{Username: "alice", DID: "did:key:z6Mktest"}
	m := &stubManager{status: account.Status{
		AccountExists: true,
		Unlocked:      true,
		Generation:    3,
		IdentityReady: true,
		Identity:      &ident,
	}}
	s, _ := newTestServer(m)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, StatusPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got account.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, m.status.Generation, got.Generation)
	require.NotNil(t, got.Identity)
	assert.Equal(t, "alice", got.Identity.Username)

	rec = do(t, s.Handler(), httptest.NewRequest(http.MethodPost, StatusPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, metrics := newTestServer(&stubManager{})
	metrics.Overwrite()
	metrics.ReadinessPoll()
	metrics.ReadinessPoll()

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "accountd_overwrites_total 1")
	assert.Contains(t, body, "accountd_readiness_polls_total 2")
	assert.Contains(t, body, "accountd_create_identity_duration_seconds")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(&stubManager{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + l.Addr().String() + StatusPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
