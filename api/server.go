package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/backend"
)

// Route paths.
const (
	CreateIdentityPath = "/api/v1/create_identity"
	StatusPath         = "/api/v1/status"
	MetricsPath        = "/metrics"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// ErrMissingParameter indicates a required query or form field was absent.
var ErrMissingParameter = errors.New("missing parameter")

// failureBody is returned for every create_identity failure.
const failureBody = `{"error":"create_identity failed"}`

// Manager is the account surface the server drives. *account.Manager
// satisfies it.
type Manager interface {
	CreateIdentity(ctx context.Context, username, passphrase, seedWords string) (backend.Identity, error)
	Status(ctx context.Context) account.Status
}

// Server is the HTTP request surface.
type Server struct {
	manager Manager
	metrics *Metrics
	sem     *semaphore.Weighted
	handler http.Handler
	http    *http.Server
}

// NewServer builds a server listening on addr.
func NewServer(addr string, manager Manager, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		manager: manager,
		metrics: metrics,
		sem:     semaphore.NewWeighted(1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(CreateIdentityPath, s.handleCreateIdentity)
	mux.HandleFunc("GET "+StatusPath, s.handleStatus)
	mux.Handle("GET "+MetricsPath, metrics.Handler())

	s.handler = logRequests(mux)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Serve",
			"address":  l.Addr().String(),
		}).Info("Listening")
		errCh <- s.http.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	ident, err := s.createIdentity(r)
	s.metrics.observeCreate(err, time.Since(start))

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCreateIdentity",
			"outcome":  Outcome(err),
			"error":    err.Error(),
		}).Error("create_identity failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(failureBody))
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) createIdentity(r *http.Request) (backend.Identity, error) {
	if err := r.ParseForm(); err != nil {
		return backend.Identity{}, fmt.Errorf("%w: %v", account.ErrInvalidInput, err)
	}
	username, err := required(r, "username")
	if err != nil {
		return backend.Identity{}, err
	}
	passphrase, err := required(r, "passphrase")
	if err != nil {
		return backend.Identity{}, err
	}
	seedWords, err := required(r, "seed_words")
	if err != nil {
		return backend.Identity{}, err
	}

	ctx := r.Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return backend.Identity{}, err
	}
	defer s.sem.Release(1)

	return s.manager.CreateIdentity(ctx, username, passphrase, seedWords)
}

func required(r *http.Request, key string) (string, error) {
	if !r.Form.Has(key) {
		return "", fmt.Errorf("%w: %w %q", account.ErrInvalidInput, ErrMissingParameter, key)
	}
	return r.Form.Get(key), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
}
