package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/accountd/account"
	"github.com/opd-ai/accountd/crypto"
)

// Outcome labels of accountd_create_identity_total.
const (
	OutcomeSuccess         = "success"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeUnlockFailed    = "unlock_failed"
	OutcomeOverwriteFailed = "overwrite_failed"
	OutcomeCreateFailed    = "create_failed"
	OutcomeReadinessFailed = "readiness_failed"
	OutcomeNotReady        = "not_ready"
	OutcomeCanceled        = "canceled"
	OutcomeError           = "error"
)

// Metrics holds the accountd collectors on a private registry. It also
// implements account.Observer.
type Metrics struct {
	registry   *prometheus.Registry
	creates    *prometheus.CounterVec
	duration   prometheus.Histogram
	overwrites prometheus.Counter
	polls      prometheus.Counter
}

var _ account.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accountd",
			Name:      "create_identity_total",
			Help:      "Identity creation requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accountd",
			Name:      "create_identity_duration_seconds",
			Help:      "Time spent creating an identity, including readiness polling.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		overwrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accountd",
			Name:      "overwrites_total",
			Help:      "Existing accounts replaced by a new identity.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accountd",
			Name:      "readiness_polls_total",
			Help:      "Identity readiness polls.",
		}),
	}
	m.registry.MustRegister(m.creates, m.duration, m.overwrites, m.polls)
	return m
}

// Overwrite counts an account overwrite.
func (m *Metrics) Overwrite() { m.overwrites.Inc() }

// ReadinessPoll counts a readiness poll.
func (m *Metrics) ReadinessPoll() { m.polls.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeCreate(err error, elapsed time.Duration) {
	m.creates.WithLabelValues(Outcome(err)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// Outcome classifies a create_identity result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, account.ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, account.ErrOverwrite):
		return OutcomeOverwriteFailed
	case errors.Is(err, crypto.ErrAuthenticationFailed), errors.Is(err, crypto.ErrDecode):
		return OutcomeUnlockFailed
	case errors.Is(err, account.ErrCreate):
		return OutcomeCreateFailed
	case errors.Is(err, account.ErrReadiness):
		return OutcomeReadinessFailed
	case errors.Is(err, account.ErrNotReady):
		return OutcomeNotReady
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
