// Package metrics exposes Prometheus instrumentation for vault calls and
// authentication activity. Recording is a no-op until InitMetrics runs, so
// library code can record unconditionally.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for store and token metrics.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
	OutcomeCanceled    = "canceled"
	OutcomeUnavailable = "unavailable"
)

// OutcomeFromError labels a failed call.
func OutcomeFromError(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

var (
	storeRequestsTotal   *prometheus.CounterVec
	storeRequestDuration *prometheus.HistogramVec
	authEventsTotal      *prometheus.CounterVec
	tokenRequestsTotal   *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// InitMetrics registers all collectors with the default registry.
// It is safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		storeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvview_store_requests_total",
				Help: "Total number of Key Vault requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		)

		storeRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvview_store_request_duration_seconds",
				Help:    "Duration of Key Vault requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"op"},
		)

		authEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvview_auth_events_total",
				Help: "Authentication state changes raised by the session",
			},
			[]string{"authenticated"},
		)

		tokenRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvview_token_requests_total",
				Help: "Token requests served by the credential bridge",
			},
			[]string{"outcome"},
		)

		metricsRegistered.Store(true)
	})
}

// ObserveStoreRequest records one Key Vault call.
func ObserveStoreRequest(op, outcome string, elapsed time.Duration) {
	if !metricsRegistered.Load() {
		return
	}
	storeRequestsTotal.WithLabelValues(op, outcome).Inc()
	storeRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordAuthEvent records an authentication state notification.
func RecordAuthEvent(authenticated bool) {
	if !metricsRegistered.Load() {
		return
	}
	authEventsTotal.WithLabelValues(strconv.FormatBool(authenticated)).Inc()
}

// RecordTokenRequest records a bridge token request outcome.
func RecordTokenRequest(outcome string) {
	if !metricsRegistered.Load() {
		return
	}
	tokenRequestsTotal.WithLabelValues(outcome).Inc()
}

// StoreRequests returns the request counter for testing.
func StoreRequests() *prometheus.CounterVec {
	return storeRequestsTotal
}

// AuthEvents returns the auth event counter for testing.
func AuthEvents() *prometheus.CounterVec {
	return authEventsTotal
}

// TokenRequests returns the token request counter for testing.
func TokenRequests() *prometheus.CounterVec {
	return tokenRequestsTotal
}

// IsRegistered reports whether InitMetrics has run.
func IsRegistered() bool {
	return metricsRegistered.Load()
}
