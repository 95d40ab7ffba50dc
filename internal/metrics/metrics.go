package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for every authentication attempt.
const (
	OutcomeSuccess         = "success"
	OutcomeConflict        = "conflict"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeStorageRace     = "storage_race"
	OutcomeTokenFailure    = "token_failure"
	OutcomeProviderError   = "provider_error"
	OutcomeError           = "error"
)

// Metrics holds the authentication counters. A nil *Metrics records nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	emailShifts *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		emailShifts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_email_shifts_total",
			Help: "Emails moved from one local user to another.",
		}, []string{"provider"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.attempts,
		m.emailShifts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Attempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) EmailShift(provider string) {
	if m == nil {
		return
	}
	m.emailShifts.WithLabelValues(provider).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
