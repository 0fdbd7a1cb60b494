// Package metrics exposes Prometheus counters for the auth workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth"

// Outcome labels.
const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomeAlreadyExists     = "already_exists"
	OutcomeInvalidCredential = "invalid_credential"
	OutcomeMismatch          = "mismatch"
	OutcomeExpired           = "expired"
	OutcomeStale             = "stale"
	OutcomeError             = "error"
)

// Auth holds the counters recorded by the auth service. A nil *Auth is a
// valid no-op recorder.
type Auth struct {
	registry     *prometheus.Registry
	registers    *prometheus.CounterVec
	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	tokensIssued prometheus.Counter
}

func New() *Auth {
	a := &Auth{
		registry: prometheus.NewRegistry(),
		registers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tokens_issued_total",
			Help:      "Signed access tokens handed out.",
		}),
	}

	a.registry.MustRegister(
		a.registers,
		a.logins,
		a.refreshes,
		a.tokensIssued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return a
}

func (a *Auth) Register(outcome string) {
	if a == nil {
		return
	}
	a.registers.WithLabelValues(outcome).Inc()
}

func (a *Auth) Login(outcome string) {
	if a == nil {
		return
	}
	a.logins.WithLabelValues(outcome).Inc()
}

func (a *Auth) Refresh(outcome string) {
	if a == nil {
		return
	}
	a.refreshes.WithLabelValues(outcome).Inc()
}

func (a *Auth) TokenIssued() {
	if a == nil {
		return
	}
	a.tokensIssued.Inc()
}

func (a *Auth) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}
