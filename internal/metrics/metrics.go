// Package metrics exposes limiter and session counters to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// Metrics records limiter decisions and session verifications. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	rateLimitDecisions   *prometheus.CounterVec
	rateLimitSwept       *prometheus.CounterVec
	sessionVerifications *prometheus.CounterVec
	sessionCacheEntries  prometheus.Gauge
	sessionsIssued       prometheus.Counter
}

// New registers every collector on registerer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ballotgate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	rateLimitDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ballotgate_ratelimit_decisions_total",
			Help:        "Rate limiter decisions by endpoint class.",
			ConstLabels: constLabels,
		},
		[]string{"class", "result"}, // allowed | blocked | fail_open
	)

	rateLimitSwept := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ballotgate_ratelimit_swept_total",
			Help:        "Expired rate limit entries removed by cleanup sweeps.",
			ConstLabels: constLabels,
		},
		[]string{"class"},
	)

	sessionVerifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ballotgate_session_verifications_total",
			Help:        "Session verification outcomes.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // cache_hit | verified | rejected | missing
	)

	sessionCacheEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "ballotgate_session_cache_entries",
			Help:        "Sessions currently held in the verification cache.",
			ConstLabels: constLabels,
		},
	)

	sessionsIssued := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "ballotgate_sessions_issued_total",
			Help:        "Session tokens signed, refreshes included.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		rateLimitDecisions,
		rateLimitSwept,
		sessionVerifications,
		sessionCacheEntries,
		sessionsIssued,
	)

	return &Metrics{
		rateLimitDecisions:   rateLimitDecisions,
		rateLimitSwept:       rateLimitSwept,
		sessionVerifications: sessionVerifications,
		sessionCacheEntries:  sessionCacheEntries,
		sessionsIssued:       sessionsIssued,
	}
}

func (m *Metrics) RecordRateLimitDecision(class string, result string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(class, result).Inc()
}

func (m *Metrics) RecordRateLimitSweep(class string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.rateLimitSwept.WithLabelValues(class).Add(float64(removed))
}

func (m *Metrics) RecordSessionVerification(result string) {
	if m == nil {
		return
	}
	m.sessionVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
}

func (m *Metrics) SetSessionCacheSize(size int) {
	if m == nil {
		return
	}
	m.sessionCacheEntries.Set(float64(size))
}
