package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. All recording
// methods are nil-safe so components can run without metrics wired (tests,
// metrics disabled in config).
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SessionsEnded  *prometheus.CounterVec

	// Challenge metrics
	ChallengesTotal     *prometheus.CounterVec
	CodeRejectionsTotal prometheus.Counter

	// Agent metrics
	AgentRoundTripDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "provision_sessions_active",
				Help: "Number of non-terminal provisioning sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provision_sessions_total",
				Help: "Total number of provisioning sessions created",
			},
		),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provision_sessions_ended_total",
				Help: "Sessions that reached a terminal state",
			},
			[]string{"state", "reason"},
		),

		ChallengesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provision_challenges_total",
				Help: "Human-verification interruptions by kind",
			},
			[]string{"kind"},
		),
		CodeRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provision_code_rejections_total",
				Help: "One-time codes rejected by the remote flow",
			},
		),

		AgentRoundTripDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provision_agent_round_trip_seconds",
				Help:    "Duration of automation agent round trips",
				Buckets: []float64{1, 5, 10, 30, 60, 90, 120},
			},
			[]string{"op"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionsEnded,
		m.ChallengesTotal,
		m.CodeRejectionsTotal,
		m.AgentRoundTripDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted increments the session counters.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionFinished records a terminal session.
func (m *Metrics) SessionFinished(state, reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(state, reason).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// ChallengeIssued records a human-verification interruption.
func (m *Metrics) ChallengeIssued(kind string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(kind).Inc()
}

// CodeRejected records a rejected one-time code.
func (m *Metrics) CodeRejected() {
	if m == nil {
		return
	}
	m.CodeRejectionsTotal.Inc()
}

// ObserveAgentRoundTrip records the duration of one agent call.
func (m *Metrics) ObserveAgentRoundTrip(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.AgentRoundTripDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTPRequest records one handled HTTP request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, httpStatusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
