package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login result label values.
const (
	ResultInitiated = "initiated"
	ResultSuccess   = "success"
	ResultFailure   = "failure"
)

// Metrics holds all Prometheus metrics for the SSO core.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login funnel metrics
	LoginAttemptsTotal *prometheus.CounterVec
	CallbackDuration   *prometheus.HistogramVec

	// Token lifecycle metrics
	TokenOperationsTotal *prometheus.CounterVec

	// Handshake state metrics
	HandshakeStatesActive prometheus.Gauge
	HandshakeStatesSwept  prometheus.Counter

	// Registry and session metrics
	ProvidersRegistered *prometheus.GaugeVec
	SessionsRevoked     prometheus.Counter

	// Audit sink health
	AuditEventsDropped prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssocore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssocore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssocore_login_attempts_total",
				Help: "Login handshakes by provider, protocol, and result",
			},
			[]string{"provider", "protocol", "result"},
		),
		CallbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssocore_callback_duration_seconds",
				Help:    "Callback validation duration including the IdP exchange",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "protocol"},
		),

		TokenOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssocore_token_operations_total",
				Help: "Token issue, verify, refresh, and revoke operations",
			},
			[]string{"operation", "result"},
		),

		HandshakeStatesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssocore_handshake_states_active",
				Help: "Handshake state entries currently pending",
			},
		),
		HandshakeStatesSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssocore_handshake_states_swept_total",
				Help: "Expired handshake state entries removed by sweeps",
			},
		),

		ProvidersRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ssocore_providers_registered",
				Help: "Registered identity providers by protocol",
			},
			[]string{"protocol"},
		),
		SessionsRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssocore_sessions_revoked_total",
				Help: "Sessions revoked by logout",
			},
		),

		AuditEventsDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssocore_audit_events_dropped",
				Help: "Audit events lost because a sink could not accept them",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.CallbackDuration,
		m.TokenOperationsTotal,
		m.HandshakeStatesActive,
		m.HandshakeStatesSwept,
		m.ProvidersRegistered,
		m.SessionsRevoked,
		m.AuditEventsDropped,
	)
	return m
}

// RecordLogin counts one login funnel transition.
func (m *Metrics) RecordLogin(provider, protocol, result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(provider, protocol, result).Inc()
}

// RecordCallback observes the duration of one callback validation.
func (m *Metrics) RecordCallback(provider, protocol string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallbackDuration.WithLabelValues(provider, protocol).Observe(duration.Seconds())
}

// RecordTokenOperation counts one token lifecycle operation.
func (m *Metrics) RecordTokenOperation(operation, result string) {
	if m == nil {
		return
	}
	m.TokenOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordRevocation counts one session revocation.
func (m *Metrics) RecordRevocation() {
	if m == nil {
		return
	}
	m.SessionsRevoked.Inc()
}

// RecordSweep updates handshake state gauges after a cleanup pass.
func (m *Metrics) RecordSweep(active, swept int) {
	if m == nil {
		return
	}
	m.HandshakeStatesActive.Set(float64(active))
	m.HandshakeStatesSwept.Add(float64(swept))
}

// SetAuditDropped publishes the audit sinks' cumulative drop count.
func (m *Metrics) SetAuditDropped(n uint64) {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Set(float64(n))
}

// SetProviders publishes registered provider counts per protocol.
func (m *Metrics) SetProviders(counts map[string]int) {
	if m == nil {
		return
	}
	for protocol, n := range counts {
		m.ProvidersRegistered.WithLabelValues(protocol).Set(float64(n))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
