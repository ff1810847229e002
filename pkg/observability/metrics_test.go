package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	// Touch each vector so it shows up in the gather.
	m.RecordLogin("corp-azure", "oauth2", ResultInitiated)
	m.RecordCallback("corp-azure", "oauth2", 0)
	m.RecordTokenOperation("refresh", ResultSuccess)
	m.RecordSweep(2, 5)
	m.RecordRevocation()
	m.SetAuditDropped(0)
	m.SetProviders(map[string]int{"saml": 1})
	m.HTTPRequestsTotal.WithLabelValues("GET", "/auth/health", "200").Inc()
	m.HTTPRequestDuration.WithLabelValues("GET", "/auth/health").Observe(0.01)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ssocore_http_requests_total",
		"ssocore_http_request_duration_seconds",
		"ssocore_login_attempts_total",
		"ssocore_callback_duration_seconds",
		"ssocore_token_operations_total",
		"ssocore_handshake_states_active",
		"ssocore_handshake_states_swept_total",
		"ssocore_providers_registered",
		"ssocore_sessions_revoked_total",
		"ssocore_audit_events_dropped",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestRecordLogin(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogin("hospital-idp", "saml", ResultInitiated)
	m.RecordLogin("hospital-idp", "saml", ResultSuccess)
	m.RecordLogin("hospital-idp", "saml", ResultFailure)
	m.RecordLogin("hospital-idp", "saml", ResultFailure)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.LoginAttemptsTotal.WithLabelValues("hospital-idp", "saml", ResultInitiated)))
	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.LoginAttemptsTotal.WithLabelValues("hospital-idp", "saml", ResultFailure)))
}

func TestRecordSweep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSweep(3, 7)
	m.RecordSweep(1, 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HandshakeStatesActive))
	assert.Equal(t, float64(9), testutil.ToFloat64(m.HandshakeStatesSwept))
}

func TestSetProviders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetProviders(map[string]int{"oauth2": 2, "saml": 1})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProvidersRegistered.WithLabelValues("oauth2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProvidersRegistered.WithLabelValues("saml")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// All recording helpers must be no-ops when metrics are disabled.
	m.RecordLogin("p", "oauth2", ResultSuccess)
	m.RecordCallback("p", "oauth2", 0)
	m.RecordTokenOperation("verify", ResultFailure)
	m.RecordRevocation()
	m.RecordSweep(0, 0)
	m.SetAuditDropped(1)
	m.SetProviders(map[string]int{"saml": 1})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/providers", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/auth/providers", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogin("corp-azure", "oauth2", ResultSuccess)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ssocore_login_attempts_total"))
}
