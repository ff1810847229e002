package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOAuth2TestIdP serves a token endpoint and a userinfo endpoint the way a
// generic IdP would.
func newOAuth2TestIdP(t *testing.T, userinfo map[string]interface{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userinfo)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testOAuth2Provider(t *testing.T, idp *httptest.Server, mutate func(*ProviderConfig)) *OAuth2Provider {
	t.Helper()

	cfg := validOAuth2Config()
	cfg.OAuth2.AuthURL = idp.URL + "/authorize"
	cfg.OAuth2.TokenURL = idp.URL + "/token"
	cfg.OAuth2.UserInfoURL = idp.URL + "/userinfo"
	if mutate != nil {
		mutate(cfg)
	}

	p, err := NewOAuth2Provider(cfg)
	require.NoError(t, err)
	return p
}

func TestOAuth2AuthURL(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, func(cfg *ProviderConfig) {
		cfg.OAuth2.ExtraParams = map[string]string{"audience": "ehr-api"}
	})

	raw, err := p.AuthURL("state-abc", "")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "ehr-api", q.Get("audience"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestOAuth2AuthURLRequiresState(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, nil)

	_, err := p.AuthURL("", "")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestOAuth2GoogleOfflineAccess(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, func(cfg *ProviderConfig) {
		cfg.Family = FamilyGoogle
	})

	raw, err := p.AuthURL("state-abc", "")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "offline", u.Query().Get("access_type"))
}

func TestOAuth2AzureADEndpointDefaults(t *testing.T) {
	cfg := &ProviderConfig{
		Name:     "contoso",
		Protocol: ProtocolOAuth2,
		Family:   FamilyAzureAD,
		OAuth2: &OAuth2Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "https://app.example.org/callback",
			Tenant:       "contoso.onmicrosoft.com",
		},
	}
	p, err := NewOAuth2Provider(cfg)
	require.NoError(t, err)

	raw, err := p.AuthURL("state-abc", "")
	require.NoError(t, err)
	assert.Contains(t, raw, "login.microsoftonline.com/contoso.onmicrosoft.com/oauth2/v2.0/authorize")
	assert.Equal(t, "https://graph.microsoft.com/v1.0/me", p.cfg.UserInfoURL)
}

func TestOAuth2Authenticate(t *testing.T) {
	idp := newOAuth2TestIdP(t, map[string]interface{}{
		"sub":    "user-42",
		"email":  "pat@hospital.example.org",
		"name":   "Pat Example",
		"roles":  []interface{}{"clinician"},
		"groups": []interface{}{"radiology", "oncology"},
	})
	p := testOAuth2Provider(t, idp, nil)

	user, err := p.Authenticate(context.Background(), Callback{Code: "good-code"}, "")
	require.NoError(t, err)
	assert.Equal(t, "user-42", user.ID)
	assert.Equal(t, "pat@hospital.example.org", user.Email)
	assert.Equal(t, "Pat Example", user.Name)
	assert.Equal(t, []string{"clinician"}, user.Roles)
	assert.Equal(t, []string{"radiology", "oncology"}, user.Groups)
	assert.Equal(t, ProtocolOAuth2, user.Protocol)
	assert.Equal(t, "acme", user.Provider)
}

func TestOAuth2AuthenticateBadCode(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, nil)

	_, err := p.Authenticate(context.Background(), Callback{Code: "bad-code"}, "")
	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.False(t, exchangeErr.Timeout)
}

func TestOAuth2AuthenticateMissingCode(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, nil)

	_, err := p.Authenticate(context.Background(), Callback{}, "")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestOAuth2ExchangeTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	cfg := validOAuth2Config()
	cfg.OAuth2.TokenURL = slow.URL + "/token"
	cfg.OAuth2.UserInfoURL = slow.URL + "/userinfo"
	cfg.OAuth2.ExchangeTimeout = 50 * time.Millisecond
	p, err := NewOAuth2Provider(cfg)
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "any-code")
	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.True(t, exchangeErr.Timeout)
}

func TestOAuth2MapUserCandidateOrder(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, nil)

	// "sub" outranks "id" in the generic preset.
	user, err := p.MapUser(map[string]interface{}{
		"sub":   "primary",
		"id":    "secondary",
		"email": "a@b.example.org",
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", user.ID)

	// Single-string group claims are accepted.
	user, err = p.MapUser(map[string]interface{}{
		"sub":    "u1",
		"email":  "a@b.example.org",
		"groups": "cardiology",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cardiology"}, user.Groups)
}

func TestOAuth2MapUserRequiredFields(t *testing.T) {
	idp := newOAuth2TestIdP(t, nil)
	p := testOAuth2Provider(t, idp, nil)

	_, err := p.MapUser(map[string]interface{}{"email": "a@b.example.org"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	_, err = p.MapUser(map[string]interface{}{"sub": "u1"})
	require.ErrorAs(t, err, &authErr)
}

func TestOAuth2AttributeOverride(t *testing.T) {
	idp := newOAuth2TestIdP(t, map[string]interface{}{
		"employee_number": "e-77",
		"work_email":      "doc@clinic.example.org",
	})
	p := testOAuth2Provider(t, idp, func(cfg *ProviderConfig) {
		cfg.Attributes = &AttributeMap{
			UserID: []string{"employee_number"},
			Email:  []string{"work_email"},
		}
	})

	user, err := p.Authenticate(context.Background(), Callback{Code: "good-code"}, "")
	require.NoError(t, err)
	assert.Equal(t, "e-77", user.ID)
	assert.Equal(t, "doc@clinic.example.org", user.Email)
}
