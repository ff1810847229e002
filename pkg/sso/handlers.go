package sso

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/caremesh/ssocore/pkg/observability"
	"github.com/caremesh/ssocore/pkg/token"
)

// Handlers binds the SSO core to an HTTP surface. The router is owned by the
// hosting application; RegisterRoutes only attaches paths.
type Handlers struct {
	manager *Manager
	logger  *observability.Logger
}

// NewHandlers creates the HTTP handler set for a manager.
func NewHandlers(manager *Manager, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{manager: manager, logger: logger}
}

// RegisterRoutes attaches all SSO routes to the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Login flows
	router.HandleFunc("/auth/oauth2/{provider}", h.login).Methods("GET")
	router.HandleFunc("/auth/oauth2/{provider}/callback", h.oauth2Callback).Methods("GET", "POST")
	router.HandleFunc("/auth/saml/{provider}", h.login).Methods("GET")
	router.HandleFunc("/auth/saml/{provider}/callback", h.samlCallback).Methods("POST")
	router.HandleFunc("/auth/saml/{provider}/metadata", h.samlMetadata).Methods("GET")

	// Session lifecycle
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")

	// Provider administration
	router.HandleFunc("/auth/providers", h.listProviders).Methods("GET")
	router.HandleFunc("/auth/providers", h.createProvider).Methods("POST")
	router.HandleFunc("/auth/providers/{name}", h.deleteProvider).Methods("DELETE")

	router.HandleFunc("/auth/health", h.health).Methods("GET")
}

// login handles GET /auth/{protocol}/{provider}: 302 to the IdP.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]
	redirectURI := r.URL.Query().Get("redirect_uri")

	url, err := h.manager.AuthURL(r.Context(), providerName, redirectURI)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// oauth2Callback handles the authorization-code redirect from the IdP.
func (h *Handlers) oauth2Callback(w http.ResponseWriter, r *http.Request) {
	cb := Callback{
		Code:      r.FormValue("code"),
		State:     r.FormValue("state"),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	h.completeLogin(w, r, mux.Vars(r)["provider"], cb)
}

// samlCallback handles the assertion POST from the IdP.
func (h *Handlers) samlCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, &ValidationError{Field: "form", Reason: err.Error()})
		return
	}
	cb := Callback{
		SAMLResponse: r.FormValue("SAMLResponse"),
		RelayState:   r.FormValue("RelayState"),
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	}
	h.completeLogin(w, r, mux.Vars(r)["provider"], cb)
}

func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, providerName string, cb Callback) {
	result, err := h.manager.HandleCallback(r.Context(), providerName, cb)
	if err != nil {
		h.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "sso_session",
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  result.Session.ExpiresAt,
	})

	if result.RedirectURI != "" {
		http.Redirect(w, r, result.RedirectURI, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// samlMetadata serves the SP metadata document for a SAML provider.
func (h *Handlers) samlMetadata(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	p, err := h.manager.Registry().Get(providerName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	samlProvider, ok := p.(*SAMLProvider)
	if !ok {
		h.writeError(w, &ValidationError{Field: "provider", Reason: "not a SAML provider"})
		return
	}

	metadata, err := samlProvider.MetadataXML()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

// refresh handles POST /auth/refresh with a bearer token.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		h.writeError(w, &ValidationError{Field: "authorization", Reason: "bearer token required"})
		return
	}

	signed, claims, err := h.manager.Refresh(r.Context(), tokenString)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      signed,
		"session_id": claims.SessionID,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// logout handles POST /auth/logout. It always returns 200: logging out an
// already-dead session is not an error.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	cb := Callback{IP: clientIP(r), UserAgent: r.UserAgent()}
	info := h.manager.Logout(r.Context(), bearerToken(r), cb)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logged_out": true,
		"session_id": info.SessionID,
	})
}

// listProviders handles GET /auth/providers.
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Registry().List())
}

// createProvider handles POST /auth/providers: constructs, validates, and
// registers a provider from the posted configuration.
func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var cfg ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, &ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	p, err := NewProvider(r.Context(), &cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Registry().Register(p); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"provider": cfg.Name,
		"protocol": cfg.Protocol,
	}).Info("provider registered")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":     p.Name(),
		"protocol": p.Protocol(),
		"family":   p.Family(),
	})
}

// deleteProvider handles DELETE /auth/providers/{name}.
func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := h.manager.Registry().Get(name); err != nil {
		h.writeError(w, err)
		return
	}
	h.manager.Registry().Remove(name)
	h.logger.WithField("provider", name).Info("provider removed")
	w.WriteHeader(http.StatusNoContent)
}

// health handles GET /auth/health: 200 when every provider can produce an
// authorization URL, 503 otherwise.
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	results := h.manager.ProviderHealth(r.Context())

	status := http.StatusOK
	body := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
		} else {
			body[name] = "ok"
		}
	}
	writeJSON(w, status, body)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var configErr *ConfigError
	var validationErr *ValidationError
	var authErr *AuthError
	var exchangeErr *ExchangeError
	switch {
	case errors.As(err, &configErr):
		status = http.StatusNotFound
		if configErr.Field != "" {
			status = http.StatusBadRequest
		}
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &exchangeErr):
		status = http.StatusBadGateway
	case errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, token.ErrSessionRevoked):
		status = http.StatusUnauthorized
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// clientIP prefers the forwarding headers set by the TLS terminator.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
