package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/caremesh/ssocore/pkg/contextkeys"
	"github.com/caremesh/ssocore/pkg/cryptoutil"
	"github.com/caremesh/ssocore/pkg/token"
)

const (
	// SessionCookieName is the cookie the login callback sets.
	SessionCookieName = "sso_session"

	// verifyCacheSize bounds the verification cache.
	verifyCacheSize = 4096

	// verifyCacheTTL bounds how long a verification result may be reused.
	// Kept short so a revoked session stops passing guards quickly.
	verifyCacheTTL = 30 * time.Second
)

// AuthMiddleware verifies session tokens and attaches the claims to the
// request context. Verification results are cached briefly keyed by token
// hash, so hot paths do not re-check the signature on every request.
type AuthMiddleware struct {
	tokens   *token.Service
	cache    *expirable.LRU[string, *token.Claims]
	optional bool // If true, allow requests without a token
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(tokens *token.Service, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		cache:    expirable.NewLRU[string, *token.Claims](verifyCacheSize, nil, verifyCacheTTL),
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing session token")
			return
		}

		claims, err := m.verify(tokenString)
		if err != nil {
			unauthorizedResponse(w, "invalid or expired session")
			return
		}

		ctx := contextkeys.WithClaims(r.Context(), claims)
		ctx = contextkeys.WithUserID(ctx, claims.Subject)
		ctx = contextkeys.WithSessionID(ctx, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify checks the cache before falling back to a full signature check. A
// cached result is never trusted past the token's own expiry.
func (m *AuthMiddleware) verify(tokenString string) (*token.Claims, error) {
	key := cryptoutil.HashSHA256([]byte(tokenString))
	if claims, ok := m.cache.Get(key); ok {
		if claims.ExpiresAt != nil && claims.ExpiresAt.After(time.Now()) {
			return claims, nil
		}
		m.cache.Remove(key)
	}

	claims, err := m.tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, claims)
	return claims, nil
}

// extractToken prefers the Authorization header over the session cookie.
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetClaims extracts the verified session claims from a request.
func GetClaims(r *http.Request) *token.Claims {
	v := r.Context().Value(contextkeys.ClaimsKey)
	if v == nil {
		return nil
	}
	claims, ok := v.(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

// RequireRoles creates middleware that passes only requests whose session
// carries at least one of the given roles.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return requireMembership(roles, func(c *token.Claims) []string { return c.Roles })
}

// RequireGroups creates middleware that passes only requests whose session
// carries at least one of the given groups.
func RequireGroups(groups ...string) func(http.Handler) http.Handler {
	return requireMembership(groups, func(c *token.Claims) []string { return c.Groups })
}

func requireMembership(wanted []string, fetch func(*token.Claims) []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				forbiddenResponse(w, "authentication required")
				return
			}

			have := fetch(claims)
			for _, w2 := range wanted {
				for _, h := range have {
					if h == w2 {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			forbiddenResponse(w, "insufficient permissions")
		})
	}
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

func forbiddenResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
