package token

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Token use values distinguish full session tokens from narrow-purpose ones.
const (
	UseSession = "session"
	UseLimited = "limited"
)

// Claims is the signed claim set embedded in every issued token.
type Claims struct {
	jwt.RegisteredClaims

	Email     string                 `json:"email,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Roles     []string               `json:"roles,omitempty"`
	Groups    []string               `json:"groups,omitempty"`
	SessionID string                 `json:"sid"`
	Provider  string                 `json:"provider,omitempty"`
	Protocol  string                 `json:"protocol,omitempty"`
	TokenUse  string                 `json:"token_use"`
	Purpose   string                 `json:"purpose,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// UserID returns the provider-stable subject identifier.
func (c *Claims) UserID() string {
	return c.Subject
}

// HasRole reports whether the claim set carries the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroup reports whether the claim set carries the given group.
func (c *Claims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Identity is the authenticated user a provider produced. It is the token
// service's own input type so the provider layer stays decoupled from it.
type Identity struct {
	ID       string
	Email    string
	Name     string
	Roles    []string
	Groups   []string
	Metadata map[string]interface{}
}

// Session describes the login session a token belongs to.
type Session struct {
	ID           string
	UserID       string
	Provider     string
	Protocol     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	Metadata     map[string]interface{}
}

// Introspection is the result of a non-throwing token inspection.
type Introspection struct {
	Active    bool       `json:"active"`
	Expired   bool       `json:"expired,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Protocol  string     `json:"protocol,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
	Groups    []string   `json:"groups,omitempty"`
	TokenUse  string     `json:"token_use,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
