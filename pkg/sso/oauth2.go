package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExchangeTimeout bounds upstream IdP calls during the callback.
const DefaultExchangeTimeout = 10 * time.Second

// OAuth2Provider implements the authorization-code grant against one IdP.
// Family differences are confined to endpoint defaults, extra authorization
// parameters, and the claim-name preset.
type OAuth2Provider struct {
	name    string
	family  Family
	cfg     *OAuth2Config
	attrs   AttributeMap
	oauth2  *oauth2.Config
	timeout time.Duration
}

// NewOAuth2Provider creates an OAuth2 provider. Configuration completeness is
// enforced here, before any network call can be attempted.
func NewOAuth2Provider(cfg *ProviderConfig) (*OAuth2Provider, error) {
	if cfg.OAuth2 == nil {
		return nil, newConfigError(cfg.Name, "oauth2", "section is required")
	}
	if err := validateOAuth2Config(cfg); err != nil {
		return nil, err
	}

	oc := *cfg.OAuth2
	applyOAuth2FamilyDefaults(cfg.Family, &oc)

	timeout := oc.ExchangeTimeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}

	return &OAuth2Provider{
		name:   cfg.Name,
		family: cfg.Family,
		cfg:    &oc,
		attrs:  oauth2Attributes(cfg.Family).merge(cfg.Attributes),
		oauth2: &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  oc.AuthURL,
				TokenURL: oc.TokenURL,
			},
			RedirectURL: oc.RedirectURL,
			Scopes:      oc.Scopes,
		},
		timeout: timeout,
	}, nil
}

func validateOAuth2Config(cfg *ProviderConfig) error {
	oc := cfg.OAuth2

	switch cfg.Family {
	case FamilyAzureAD:
		if oc.Tenant == "" && oc.AuthURL == "" {
			return newConfigError(cfg.Name, "tenant", "is required for the azuread family")
		}
	case FamilyGoogle:
		// Endpoints are well-known.
	case FamilyGeneric:
		if oc.AuthURL == "" {
			return newConfigError(cfg.Name, "auth_url", "is required for the generic family")
		}
		if oc.TokenURL == "" {
			return newConfigError(cfg.Name, "token_url", "is required for the generic family")
		}
		if oc.UserInfoURL == "" {
			return newConfigError(cfg.Name, "user_info_url", "is required for the generic family")
		}
		if len(oc.Scopes) == 0 {
			return newConfigError(cfg.Name, "scopes", "are required for the generic family")
		}
	default:
		return newConfigError(cfg.Name, "family", "unsupported oauth2 family "+string(cfg.Family))
	}

	if oc.ClientID == "" {
		return newConfigError(cfg.Name, "client_id", "is required")
	}
	if oc.ClientSecret == "" {
		return newConfigError(cfg.Name, "client_secret", "is required")
	}
	if oc.RedirectURL == "" {
		return newConfigError(cfg.Name, "redirect_url", "is required")
	}
	return nil
}

// applyOAuth2FamilyDefaults fills well-known endpoints and scopes for
// families that have them. Explicit settings always win, so tests and
// nonstandard tenants can point anywhere.
func applyOAuth2FamilyDefaults(family Family, oc *OAuth2Config) {
	switch family {
	case FamilyAzureAD:
		base := "https://login.microsoftonline.com/" + oc.Tenant + "/oauth2/v2.0"
		if oc.AuthURL == "" {
			oc.AuthURL = base + "/authorize"
		}
		if oc.TokenURL == "" {
			oc.TokenURL = base + "/token"
		}
		if oc.UserInfoURL == "" {
			oc.UserInfoURL = "https://graph.microsoft.com/v1.0/me"
		}
		if len(oc.Scopes) == 0 {
			oc.Scopes = []string{"openid", "profile", "email", "User.Read"}
		}
	case FamilyGoogle:
		if oc.AuthURL == "" {
			oc.AuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
		}
		if oc.TokenURL == "" {
			oc.TokenURL = "https://oauth2.googleapis.com/token"
		}
		if oc.UserInfoURL == "" {
			oc.UserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
		}
		if len(oc.Scopes) == 0 {
			oc.Scopes = []string{"openid", "profile", "email"}
		}
	}
}

// oauth2Attributes returns the claim-name preset for a family's userinfo
// response.
func oauth2Attributes(family Family) AttributeMap {
	switch family {
	case FamilyAzureAD:
		return AttributeMap{
			UserID: []string{"id", "oid", "sub"},
			Email:  []string{"mail", "userPrincipalName", "email"},
			Name:   []string{"displayName", "name"},
			Roles:  []string{"roles"},
			Groups: []string{"groups"},
		}
	case FamilyGoogle:
		return AttributeMap{
			UserID: []string{"sub", "id"},
			Email:  []string{"email"},
			Name:   []string{"name"},
			Roles:  []string{"roles"},
			Groups: []string{"groups"},
		}
	default:
		return AttributeMap{
			UserID: []string{"sub", "id", "user_id"},
			Email:  []string{"email", "mail"},
			Name:   []string{"name", "display_name", "displayName"},
			Roles:  []string{"roles", "role"},
			Groups: []string{"groups", "memberOf"},
		}
	}
}

func (p *OAuth2Provider) Name() string       { return p.name }
func (p *OAuth2Provider) Protocol() Protocol { return ProtocolOAuth2 }
func (p *OAuth2Provider) Family() Family     { return p.family }

// AuthURL builds the authorization endpoint URL with response_type=code and
// the anti-CSRF state. The plain OAuth2 flow has no nonce parameter; the
// nonce stays server-side, bound to the handshake entry.
func (p *OAuth2Provider) AuthURL(state, _ string) (string, error) {
	if state == "" {
		return "", &ValidationError{Field: "state", Reason: "must not be empty"}
	}

	var opts []oauth2.AuthCodeOption
	if p.family == FamilyGoogle {
		// Google only returns a refresh token for offline access.
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	for k, v := range p.cfg.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return p.oauth2.AuthCodeURL(state, opts...), nil
}

// Authenticate exchanges the authorization code and maps the userinfo
// response to the normalized user shape.
func (p *OAuth2Provider) Authenticate(ctx context.Context, cb Callback, _ string) (*SSOUser, error) {
	if cb.Code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	tok, err := p.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	claims, err := p.FetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	return p.MapUser(claims)
}

// Exchange performs the authorization-code exchange with a bounded timeout.
// Any failure yields a typed ExchangeError, never a partial token.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Provider: p.name, Timeout: isTimeout(err), Err: err}
	}
	return tok, nil
}

// FetchUserInfo retrieves the profile from the userinfo endpoint.
func (p *OAuth2Provider) FetchUserInfo(ctx context.Context, tok *oauth2.Token) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.oauth2.Client(ctx, tok).Get(p.cfg.UserInfoURL)
	if err != nil {
		return nil, &ExchangeError{Provider: p.name, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ExchangeError{
			Provider: p.name,
			Err:      fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, newAuthError(p.name, "malformed userinfo response", err)
	}
	return claims, nil
}

// MapUser resolves the family's ordered claim-name candidates against the
// userinfo claims.
func (p *OAuth2Provider) MapUser(claims map[string]interface{}) (*SSOUser, error) {
	user := &SSOUser{
		ID:       firstString(claims, p.attrs.UserID),
		Email:    firstString(claims, p.attrs.Email),
		Name:     firstString(claims, p.attrs.Name),
		Roles:    stringList(claims, p.attrs.Roles),
		Groups:   stringList(claims, p.attrs.Groups),
		Metadata: claims,
		Provider: p.name,
		Protocol: ProtocolOAuth2,
	}

	if user.ID == "" {
		return nil, newAuthError(p.name, "userinfo response carries no user identifier", nil)
	}
	if user.Email == "" {
		return nil, newAuthError(p.name, "userinfo response carries no email", nil)
	}
	return user, nil
}

// Validate re-checks configuration completeness.
func (p *OAuth2Provider) Validate() error {
	return validateOAuth2Config(&ProviderConfig{Name: p.name, Family: p.family, OAuth2: p.cfg})
}

// isTimeout reports whether an upstream call failed on a deadline rather
// than a refusal.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// firstString returns the first candidate claim present with a non-empty
// string value.
func firstString(claims map[string]interface{}, candidates []string) string {
	for _, key := range candidates {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// stringList returns the first candidate claim present, accepting both a
// JSON array and a single string value.
func stringList(claims map[string]interface{}, candidates []string) []string {
	for _, key := range candidates {
		switch v := claims[key].(type) {
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if v != "" {
				return []string{v}
			}
		}
	}
	return nil
}
