package sso

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements OpenID Connect on top of the authorization-code
// grant: endpoints come from issuer discovery and the identity is read from
// a signature- and nonce-verified ID token instead of a userinfo call.
type OIDCProvider struct {
	name     string
	family   Family
	cfg      *OIDCConfig
	attrs    AttributeMap
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
	timeout  time.Duration
}

// NewOIDCProvider creates an OIDC provider. Configuration is validated
// before discovery so an incomplete config never reaches the network.
func NewOIDCProvider(ctx context.Context, cfg *ProviderConfig) (*OIDCProvider, error) {
	if cfg.OIDC == nil {
		return nil, newConfigError(cfg.Name, "oidc", "section is required")
	}
	if err := validateOIDCConfig(cfg); err != nil {
		return nil, err
	}

	oc := *cfg.OIDC
	applyOIDCFamilyDefaults(cfg.Family, &oc)

	provider, err := oidc.NewProvider(ctx, oc.IssuerURL)
	if err != nil {
		return nil, newConfigError(cfg.Name, "issuer_url", "discovery failed: "+err.Error())
	}

	timeout := oc.ExchangeTimeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}

	return &OIDCProvider{
		name:     cfg.Name,
		family:   cfg.Family,
		cfg:      &oc,
		attrs:    oidcAttributes(cfg.Family).merge(cfg.Attributes),
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: oc.ClientID}),
		oauth2: &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  oc.RedirectURL,
			Scopes:       oc.Scopes,
		},
		timeout: timeout,
	}, nil
}

func validateOIDCConfig(cfg *ProviderConfig) error {
	oc := cfg.OIDC

	switch cfg.Family {
	case FamilyAzureAD:
		if oc.Tenant == "" && oc.IssuerURL == "" {
			return newConfigError(cfg.Name, "tenant", "is required for the azuread family")
		}
	case FamilyGoogle:
		// Issuer is well-known.
	case FamilyOkta, FamilyGeneric:
		if oc.IssuerURL == "" {
			return newConfigError(cfg.Name, "issuer_url", "is required")
		}
	default:
		return newConfigError(cfg.Name, "family", "unsupported oidc family "+string(cfg.Family))
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

	if len(oc.Scopes) > 0 && !containsScope(oc.Scopes, oidc.ScopeOpenID) {
		return newConfigError(cfg.Name, "scopes", "must include openid")
	}
	return nil
}

func applyOIDCFamilyDefaults(family Family, oc *OIDCConfig) {
	switch family {
	case FamilyAzureAD:
		if oc.IssuerURL == "" {
			oc.IssuerURL = "https://login.microsoftonline.com/" + oc.Tenant + "/v2.0"
		}
	case FamilyGoogle:
		if oc.IssuerURL == "" {
			oc.IssuerURL = "https://accounts.google.com"
		}
	}
	if len(oc.Scopes) == 0 {
		oc.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
}

// oidcAttributes returns the ID-token claim preset for a family.
func oidcAttributes(family Family) AttributeMap {
	switch family {
	case FamilyAzureAD:
		return AttributeMap{
			UserID: []string{"oid", "sub"},
			Email:  []string{"email", "preferred_username", "upn"},
			Name:   []string{"name"},
			Roles:  []string{"roles"},
			Groups: []string{"groups"},
		}
	case FamilyOkta:
		return AttributeMap{
			UserID: []string{"sub"},
			Email:  []string{"email", "preferred_username"},
			Name:   []string{"name"},
			Roles:  []string{"roles"},
			Groups: []string{"groups"},
		}
	default:
		return AttributeMap{
			UserID: []string{"sub"},
			Email:  []string{"email", "preferred_username"},
			Name:   []string{"name", "given_name"},
			Roles:  []string{"roles"},
			Groups: []string{"groups"},
		}
	}
}

func (p *OIDCProvider) Name() string       { return p.name }
func (p *OIDCProvider) Protocol() Protocol { return ProtocolOIDC }
func (p *OIDCProvider) Family() Family     { return p.family }

// AuthURL builds the authorization URL with the state and the nonce the ID
// token must echo back.
func (p *OIDCProvider) AuthURL(state, nonce string) (string, error) {
	if state == "" {
		return "", &ValidationError{Field: "state", Reason: "must not be empty"}
	}

	opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
	if p.family == FamilyGoogle {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	return p.oauth2.AuthCodeURL(state, opts...), nil
}

// Authenticate exchanges the code, verifies the ID token signature and
// nonce, and maps its claims to the normalized user.
func (p *OIDCProvider) Authenticate(ctx context.Context, cb Callback, nonce string) (*SSOUser, error) {
	if cb.Code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.oauth2.Exchange(exchangeCtx, cb.Code)
	if err != nil {
		return nil, &ExchangeError{Provider: p.name, Timeout: isTimeout(err), Err: err}
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, newAuthError(p.name, "token response carries no id_token", nil)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, newAuthError(p.name, "id_token verification failed", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, newAuthError(p.name, "id_token nonce does not match the login handshake", nil)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, newAuthError(p.name, "malformed id_token claims", err)
	}

	user := &SSOUser{
		ID:       firstString(claims, p.attrs.UserID),
		Email:    firstString(claims, p.attrs.Email),
		Name:     firstString(claims, p.attrs.Name),
		Roles:    stringList(claims, p.attrs.Roles),
		Groups:   stringList(claims, p.attrs.Groups),
		Metadata: claims,
		Provider: p.name,
		Protocol: ProtocolOIDC,
	}
	if user.ID == "" {
		user.ID = idToken.Subject
	}
	if user.ID == "" {
		return nil, newAuthError(p.name, "id_token carries no subject", nil)
	}
	if user.Email == "" {
		return nil, newAuthError(p.name, "id_token carries no email", nil)
	}
	return user, nil
}

// Validate re-checks configuration completeness.
func (p *OIDCProvider) Validate() error {
	return validateOIDCConfig(&ProviderConfig{Name: p.name, Family: p.family, OIDC: p.cfg})
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
