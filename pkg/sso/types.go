package sso

import "time"

// Protocol is the federation protocol a provider speaks.
type Protocol string

const (
	ProtocolOAuth2 Protocol = "oauth2"
	ProtocolOIDC   Protocol = "oidc"
	ProtocolSAML   Protocol = "saml"
)

// Family selects the endpoint shape and claim-name conventions of a provider.
// Unknown families fail closed at construction; there is no silent fallback
// to generic.
type Family string

const (
	FamilyAzureAD Family = "azuread"
	FamilyGoogle  Family = "google"
	FamilyOkta    Family = "okta"
	FamilyGeneric Family = "generic"
)

// SSOUser is the normalized identity a provider produces on successful
// authentication. It is created fresh on every login and never persisted by
// this core.
type SSOUser struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Name     string                 `json:"name,omitempty"`
	Roles    []string               `json:"roles,omitempty"`
	Groups   []string               `json:"groups,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Provider string   `json:"provider"`
	Protocol Protocol `json:"protocol"`

	// SessionIndex is the IdP's session handle, needed for SAML logout.
	SessionIndex string `json:"session_index,omitempty"`
}

// AttributeMap holds ordered claim-name candidates per user field. The first
// candidate present in the provider's response wins. Families ship presets;
// a config may override them for nonstandard IdPs.
type AttributeMap struct {
	UserID []string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email  []string `json:"email,omitempty" yaml:"email,omitempty"`
	Name   []string `json:"name,omitempty" yaml:"name,omitempty"`
	Roles  []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// merge overlays non-empty override fields onto the preset.
func (m AttributeMap) merge(override *AttributeMap) AttributeMap {
	if override == nil {
		return m
	}
	if len(override.UserID) > 0 {
		m.UserID = override.UserID
	}
	if len(override.Email) > 0 {
		m.Email = override.Email
	}
	if len(override.Name) > 0 {
		m.Name = override.Name
	}
	if len(override.Roles) > 0 {
		m.Roles = override.Roles
	}
	if len(override.Groups) > 0 {
		m.Groups = override.Groups
	}
	return m
}

// ProviderConfig holds the per-provider connection parameters. Exactly one
// protocol-specific section must be set, matching Protocol.
type ProviderConfig struct {
	Name     string   `json:"name" yaml:"name"`
	Protocol Protocol `json:"protocol" yaml:"protocol"`
	Family   Family   `json:"family" yaml:"family"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`

	OAuth2 *OAuth2Config `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	OIDC   *OIDCConfig   `json:"oidc,omitempty" yaml:"oidc,omitempty"`
	SAML   *SAMLConfig   `json:"saml,omitempty" yaml:"saml,omitempty"`

	// Attributes overrides the family's claim-mapping preset.
	Attributes *AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// OAuth2Config holds OAuth2 authorization-code settings.
type OAuth2Config struct {
	ClientID string `json:"client_id" yaml:"client_id"`

	// ClientSecret is accepted on input (config files and the provider
	// admin endpoint) but must never be echoed back to clients.
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret"`

	// AuthURL and TokenURL may be left empty for the azuread and google
	// families, which derive their well-known endpoints.
	AuthURL     string   `json:"auth_url,omitempty" yaml:"auth_url,omitempty"`
	TokenURL    string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	UserInfoURL string   `json:"user_info_url,omitempty" yaml:"user_info_url,omitempty"`
	RedirectURL string   `json:"redirect_url" yaml:"redirect_url"`
	Scopes      []string `json:"scopes" yaml:"scopes"`

	// Tenant is the directory tenant segment; required for azuread.
	Tenant string `json:"tenant,omitempty" yaml:"tenant,omitempty"`

	// ExtraParams are appended to the authorization URL (generic family).
	ExtraParams map[string]string `json:"extra_params,omitempty" yaml:"extra_params,omitempty"`

	// ExchangeTimeout bounds the upstream token and userinfo calls; zero
	// means DefaultExchangeTimeout.
	ExchangeTimeout time.Duration `json:"exchange_timeout,omitempty" yaml:"exchange_timeout,omitempty"`
}

// OIDCConfig holds OpenID Connect settings. Endpoints come from discovery.
type OIDCConfig struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret"`

	// IssuerURL may be left empty for the azuread (derived from Tenant) and
	// google families.
	IssuerURL   string   `json:"issuer_url,omitempty" yaml:"issuer_url,omitempty"`
	RedirectURL string   `json:"redirect_url" yaml:"redirect_url"`
	Scopes      []string `json:"scopes" yaml:"scopes"`
	Tenant      string   `json:"tenant,omitempty" yaml:"tenant,omitempty"`

	ExchangeTimeout time.Duration `json:"exchange_timeout,omitempty" yaml:"exchange_timeout,omitempty"`
}

// SAMLConfig holds SAML 2.0 service-provider settings.
type SAMLConfig struct {
	// IdPEntityID is the identity provider's issuer value.
	IdPEntityID string `json:"idp_entity_id" yaml:"idp_entity_id"`

	// SSOURL is the IdP's SingleSignOnService endpoint.
	SSOURL string `json:"sso_url" yaml:"sso_url"`

	// SLOURL is the IdP's SingleLogoutService endpoint, if any.
	SLOURL string `json:"slo_url,omitempty" yaml:"slo_url,omitempty"`

	// Certificate is the PEM-encoded IdP signing certificate used to
	// validate assertion signatures.
	Certificate string `json:"certificate" yaml:"certificate"`

	// SPCertificate and PrivateKey are the PEM-encoded SP signing keypair;
	// both are required when SignRequests.
	SPCertificate string `json:"sp_certificate,omitempty" yaml:"sp_certificate,omitempty"`
	PrivateKey    string `json:"private_key,omitempty" yaml:"private_key,omitempty"`

	// SPEntityID is this service provider's issuer value.
	SPEntityID string `json:"sp_entity_id" yaml:"sp_entity_id"`

	// CallbackURL is the assertion consumer service endpoint.
	CallbackURL string `json:"callback_url" yaml:"callback_url"`

	AudienceURI  string `json:"audience_uri,omitempty" yaml:"audience_uri,omitempty"`
	NameIDFormat string `json:"name_id_format,omitempty" yaml:"name_id_format,omitempty"`
	SignRequests bool   `json:"sign_requests" yaml:"sign_requests"`
}

// Callback carries the raw parameters an IdP posted back, plus request
// context for the audit trail.
type Callback struct {
	// OAuth2/OIDC
	Code  string
	State string

	// SAML
	SAMLResponse string
	RelayState   string

	IP        string
	UserAgent string
}

// StateValue returns the handshake state regardless of protocol: the OAuth2
// state parameter or the SAML RelayState.
func (cb Callback) StateValue() string {
	if cb.State != "" {
		return cb.State
	}
	return cb.RelayState
}
