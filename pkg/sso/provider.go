package sso

import "context"

// Provider is the uniform contract both federation protocols implement. The
// Manager only sees this interface; protocol-specific operations (metadata,
// logout documents) live on the concrete types.
type Provider interface {
	// Name returns the registered provider instance name.
	Name() string

	// Protocol returns the federation protocol this provider speaks.
	Protocol() Protocol

	// Family returns the endpoint/claim-shape family.
	Family() Family

	// AuthURL builds the IdP authorization URL carrying the anti-CSRF
	// state. Nonce is embedded where the protocol supports it; SAML tracks
	// the request through its own document ID instead.
	AuthURL(state, nonce string) (string, error)

	// Authenticate validates a callback payload against the nonce recorded
	// at initiation and produces the normalized user. Network calls carry a
	// bounded timeout.
	Authenticate(ctx context.Context, cb Callback, nonce string) (*SSOUser, error)

	// Validate re-checks configuration completeness.
	Validate() error
}

// NewProvider constructs a provider from configuration. Unknown protocols
// and families fail closed with a ConfigError; nothing falls back to a
// default implementation. No network call happens before the configuration
// is structurally complete.
func NewProvider(ctx context.Context, cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, newConfigError("", "", "configuration is nil")
	}
	if cfg.Name == "" {
		return nil, newConfigError("", "name", "is required")
	}

	switch cfg.Protocol {
	case ProtocolOAuth2:
		return NewOAuth2Provider(cfg)
	case ProtocolOIDC:
		return NewOIDCProvider(ctx, cfg)
	case ProtocolSAML:
		return NewSAMLProvider(cfg)
	default:
		return nil, newConfigError(cfg.Name, "protocol", "unsupported protocol "+string(cfg.Protocol))
	}
}

// ValidateConfig reports whether a configuration could construct a provider,
// without performing discovery or other network calls.
func ValidateConfig(cfg *ProviderConfig) error {
	if cfg == nil {
		return newConfigError("", "", "configuration is nil")
	}
	if cfg.Name == "" {
		return newConfigError("", "name", "is required")
	}

	switch cfg.Protocol {
	case ProtocolOAuth2:
		if cfg.OAuth2 == nil {
			return newConfigError(cfg.Name, "oauth2", "section is required")
		}
		return validateOAuth2Config(cfg)
	case ProtocolOIDC:
		if cfg.OIDC == nil {
			return newConfigError(cfg.Name, "oidc", "section is required")
		}
		return validateOIDCConfig(cfg)
	case ProtocolSAML:
		if cfg.SAML == nil {
			return newConfigError(cfg.Name, "saml", "section is required")
		}
		return validateSAMLConfig(cfg)
	default:
		return newConfigError(cfg.Name, "protocol", "unsupported protocol "+string(cfg.Protocol))
	}
}
