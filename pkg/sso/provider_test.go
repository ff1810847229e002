package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIdPCertPEM generates a self-signed certificate standing in for an IdP
// signing certificate.
func testIdPCertPEM(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func validOAuth2Config() *ProviderConfig {
	return &ProviderConfig{
		Name:     "acme",
		Protocol: ProtocolOAuth2,
		Family:   FamilyGeneric,
		Enabled:  true,
		OAuth2: &OAuth2Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			AuthURL:      "https://idp.example.org/authorize",
			TokenURL:     "https://idp.example.org/token",
			UserInfoURL:  "https://idp.example.org/userinfo",
			RedirectURL:  "https://app.example.org/auth/oauth2/acme/callback",
			Scopes:       []string{"openid", "email"},
		},
	}
}

func validSAMLConfig(t *testing.T) *ProviderConfig {
	return &ProviderConfig{
		Name:     "hospital-idp",
		Protocol: ProtocolSAML,
		Family:   FamilyGeneric,
		Enabled:  true,
		SAML: &SAMLConfig{
			IdPEntityID: "https://idp.example.org/saml",
			SSOURL:      "https://idp.example.org/saml/sso",
			Certificate: testIdPCertPEM(t),
			SPEntityID:  "https://app.example.org/saml",
			CallbackURL: "https://app.example.org/auth/saml/hospital-idp/callback",
		},
	}
}

func TestNewProviderFailsClosed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  *ProviderConfig
	}{
		{"nil config", nil},
		{"missing name", &ProviderConfig{Protocol: ProtocolOAuth2}},
		{"unknown protocol", &ProviderConfig{Name: "x", Protocol: Protocol("ldap")}},
		{"unknown oauth2 family", func() *ProviderConfig {
			cfg := validOAuth2Config()
			cfg.Family = Family("facebook")
			return cfg
		}()},
		{"unknown saml family", func() *ProviderConfig {
			cfg := validSAMLConfig(t)
			cfg.Family = Family("shibboleth")
			return cfg
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(ctx, tt.cfg)
			require.Error(t, err)
			var configErr *ConfigError
			assert.ErrorAs(t, err, &configErr)
		})
	}
}

func TestOAuth2ConfigCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
		field  string
	}{
		{"missing client id", func(c *ProviderConfig) { c.OAuth2.ClientID = "" }, "client_id"},
		{"missing client secret", func(c *ProviderConfig) { c.OAuth2.ClientSecret = "" }, "client_secret"},
		{"missing auth url", func(c *ProviderConfig) { c.OAuth2.AuthURL = "" }, "auth_url"},
		{"missing token url", func(c *ProviderConfig) { c.OAuth2.TokenURL = "" }, "token_url"},
		{"missing userinfo url", func(c *ProviderConfig) { c.OAuth2.UserInfoURL = "" }, "user_info_url"},
		{"missing redirect url", func(c *ProviderConfig) { c.OAuth2.RedirectURL = "" }, "redirect_url"},
		{"missing scopes", func(c *ProviderConfig) { c.OAuth2.Scopes = nil }, "scopes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validOAuth2Config()
			tt.mutate(cfg)

			_, err := NewOAuth2Provider(cfg)
			require.Error(t, err)
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.field, configErr.Field)
		})
	}
}

func TestOAuth2AzureADRequiresTenant(t *testing.T) {
	cfg := validOAuth2Config()
	cfg.Family = FamilyAzureAD
	cfg.OAuth2.AuthURL = ""
	cfg.OAuth2.Tenant = ""

	_, err := NewOAuth2Provider(cfg)
	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "tenant", configErr.Field)
}

func TestSAMLConfigCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
		field  string
	}{
		{"missing idp entity id", func(c *ProviderConfig) { c.SAML.IdPEntityID = "" }, "idp_entity_id"},
		{"missing sso url", func(c *ProviderConfig) { c.SAML.SSOURL = "" }, "sso_url"},
		{"missing certificate", func(c *ProviderConfig) { c.SAML.Certificate = "" }, "certificate"},
		{"missing sp entity id", func(c *ProviderConfig) { c.SAML.SPEntityID = "" }, "sp_entity_id"},
		{"missing callback url", func(c *ProviderConfig) { c.SAML.CallbackURL = "" }, "callback_url"},
		{"sign requests without keypair", func(c *ProviderConfig) { c.SAML.SignRequests = true }, "private_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSAMLConfig(t)
			tt.mutate(cfg)

			_, err := NewSAMLProvider(cfg)
			require.Error(t, err)
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.field, configErr.Field)
		})
	}
}

func TestSAMLRejectsGarbageCertificate(t *testing.T) {
	cfg := validSAMLConfig(t)
	cfg.SAML.Certificate = "not a certificate"

	_, err := NewSAMLProvider(cfg)
	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "certificate", configErr.Field)
}

func TestOIDCConfigCompleteness(t *testing.T) {
	base := func() *ProviderConfig {
		return &ProviderConfig{
			Name:     "okta",
			Protocol: ProtocolOIDC,
			Family:   FamilyOkta,
			OIDC: &OIDCConfig{
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				IssuerURL:    "https://example.okta.com",
				RedirectURL:  "https://app.example.org/auth/oidc/okta/callback",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
		field  string
	}{
		{"missing issuer", func(c *ProviderConfig) { c.OIDC.IssuerURL = "" }, "issuer_url"},
		{"missing client id", func(c *ProviderConfig) { c.OIDC.ClientID = "" }, "client_id"},
		{"missing client secret", func(c *ProviderConfig) { c.OIDC.ClientSecret = "" }, "client_secret"},
		{"missing redirect url", func(c *ProviderConfig) { c.OIDC.RedirectURL = "" }, "redirect_url"},
		{"scopes without openid", func(c *ProviderConfig) { c.OIDC.Scopes = []string{"email"} }, "scopes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.field, configErr.Field)
		})
	}
}

func TestValidateConfigRequiresProtocolSection(t *testing.T) {
	err := ValidateConfig(&ProviderConfig{Name: "x", Protocol: ProtocolSAML})
	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "saml", configErr.Field)
}
