package sso

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"encoding/xml"
	"time"

	"github.com/beevik/etree"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/caremesh/ssocore/pkg/cryptoutil"
)

// SAMLProvider implements SP-initiated SAML 2.0 Web Browser SSO against one
// IdP. Families differ only in the attribute claim names their assertions
// carry.
type SAMLProvider struct {
	name   string
	family Family
	cfg    *SAMLConfig
	attrs  AttributeMap
	sp     *saml2.SAMLServiceProvider
}

// NewSAMLProvider creates a SAML provider. The IdP certificate is parsed
// here so a provider that cannot validate assertions is never constructed.
func NewSAMLProvider(cfg *ProviderConfig) (*SAMLProvider, error) {
	if cfg.SAML == nil {
		return nil, newConfigError(cfg.Name, "saml", "section is required")
	}
	if err := validateSAMLConfig(cfg); err != nil {
		return nil, err
	}
	sc := cfg.SAML

	certBlock, _ := pem.Decode([]byte(sc.Certificate))
	if certBlock == nil {
		return nil, newConfigError(cfg.Name, "certificate", "not valid PEM")
	}
	idpCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, newConfigError(cfg.Name, "certificate", "not a valid X.509 certificate: "+err.Error())
	}

	var keyStore dsig.X509KeyStore
	if sc.SignRequests {
		keypair, err := tls.X509KeyPair([]byte(sc.SPCertificate), []byte(sc.PrivateKey))
		if err != nil {
			return nil, newConfigError(cfg.Name, "private_key", "invalid SP signing keypair: "+err.Error())
		}
		ks := dsig.TLSCertKeyStore(keypair)
		keyStore = &ks
	}

	audience := sc.AudienceURI
	if audience == "" {
		audience = sc.SPEntityID
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      sc.SSOURL,
		IdentityProviderIssuer:      sc.IdPEntityID,
		ServiceProviderIssuer:       sc.SPEntityID,
		AssertionConsumerServiceURL: sc.CallbackURL,
		SignAuthnRequests:           sc.SignRequests,
		AudienceURI:                 audience,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{idpCert},
		},
		SPKeyStore: keyStore,
	}
	if sc.NameIDFormat != "" {
		sp.NameIdFormat = sc.NameIDFormat
	}

	return &SAMLProvider{
		name:   cfg.Name,
		family: cfg.Family,
		cfg:    sc,
		attrs:  samlAttributes(cfg.Family).merge(cfg.Attributes),
		sp:     sp,
	}, nil
}

func validateSAMLConfig(cfg *ProviderConfig) error {
	sc := cfg.SAML

	switch cfg.Family {
	case FamilyAzureAD, FamilyOkta, FamilyGeneric:
	default:
		return newConfigError(cfg.Name, "family", "unsupported saml family "+string(cfg.Family))
	}

	if sc.IdPEntityID == "" {
		return newConfigError(cfg.Name, "idp_entity_id", "is required")
	}
	if sc.SSOURL == "" {
		return newConfigError(cfg.Name, "sso_url", "is required")
	}
	if sc.Certificate == "" {
		return newConfigError(cfg.Name, "certificate", "is required")
	}
	if sc.SPEntityID == "" {
		return newConfigError(cfg.Name, "sp_entity_id", "is required")
	}
	if sc.CallbackURL == "" {
		return newConfigError(cfg.Name, "callback_url", "is required")
	}
	if sc.SignRequests && (sc.PrivateKey == "" || sc.SPCertificate == "") {
		return newConfigError(cfg.Name, "private_key", "SP keypair is required when sign_requests is set")
	}
	return nil
}

// samlAttributes returns the assertion attribute-name preset for a family.
// Enterprise directories use full claim URIs; most hosted IdPs use short
// names; generic tries both conventions in order.
func samlAttributes(family Family) AttributeMap {
	switch family {
	case FamilyAzureAD:
		return AttributeMap{
			UserID: []string{
				"http://schemas.microsoft.com/identity/claims/objectidentifier",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
			},
			Email: []string{
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/upn",
			},
			Name: []string{
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
				"http://schemas.microsoft.com/identity/claims/displayname",
			},
			Roles:  []string{"http://schemas.microsoft.com/ws/2008/06/identity/claims/role"},
			Groups: []string{"http://schemas.microsoft.com/ws/2008/06/identity/claims/groups"},
		}
	case FamilyOkta:
		return AttributeMap{
			UserID: []string{"userId", "id"},
			Email:  []string{"email"},
			Name:   []string{"displayName", "name"},
			Roles:  []string{"roles", "role"},
			Groups: []string{"groups", "memberOf"},
		}
	default:
		return AttributeMap{
			UserID: []string{
				"uid", "user_id", "userId",
				"http://schemas.microsoft.com/identity/claims/objectidentifier",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
			},
			Email: []string{
				"email", "mail", "emailAddress",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/upn",
			},
			Name: []string{
				"displayName", "name", "cn",
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
			},
			Roles: []string{
				"roles", "role",
				"http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
			},
			Groups: []string{
				"groups", "memberOf",
				"http://schemas.microsoft.com/ws/2008/06/identity/claims/groups",
			},
		}
	}
}

func (p *SAMLProvider) Name() string       { return p.name }
func (p *SAMLProvider) Protocol() Protocol { return ProtocolSAML }
func (p *SAMLProvider) Family() Family     { return p.family }

// AuthURL builds the redirect-binding URL: a deflate+base64 encoded
// AuthnRequest appended to the IdP's SSO endpoint with the RelayState. When
// requestID is non-empty it becomes the AuthnRequest ID, so the IdP's
// response can be correlated back to this request via InResponseTo.
func (p *SAMLProvider) AuthURL(state, requestID string) (string, error) {
	if state == "" {
		return "", &ValidationError{Field: "state", Reason: "must not be empty"}
	}
	doc, err := p.sp.BuildAuthRequestDocumentNoSig()
	if err != nil {
		return "", newAuthError(p.name, "failed to build authentication request", err)
	}
	if requestID != "" {
		doc.Root().CreateAttr("ID", requestID)
	}
	// The ID is set before signing so a signed request still verifies.
	if p.cfg.SignRequests {
		signed, err := p.sp.SignAuthnRequest(doc.Root())
		if err != nil {
			return "", newAuthError(p.name, "failed to sign authentication request", err)
		}
		doc.SetRoot(signed)
	}
	url, err := p.sp.BuildAuthURLFromDocument(state, doc)
	if err != nil {
		return "", newAuthError(p.name, "failed to build authentication request", err)
	}
	return url, nil
}

// AuthnRequestXML renders the samlp:AuthnRequest document this provider
// would send, with a fresh ID and IssueInstant.
func (p *SAMLProvider) AuthnRequestXML() (string, error) {
	doc, err := p.sp.BuildAuthRequestDocument()
	if err != nil {
		return "", newAuthError(p.name, "failed to build authentication request", err)
	}
	return doc.WriteToString()
}

// Authenticate validates the posted assertion and maps it to the normalized
// user. requestID is the AuthnRequest ID recorded at initiation; the
// assertion must answer that request.
func (p *SAMLProvider) Authenticate(_ context.Context, cb Callback, requestID string) (*SSOUser, error) {
	if cb.SAMLResponse == "" {
		return nil, &ValidationError{Field: "SAMLResponse", Reason: "must not be empty"}
	}
	info, err := p.ValidateAssertion(cb.SAMLResponse)
	if err != nil {
		return nil, err
	}
	if err := checkInResponseTo(p.name, requestID, info); err != nil {
		return nil, err
	}
	return p.MapUser(info)
}

// ValidateAssertion checks the base64-encoded SAMLResponse: signature
// against the configured IdP certificate, validity window, and audience. A
// response with no assertion, or an assertion outside NotBefore/NotOnOrAfter,
// is rejected even when its signature verifies.
func (p *SAMLProvider) ValidateAssertion(encodedResponse string) (*saml2.AssertionInfo, error) {
	info, err := p.sp.RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, newAuthError(p.name, "assertion validation failed", err)
	}
	if err := checkAssertionWarnings(p.name, info); err != nil {
		return nil, err
	}
	return info, nil
}

// checkInResponseTo verifies the assertion confirms the AuthnRequest this
// service issued. A valid, signed assertion minted for some other request
// must not complete this handshake.
func checkInResponseTo(provider, requestID string, info *saml2.AssertionInfo) error {
	if requestID == "" {
		return nil
	}
	for _, a := range info.Assertions {
		if a.Subject == nil || a.Subject.SubjectConfirmation == nil ||
			a.Subject.SubjectConfirmation.SubjectConfirmationData == nil {
			continue
		}
		echoed := a.Subject.SubjectConfirmation.SubjectConfirmationData.InResponseTo
		if echoed == "" {
			continue
		}
		if cryptoutil.ConstantTimeEquals(echoed, requestID) {
			return nil
		}
		return newAuthError(provider, "assertion answers a different authentication request", nil)
	}
	return newAuthError(provider, "assertion does not reference the authentication request", nil)
}

func checkAssertionWarnings(provider string, info *saml2.AssertionInfo) error {
	if info.WarningInfo == nil {
		return nil
	}
	if info.WarningInfo.InvalidTime {
		return newAuthError(provider, "assertion outside its validity window", nil)
	}
	if info.WarningInfo.NotInAudience {
		return newAuthError(provider, "assertion audience does not include this service", nil)
	}
	return nil
}

// MapUser resolves the family's ordered attribute-name candidates. NameID is
// the identity fallback when no explicit user-id or email attribute exists.
func (p *SAMLProvider) MapUser(info *saml2.AssertionInfo) (*SSOUser, error) {
	metadata := make(map[string]interface{}, len(info.Values))
	for name, attr := range info.Values {
		vals := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			vals = append(vals, v.Value)
		}
		if len(vals) == 1 {
			metadata[name] = vals[0]
		} else {
			metadata[name] = vals
		}
	}

	user := &SSOUser{
		ID:           firstAttr(info.Values, p.attrs.UserID),
		Email:        firstAttr(info.Values, p.attrs.Email),
		Name:         firstAttr(info.Values, p.attrs.Name),
		Roles:        allAttr(info.Values, p.attrs.Roles),
		Groups:       allAttr(info.Values, p.attrs.Groups),
		Metadata:     metadata,
		Provider:     p.name,
		Protocol:     ProtocolSAML,
		SessionIndex: info.SessionIndex,
	}

	if user.ID == "" {
		user.ID = info.NameID
	}
	if user.Email == "" && info.NameID != "" {
		user.Email = info.NameID
	}
	if user.ID == "" {
		return nil, newAuthError(p.name, "assertion carries no subject identifier", nil)
	}
	return user, nil
}

// LogoutRequestXML renders a samlp:LogoutRequest for SP-initiated single
// logout of the given IdP session.
func (p *SAMLProvider) LogoutRequestXML(nameID, sessionIndex string) (string, error) {
	id, err := cryptoutil.RandomID()
	if err != nil {
		return "", err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("samlp:LogoutRequest")
	root.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	root.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	root.CreateAttr("ID", id)
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	if p.cfg.SLOURL != "" {
		root.CreateAttr("Destination", p.cfg.SLOURL)
	}

	root.CreateElement("saml:Issuer").SetText(p.cfg.SPEntityID)

	nid := root.CreateElement("saml:NameID")
	if p.cfg.NameIDFormat != "" {
		nid.CreateAttr("Format", p.cfg.NameIDFormat)
	}
	nid.SetText(nameID)

	if sessionIndex != "" {
		root.CreateElement("samlp:SessionIndex").SetText(sessionIndex)
	}
	return doc.WriteToString()
}

// MetadataXML renders this service provider's metadata document for
// publication to IdP administrators.
func (p *SAMLProvider) MetadataXML() ([]byte, error) {
	meta, err := p.sp.Metadata()
	if err != nil {
		return nil, newAuthError(p.name, "failed to build metadata", err)
	}
	out, err := xml.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, newAuthError(p.name, "failed to render metadata", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Validate re-checks configuration completeness.
func (p *SAMLProvider) Validate() error {
	return validateSAMLConfig(&ProviderConfig{Name: p.name, Family: p.family, SAML: p.cfg})
}

// firstAttr returns the first candidate attribute with a non-empty value.
func firstAttr(values saml2.Values, candidates []string) string {
	for _, name := range candidates {
		if v := values.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// allAttr returns every value of the first candidate attribute present.
func allAttr(values saml2.Values, candidates []string) []string {
	for _, name := range candidates {
		attr, ok := values[name]
		if !ok {
			continue
		}
		out := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			if v.Value != "" {
				out = append(out, v.Value)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
