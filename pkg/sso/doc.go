// Package sso implements the federated single sign-on core: OAuth2, OIDC,
// and SAML 2.0 identity providers behind one Provider contract, a runtime
// registry, and a Manager façade that drives the login handshake, issues
// session tokens, and records every authentication outcome.
//
// Providers are polymorphic over a small set of families (azuread, google,
// okta, generic) that differ only in endpoint shape and claim naming. The
// factory fails fast on incomplete configuration: a provider that could emit
// an authorization request it cannot later validate is never constructed.
package sso
