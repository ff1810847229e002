// Package token issues and verifies the signed session tokens this service
// hands to downstream consumers after a successful federated login.
//
// Tokens are compact HS256 JWTs carrying the authenticated identity
// (subject, email, roles, groups) and session metadata (session id, provider,
// protocol). They are self-contained: expiry is enforced by claim validation,
// so no server-side session table is required.
//
// Two token shapes exist and are not interchangeable:
//
//   - session tokens (token_use=session): full login credentials
//   - short-lived tokens (token_use=limited): narrow-purpose credentials
//     such as step-up confirmation, carrying an explicit purpose claim
//
// Verify rejects limited tokens and VerifyShortLived rejects session tokens,
// so neither can be replayed as the other.
package token
