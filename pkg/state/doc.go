// Package state stores short-lived handshake state for the federated login
// flow: the anti-CSRF state value, the replay nonce, the issuing provider,
// and the intended post-login redirect.
//
// Entries live only for the handshake window (5 minutes by default) and are
// consumed atomically: of any number of concurrent callbacks presenting the
// same state value, exactly one receives the entry. Two backends exist: an
// in-process map for single-instance deployments and a Redis store for
// multi-instance ones.
package state
