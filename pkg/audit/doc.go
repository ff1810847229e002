// Package audit records the authentication lifecycle: every login attempt,
// success, failure, logout, refresh, and session expiry, per provider and
// protocol.
//
// The log is append-only and deliberately decoupled from the login flow: a
// sink that cannot keep up drops events and counts the drops instead of
// failing or blocking authentication. Durable storage is an external
// concern. This package offers an in-memory queryable buffer, an NDJSON
// file sink, and a fan-out over both, plus filtered search, aggregate
// statistics, and NDJSON/CSV export for external ingestion.
package audit
