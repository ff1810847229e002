package state

import (
	"context"
	"time"
)

// DefaultWindow is how long a handshake state entry remains valid.
const DefaultWindow = 5 * time.Minute

// Entry is one pending login handshake.
type Entry struct {
	// State is the anti-CSRF value round-tripped through the IdP
	// (the OAuth2 state parameter or the SAML RelayState).
	State string `json:"state"`

	// Nonce is the replay-protection value: the OAuth2/OIDC nonce or the
	// SAML AuthnRequest ID.
	Nonce string `json:"nonce"`

	Provider    string    `json:"provider"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExpiredAt reports whether the entry is outside the validity window at t.
func (e Entry) ExpiredAt(t time.Time, window time.Duration) bool {
	return t.Sub(e.CreatedAt) > window
}

// Store holds pending handshake entries keyed by state value.
//
// Consume must be atomic: concurrent Consume calls for the same state value
// must yield the entry to exactly one caller.
type Store interface {
	// Put stores an entry under its state value.
	Put(ctx context.Context, entry Entry) error

	// Consume removes and returns the entry for a state value. The second
	// return is false if no entry exists (never stored, already consumed,
	// or expired out).
	Consume(ctx context.Context, state string) (Entry, bool, error)

	// Sweep removes expired entries and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)

	// Len returns the number of pending entries.
	Len(ctx context.Context) (int, error)
}
