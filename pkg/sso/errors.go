package sso

import "fmt"

// ConfigError is fatal at provider construction or registry lookup: a
// required setting is missing or invalid. It is never recoverable at request
// time.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("provider %s: invalid configuration: %s: %s", e.Provider, e.Field, e.Reason)
	}
	return fmt.Sprintf("provider %s: invalid configuration: %s", e.Provider, e.Reason)
}

func newConfigError(provider, field, reason string) *ConfigError {
	return &ConfigError{Provider: provider, Field: field, Reason: reason}
}

// AuthError means callback validation failed: bad code, replayed state,
// expired or forged assertion. Recoverable per request (401), never fatal.
type AuthError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: authentication failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s: authentication failed: %s", e.Provider, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func newAuthError(provider, reason string, err error) *AuthError {
	return &AuthError{Provider: provider, Reason: reason, Err: err}
}

// ValidationError means a public operation received malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExchangeError wraps a failed upstream IdP call (code exchange, userinfo,
// assertion post-back). Timeout distinguishes a deadline from a refusal so
// callers can apply their own retry policy.
type ExchangeError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *ExchangeError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %s: exchange timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: exchange failed: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }
