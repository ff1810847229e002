package token

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinSecretLength is the minimum signing secret size in bytes.
	MinSecretLength = 32

	// DefaultSessionTTL is the default session token lifetime.
	DefaultSessionTTL = time.Hour

	// DefaultShortLivedTTL is the default lifetime for purpose tokens.
	DefaultShortLivedTTL = 5 * time.Minute
)

var (
	// ErrTokenExpired is returned when a structurally valid token is past
	// its expiry. Distinct from ErrTokenInvalid so callers can report
	// session expiry instead of treating the token as forged.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, forged, or otherwise
	// unverifiable tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrSessionRevoked is returned when the token's session has been
	// explicitly logged out or revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrWrongTokenUse is returned when a limited token is presented where
	// a session token is required, or vice versa.
	ErrWrongTokenUse = errors.New("wrong token use")
)

// Config holds token service settings.
type Config struct {
	// SigningSecret signs and verifies all tokens. Must be at least
	// MinSecretLength bytes.
	SigningSecret []byte

	Issuer   string
	Audience string

	// SessionTTL is the session token lifetime; zero means DefaultSessionTTL.
	SessionTTL time.Duration
}

// Service issues, verifies, and refreshes signed tokens. It holds no mutable
// state, so all operations are safe for concurrent use.
type Service struct {
	cfg Config

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates a token service. It fails fast if the signing secret is
// too short; a weak secret must never make it into a running instance.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.SigningSecret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(cfg.SigningSecret))
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Service{cfg: cfg, now: time.Now}, nil
}

// SessionTTL returns the configured session token lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.cfg.SessionTTL
}

// NewSession builds a session record for an identity at the current time.
func (s *Service) NewSession(identity Identity, provider, protocol string) *Session {
	now := s.now()
	return &Session{
		ID:           uuid.New().String(),
		UserID:       identity.ID,
		Provider:     provider,
		Protocol:     protocol,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
		LastActivity: now,
	}
}

// Issue signs a session token for the identity and session.
func (s *Service) Issue(identity Identity, session *Session) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("identity id is required")
	}
	if session == nil || session.ID == "" {
		return "", fmt.Errorf("session id is required")
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			Subject:   identity.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Email:     identity.Email,
		Name:      identity.Name,
		Roles:     identity.Roles,
		Groups:    identity.Groups,
		SessionID: session.ID,
		Provider:  session.Provider,
		Protocol:  session.Protocol,
		TokenUse:  UseSession,
		Metadata:  identity.Metadata,
	}
	return s.sign(claims)
}

// IssueShortLived signs a narrow-purpose token. Limited tokens carry a
// purpose claim and are rejected by Verify, so they can never be replayed as
// a full session.
func (s *Service) IssueShortLived(identity Identity, purpose string, ttl time.Duration) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("identity id is required")
	}
	if purpose == "" {
		return "", fmt.Errorf("purpose is required")
	}
	if ttl <= 0 {
		ttl = DefaultShortLivedTTL
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			Subject:   identity.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenUse: UseLimited,
		Purpose:  purpose,
	}
	return s.sign(claims)
}

// Verify parses and validates a session token. Expired tokens return
// ErrTokenExpired; anything else unverifiable returns ErrTokenInvalid.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseSession {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrWrongTokenUse, UseSession, claims.TokenUse)
	}
	return claims, nil
}

// VerifyShortLived parses and validates a limited token for a purpose.
func (s *Service) VerifyShortLived(tokenString, purpose string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseLimited {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrWrongTokenUse, UseLimited, claims.TokenUse)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: purpose mismatch", ErrTokenInvalid)
	}
	return claims, nil
}

// Refresh re-signs a still-valid session token with a fresh issue and expiry,
// preserving the session id and identity. The new expiry is strictly later
// than the old one. Expired or invalid tokens cannot be refreshed.
func (s *Service) Refresh(tokenString string) (string, *Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	newExpiry := now.Add(s.cfg.SessionTTL)
	if !newExpiry.After(claims.ExpiresAt.Time) {
		newExpiry = claims.ExpiresAt.Time.Add(time.Second)
	}

	refreshed := *claims
	refreshed.ID = uuid.New().String()
	refreshed.IssuedAt = jwt.NewNumericDate(now)
	refreshed.ExpiresAt = jwt.NewNumericDate(newExpiry)

	signed, err := s.sign(&refreshed)
	if err != nil {
		return "", nil, err
	}
	return signed, &refreshed, nil
}

// Introspect inspects a token without failing: invalid or expired tokens
// yield Active=false rather than an error.
func (s *Service) Introspect(tokenString string) *Introspection {
	claims, err := s.parse(tokenString)
	if err != nil {
		return &Introspection{Active: false, Expired: errors.Is(err, ErrTokenExpired)}
	}

	info := &Introspection{
		Active:    true,
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Provider:  claims.Provider,
		Protocol:  claims.Protocol,
		Roles:     claims.Roles,
		Groups:    claims.Groups,
		TokenUse:  claims.TokenUse,
	}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		info.IssuedAt = &t
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	return info
}

func (s *Service) sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.SigningSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.cfg.SigningSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}
