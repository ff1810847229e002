package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		SigningSecret: testSecret,
		Issuer:        "https://sso.example.com",
		Audience:      "caremesh",
	})
	require.NoError(t, err)
	return svc
}

func testIdentity() Identity {
	return Identity{
		ID:     "user-1",
		Email:  "u1@example.com",
		Name:   "User One",
		Roles:  []string{"clinician", "admin"},
		Groups: []string{"cardiology"},
		Metadata: map[string]interface{}{
			"department": "cardiology",
		},
	}
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError string
	}{
		{
			name: "valid",
			cfg:  Config{SigningSecret: testSecret, Issuer: "iss", Audience: "aud"},
		},
		{
			name:        "secret too short",
			cfg:         Config{SigningSecret: []byte("short"), Issuer: "iss", Audience: "aud"},
			expectError: "signing secret",
		},
		{
			name:        "missing issuer",
			cfg:         Config{SigningSecret: testSecret, Audience: "aud"},
			expectError: "issuer is required",
		},
		{
			name:        "missing audience",
			cfg:         Config{SigningSecret: testSecret, Issuer: "iss"},
			expectError: "audience is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultSessionTTL, svc.SessionTTL())
		})
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()
	session := svc.NewSession(identity, "azure", "oauth2")

	signed, err := svc.Issue(identity, session)
	require.NoError(t, err)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, identity.ID, claims.UserID())
	assert.Equal(t, identity.Email, claims.Email)
	assert.Equal(t, identity.Roles, claims.Roles)
	assert.Equal(t, identity.Groups, claims.Groups)
	assert.Equal(t, session.ID, claims.SessionID)
	assert.Equal(t, "azure", claims.Provider)
	assert.Equal(t, "oauth2", claims.Protocol)
	assert.Equal(t, UseSession, claims.TokenUse)
	assert.Equal(t, "cardiology", claims.Metadata["department"])
}

func TestVerifyExpiredIsDistinctFromInvalid(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()
	session := svc.NewSession(identity, "azure", "oauth2")

	signed, err := svc.Issue(identity, session)
	require.NoError(t, err)

	// Jump past expiry.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.Verify(signed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenExpired), "expired token must map to ErrTokenExpired")
	assert.False(t, errors.Is(err, ErrTokenInvalid))
}

func TestVerifyRejectsGarbageAndForgery(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify("not-a-token")
	assert.True(t, errors.Is(err, ErrTokenInvalid))

	// Token signed with a different secret.
	other, err := NewService(Config{
		SigningSecret: []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "https://sso.example.com",
		Audience:      "caremesh",
	})
	require.NoError(t, err)

	identity := testIdentity()
	forged, err := other.Issue(identity, other.NewSession(identity, "azure", "oauth2"))
	require.NoError(t, err)

	_, err = svc.Verify(forged)
	assert.True(t, errors.Is(err, ErrTokenInvalid))
}

func TestVerifyRejectsWrongIssuerAudience(t *testing.T) {
	other, err := NewService(Config{
		SigningSecret: testSecret,
		Issuer:        "https://other.example.com",
		Audience:      "someone-else",
	})
	require.NoError(t, err)

	identity := testIdentity()
	signed, err := other.Issue(identity, other.NewSession(identity, "azure", "oauth2"))
	require.NoError(t, err)

	svc := newTestService(t)
	_, err = svc.Verify(signed)
	assert.True(t, errors.Is(err, ErrTokenInvalid))
}

func TestRefreshPreservesIdentity(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()
	session := svc.NewSession(identity, "okta", "saml")

	signed, err := svc.Issue(identity, session)
	require.NoError(t, err)

	original, err := svc.Verify(signed)
	require.NoError(t, err)

	// Refresh a little later so the new expiry strictly increases.
	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	refreshed, claims, err := svc.Refresh(signed)
	require.NoError(t, err)
	assert.NotEqual(t, signed, refreshed)

	assert.Equal(t, original.SessionID, claims.SessionID)
	assert.Equal(t, original.Subject, claims.Subject)
	assert.Equal(t, original.Roles, claims.Roles)
	assert.Equal(t, original.Groups, claims.Groups)
	assert.True(t, claims.ExpiresAt.Time.After(original.ExpiresAt.Time),
		"refresh must strictly extend expiry")
	assert.NotEqual(t, original.ID, claims.ID, "jti must rotate on refresh")
}

func TestRefreshExpiryStrictlyIncreasesAtSameInstant(t *testing.T) {
	svc := newTestService(t)
	fixed := time.Now()
	svc.now = func() time.Time { return fixed }

	identity := testIdentity()
	signed, err := svc.Issue(identity, svc.NewSession(identity, "okta", "saml"))
	require.NoError(t, err)

	original, err := svc.Verify(signed)
	require.NoError(t, err)

	_, claims, err := svc.Refresh(signed)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.Time.After(original.ExpiresAt.Time))
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()
	signed, err := svc.Issue(identity, svc.NewSession(identity, "okta", "saml"))
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, _, err = svc.Refresh(signed)
	assert.True(t, errors.Is(err, ErrTokenExpired))
}

func TestShortLivedTokens(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()

	signed, err := svc.IssueShortLived(identity, "step-up", time.Minute)
	require.NoError(t, err)

	// Limited token is not a session token.
	_, err = svc.Verify(signed)
	assert.True(t, errors.Is(err, ErrWrongTokenUse))

	claims, err := svc.VerifyShortLived(signed, "step-up")
	require.NoError(t, err)
	assert.Equal(t, UseLimited, claims.TokenUse)
	assert.Equal(t, "step-up", claims.Purpose)

	// Purpose mismatch rejected.
	_, err = svc.VerifyShortLived(signed, "password-reset")
	assert.Error(t, err)

	// Session token is not a limited token.
	sess, err := svc.Issue(identity, svc.NewSession(identity, "azure", "oauth2"))
	require.NoError(t, err)
	_, err = svc.VerifyShortLived(sess, "step-up")
	assert.True(t, errors.Is(err, ErrWrongTokenUse))
}

func TestShortLivedDefaultTTL(t *testing.T) {
	svc := newTestService(t)
	fixed := time.Now()
	svc.now = func() time.Time { return fixed }

	signed, err := svc.IssueShortLived(testIdentity(), "step-up", 0)
	require.NoError(t, err)

	claims, err := svc.VerifyShortLived(signed, "step-up")
	require.NoError(t, err)
	assert.WithinDuration(t, fixed.Add(DefaultShortLivedTTL), claims.ExpiresAt.Time, time.Second)
}

func TestIntrospect(t *testing.T) {
	svc := newTestService(t)
	identity := testIdentity()
	session := svc.NewSession(identity, "azure", "oauth2")

	signed, err := svc.Issue(identity, session)
	require.NoError(t, err)

	info := svc.Introspect(signed)
	assert.True(t, info.Active)
	assert.Equal(t, identity.ID, info.UserID)
	assert.Equal(t, session.ID, info.SessionID)
	require.NotNil(t, info.ExpiresAt)

	// Expired token introspects as inactive+expired, not as an error.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	info = svc.Introspect(signed)
	assert.False(t, info.Active)
	assert.True(t, info.Expired)

	info = svc.Introspect("garbage")
	assert.False(t, info.Active)
	assert.False(t, info.Expired)
}
