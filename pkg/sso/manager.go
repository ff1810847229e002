package sso

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/caremesh/ssocore/pkg/audit"
	"github.com/caremesh/ssocore/pkg/cryptoutil"
	"github.com/caremesh/ssocore/pkg/observability"
	"github.com/caremesh/ssocore/pkg/state"
	"github.com/caremesh/ssocore/pkg/token"
)

const tracerName = "github.com/caremesh/ssocore/pkg/sso"

// stateTokenBytes is the entropy of generated state and nonce values.
const stateTokenBytes = 32

// ManagerConfig wires the manager's collaborators. Registry, Tokens, and
// States are required; the rest default to no-ops.
type ManagerConfig struct {
	Registry *Registry
	Tokens   *token.Service
	States   state.Store

	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// StateWindow overrides the handshake validity window; zero means
	// state.DefaultWindow.
	StateWindow time.Duration
}

// LoginResult is the outcome of a successfully validated callback.
type LoginResult struct {
	Token   string         `json:"token"`
	User    *SSOUser       `json:"user"`
	Session *token.Session `json:"session"`

	// RedirectURI is the post-login destination recorded at initiation.
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// CleanupStats reports what a cleanup pass removed.
type CleanupStats struct {
	StatesSwept      int `json:"states_swept"`
	StatesActive     int `json:"states_active"`
	RevocationsSwept int `json:"revocations_swept"`
}

// Manager is the façade over providers, tokens, handshake state, and audit.
// It drives the shared login state machine for both protocols. All methods
// are safe for concurrent use.
type Manager struct {
	registry *Registry
	tokens   *token.Service
	states   state.Store
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	window   time.Duration

	// revoked maps session id to the time its revocation entry can be
	// forgotten (when every token for it has expired anyway).
	mu      sync.Mutex
	revoked map[string]time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if cfg.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.StateWindow <= 0 {
		cfg.StateWindow = state.DefaultWindow
	}

	return &Manager{
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		states:   cfg.States,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
		window:   cfg.StateWindow,
		revoked:  make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// Registry returns the provider registry the manager was built with.
func (m *Manager) Registry() *Registry { return m.registry }

// Tokens returns the token service the manager was built with.
func (m *Manager) Tokens() *token.Service { return m.tokens }

// ValidateState is the pure handshake predicate: the candidate must equal
// the stored state (constant-time) and the entry must still be inside the
// validity window. The caller consumes the stored entry exactly once
// regardless of the outcome.
func ValidateState(candidate string, entry state.Entry, now time.Time, window time.Duration) bool {
	if !cryptoutil.ConstantTimeEquals(candidate, entry.State) {
		return false
	}
	return !entry.ExpiredAt(now, window)
}

// AuthURL initiates a login: it creates and stores the handshake state, then
// builds the provider's authorization URL. Emits a login_attempt event on
// success and a login_failure on any initiation error.
func (m *Manager) AuthURL(ctx context.Context, providerName, redirectURI string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "sso.AuthURL",
		trace.WithAttributes(attribute.String("sso.provider", providerName)))
	defer span.End()

	p, err := m.registry.Get(providerName)
	if err != nil {
		m.auditFailure(ctx, providerName, "", Callback{}, err)
		return "", err
	}

	stateVal, err := cryptoutil.RandomToken(stateTokenBytes)
	if err != nil {
		m.auditFailure(ctx, providerName, string(p.Protocol()), Callback{}, err)
		return "", err
	}
	nonce, err := m.newNonce(p.Protocol())
	if err != nil {
		m.auditFailure(ctx, providerName, string(p.Protocol()), Callback{}, err)
		return "", err
	}

	entry := state.Entry{
		State:       stateVal,
		Nonce:       nonce,
		Provider:    providerName,
		RedirectURI: redirectURI,
		CreatedAt:   m.now(),
	}
	if err := m.states.Put(ctx, entry); err != nil {
		m.auditFailure(ctx, providerName, string(p.Protocol()), Callback{}, err)
		return "", fmt.Errorf("failed to store handshake state: %w", err)
	}

	url, err := p.AuthURL(stateVal, nonce)
	if err != nil {
		m.auditFailure(ctx, providerName, string(p.Protocol()), Callback{}, err)
		return "", err
	}

	m.audit.Log(ctx, &audit.Event{
		Type:     audit.EventTypeLoginAttempt,
		Provider: providerName,
		Protocol: string(p.Protocol()),
	})
	m.metrics.RecordLogin(providerName, string(p.Protocol()), observability.ResultInitiated)
	m.logger.WithField("provider", providerName).Debug("login initiated")
	return url, nil
}

// newNonce generates the per-handshake correlation value: an OIDC nonce, or
// the AuthnRequest ID for SAML, which the IdP echoes back as InResponseTo.
func (m *Manager) newNonce(protocol Protocol) (string, error) {
	if protocol == ProtocolSAML {
		return cryptoutil.RandomID()
	}
	return cryptoutil.RandomToken(stateTokenBytes)
}

// HandleCallback drives CALLBACK_RECEIVED through VALIDATED to TOKEN_ISSUED.
// The handshake state is consumed exactly once before anything else is
// checked, so a replayed state fails even when the upstream code or
// assertion is itself valid. Every failure path emits exactly one
// login_failure audit event.
func (m *Manager) HandleCallback(ctx context.Context, providerName string, cb Callback) (*LoginResult, error) {
	ctx, span := m.tracer.Start(ctx, "sso.HandleCallback",
		trace.WithAttributes(attribute.String("sso.provider", providerName)))
	defer span.End()
	started := m.now()

	p, err := m.registry.Get(providerName)
	if err != nil {
		m.auditFailure(ctx, providerName, "", cb, err)
		return nil, err
	}
	protocol := string(p.Protocol())

	fail := func(err error) (*LoginResult, error) {
		m.auditFailure(ctx, providerName, protocol, cb, err)
		return nil, err
	}

	stateVal := cb.StateValue()
	if stateVal == "" {
		return fail(&ValidationError{Field: "state", Reason: "must not be empty"})
	}

	entry, ok, err := m.states.Consume(ctx, stateVal)
	if err != nil {
		return fail(fmt.Errorf("failed to consume handshake state: %w", err))
	}
	if !ok {
		return fail(newAuthError(providerName, "unknown, expired, or already used state", nil))
	}
	if !ValidateState(stateVal, entry, m.now(), m.window) {
		return fail(newAuthError(providerName, "handshake state expired", nil))
	}
	if entry.Provider != providerName {
		return fail(newAuthError(providerName, "state was issued for a different provider", nil))
	}

	user, err := p.Authenticate(ctx, cb, entry.Nonce)
	if err != nil {
		return fail(err)
	}

	identity := token.Identity{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Roles:    user.Roles,
		Groups:   user.Groups,
		Metadata: user.Metadata,
	}
	session := m.tokens.NewSession(identity, providerName, protocol)
	signed, err := m.tokens.Issue(identity, session)
	if err != nil {
		return fail(fmt.Errorf("failed to issue session token: %w", err))
	}

	m.audit.Log(ctx, &audit.Event{
		Type:      audit.EventTypeLoginSuccess,
		Provider:  providerName,
		Protocol:  protocol,
		UserID:    user.ID,
		SessionID: session.ID,
		IPAddress: cb.IP,
		UserAgent: cb.UserAgent,
	})
	m.metrics.RecordLogin(providerName, protocol, observability.ResultSuccess)
	m.metrics.RecordTokenOperation("issue", observability.ResultSuccess)
	m.metrics.RecordCallback(providerName, protocol, m.now().Sub(started))
	m.logger.WithFields(map[string]interface{}{
		"provider": providerName,
		"user_id":  user.ID,
		"session":  session.ID,
	}).Info("login succeeded")

	return &LoginResult{
		Token:       signed,
		User:        user,
		Session:     session,
		RedirectURI: entry.RedirectURI,
	}, nil
}

// auditFailure emits the single failure event for a login path.
func (m *Manager) auditFailure(ctx context.Context, provider, protocol string, cb Callback, err error) {
	m.audit.Log(ctx, &audit.Event{
		Type:         audit.EventTypeLoginFailure,
		Provider:     provider,
		Protocol:     protocol,
		IPAddress:    cb.IP,
		UserAgent:    cb.UserAgent,
		ErrorMessage: err.Error(),
	})
	m.metrics.RecordLogin(provider, protocol, observability.ResultFailure)
	m.logger.WithError(err).WithField("provider", provider).Warn("login failed")
}

// Refresh re-issues a still-valid session token. A session that has been
// logged out can never be refreshed, however valid its token still is.
func (m *Manager) Refresh(ctx context.Context, tokenString string) (string, *token.Claims, error) {
	ctx, span := m.tracer.Start(ctx, "sso.Refresh")
	defer span.End()

	claims, err := m.tokens.Verify(tokenString)
	if err != nil {
		event := &audit.Event{Type: audit.EventTypeTokenRefresh, ErrorMessage: err.Error()}
		if errors.Is(err, token.ErrTokenExpired) {
			event.Type = audit.EventTypeSessionExpired
		}
		m.audit.Log(ctx, event)
		m.metrics.RecordTokenOperation("refresh", observability.ResultFailure)
		return "", nil, err
	}

	if m.IsRevoked(claims.SessionID) {
		err := fmt.Errorf("%w: session %s", token.ErrSessionRevoked, claims.SessionID)
		m.audit.Log(ctx, &audit.Event{
			Type:         audit.EventTypeTokenRefresh,
			Provider:     claims.Provider,
			Protocol:     claims.Protocol,
			UserID:       claims.Subject,
			SessionID:    claims.SessionID,
			ErrorMessage: err.Error(),
		})
		m.metrics.RecordTokenOperation("refresh", observability.ResultFailure)
		return "", nil, err
	}

	signed, refreshed, err := m.tokens.Refresh(tokenString)
	if err != nil {
		m.audit.Log(ctx, &audit.Event{
			Type:         audit.EventTypeTokenRefresh,
			SessionID:    claims.SessionID,
			ErrorMessage: err.Error(),
		})
		m.metrics.RecordTokenOperation("refresh", observability.ResultFailure)
		return "", nil, err
	}

	m.audit.Log(ctx, &audit.Event{
		Type:      audit.EventTypeTokenRefresh,
		Provider:  refreshed.Provider,
		Protocol:  refreshed.Protocol,
		UserID:    refreshed.Subject,
		SessionID: refreshed.SessionID,
	})
	m.metrics.RecordTokenOperation("refresh", observability.ResultSuccess)
	return signed, refreshed, nil
}

// Logout revokes the token's session and records the event. It never fails:
// an already-invalid or expired token still produces a logout audit event
// and a nil outcome is impossible.
func (m *Manager) Logout(ctx context.Context, tokenString string, cb Callback) *token.Introspection {
	ctx, span := m.tracer.Start(ctx, "sso.Logout")
	defer span.End()

	info := m.tokens.Introspect(tokenString)

	event := &audit.Event{
		Type:      audit.EventTypeLogout,
		IPAddress: cb.IP,
		UserAgent: cb.UserAgent,
	}
	if info.Active {
		event.Provider = info.Provider
		event.Protocol = info.Protocol
		event.UserID = info.UserID
		event.SessionID = info.SessionID
		if info.SessionID != "" {
			m.RevokeSession(info.SessionID)
		}
	} else if info.Expired {
		event.ErrorMessage = "token already expired"
	} else {
		event.ErrorMessage = "token invalid"
	}
	m.audit.Log(ctx, event)
	m.metrics.RecordTokenOperation("revoke", observability.ResultSuccess)
	return info
}

// RevokeSession puts a session on the revocation list until every token
// issued for it would have expired on its own.
func (m *Manager) RevokeSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[sessionID] = m.now().Add(2 * m.tokens.SessionTTL())
	m.metrics.RecordRevocation()
}

// IsRevoked reports whether a session has been revoked.
func (m *Manager) IsRevoked(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[sessionID]
	return ok
}

// ProviderHealth runs a synthetic check per provider concurrently: a healthy
// provider can produce an authorization URL right now. The map carries nil
// for healthy providers and the failure otherwise.
func (m *Manager) ProviderHealth(ctx context.Context) map[string]error {
	ctx, span := m.tracer.Start(ctx, "sso.ProviderHealth")
	defer span.End()

	providers := m.registry.Providers()
	results := make(map[string]error, len(providers))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			_, err := p.AuthURL("healthcheck-state", "healthcheck-nonce")
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// CleanupExpired sweeps expired handshake state and forgets stale session
// revocations. Tokens self-expire through their claims and need no sweep.
func (m *Manager) CleanupExpired(ctx context.Context) (CleanupStats, error) {
	ctx, span := m.tracer.Start(ctx, "sso.CleanupExpired")
	defer span.End()

	swept, err := m.states.Sweep(ctx)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("state sweep failed: %w", err)
	}
	active, err := m.states.Len(ctx)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("state count failed: %w", err)
	}

	now := m.now()
	m.mu.Lock()
	revocationsSwept := 0
	for sid, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, sid)
			revocationsSwept++
		}
	}
	m.mu.Unlock()

	m.metrics.RecordSweep(active, swept)
	m.metrics.SetAuditDropped(m.audit.Dropped())
	m.logger.WithFields(map[string]interface{}{
		"states_swept":      swept,
		"revocations_swept": revocationsSwept,
	}).Debug("cleanup pass complete")

	return CleanupStats{
		StatesSwept:      swept,
		StatesActive:     active,
		RevocationsSwept: revocationsSwept,
	}, nil
}
