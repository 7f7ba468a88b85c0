package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/observability"
	"github.com/medico24/medico24-auth/internal/repository"
	"github.com/medico24/medico24-auth/internal/security"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrIdentityDeactivated = errors.New("identity deactivated")
	ErrSessionNotFound     = errors.New("session not found")
)

const cacheRetryAttempts = 3

// RequestMeta carries per-request client attribution into the session ledger.
type RequestMeta struct {
	UserAgent string
	IP        string
}

// AuthService orchestrates the credential checks, the token ledger and the
// session cache. The cache is non-authoritative: its failures are retried and
// then, in fail-open mode, logged and swallowed.
type AuthService struct {
	identities   repository.IdentityRepository
	tokens       *TokenService
	oauth        *OAuthService
	sessions     SessionCacheStore
	logger       *slog.Logger
	cacheMode    config.FailureMode
	retryBackoff time.Duration
}

func NewAuthService(
	identities repository.IdentityRepository,
	tokens *TokenService,
	oauth *OAuthService,
	sessions SessionCacheStore,
	logger *slog.Logger,
	cacheMode config.FailureMode,
	retryBackoff time.Duration,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if retryBackoff <= 0 {
		retryBackoff = 50 * time.Millisecond
	}
	return &AuthService{
		identities:   identities,
		tokens:       tokens,
		oauth:        oauth,
		sessions:     sessions,
		logger:       logger,
		cacheMode:    cacheMode,
		retryBackoff: retryBackoff,
	}
}

// PasswordLogin verifies an email/password pair and starts a fresh session.
// All failure modes collapse into ErrInvalidCredentials; the audit log keeps
// the distinction.
func (s *AuthService) PasswordLogin(ctx context.Context, email, password string, meta RequestMeta) (*TokenPair, *domain.Identity, error) {
	identity, err := s.identities.FindByEmail(email)
	if err != nil && !errors.Is(err, repository.ErrIdentityNotFound) {
		observability.RecordAuthLogin("password", "error")
		return nil, nil, err
	}

	var hash string
	if identity != nil {
		hash = identity.PasswordHash
	}
	if !security.VerifyPassword(hash, password) {
		reason := "wrong_password"
		if identity == nil {
			reason = "unknown_email"
		} else if identity.PasswordHash == "" {
			reason = "no_password_set"
		}
		observability.RecordAuthLogin("password", "failure")
		observability.AuditEvent(ctx, "auth.login", "failure", reason, "email", email, "ip", meta.IP)
		return nil, nil, ErrInvalidCredentials
	}
	if identity.Deactivated() {
		observability.RecordAuthLogin("password", "failure")
		observability.AuditEvent(ctx, "auth.login", "failure", "deactivated", "identity_id", identity.ID, "ip", meta.IP)
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.startSession(ctx, identity, meta)
	if err != nil {
		observability.RecordAuthLogin("password", "error")
		return nil, nil, err
	}
	observability.RecordAuthLogin("password", "success")
	observability.AuditEvent(ctx, "auth.login", "success", "none",
		"identity_id", identity.ID, "family_id", pair.Ledger.FamilyID, "ip", meta.IP)
	return pair, identity, nil
}

// LoginWithGoogleCode completes the federated login for a verified
// authorization code and starts a session for the bound identity.
func (s *AuthService) LoginWithGoogleCode(ctx context.Context, code string, meta RequestMeta) (*TokenPair, *domain.Identity, error) {
	identity, err := s.oauth.HandleGoogleCallback(ctx, code)
	if err != nil {
		observability.RecordAuthLogin("google", "failure")
		observability.AuditEvent(ctx, "auth.login", "failure", classifyOAuthError(err), "provider", "google", "ip", meta.IP)
		return nil, nil, err
	}
	if identity.Deactivated() {
		observability.RecordAuthLogin("google", "failure")
		observability.AuditEvent(ctx, "auth.login", "failure", "deactivated", "identity_id", identity.ID, "ip", meta.IP)
		return nil, nil, ErrIdentityDeactivated
	}

	pair, err := s.startSession(ctx, identity, meta)
	if err != nil {
		observability.RecordAuthLogin("google", "error")
		return nil, nil, err
	}
	observability.RecordAuthLogin("google", "success")
	observability.AuditEvent(ctx, "auth.login", "success", "none",
		"identity_id", identity.ID, "provider", "google", "family_id", pair.Ledger.FamilyID, "ip", meta.IP)
	return pair, identity, nil
}

// GoogleLoginURL delegates to the federator so handlers never touch the
// provider directly.
func (s *AuthService) GoogleLoginURL(state string) string {
	return s.oauth.GoogleLoginURL(state)
}

// Refresh rotates a presented refresh secret. On reuse detection the family
// is already revoked by the ledger; this layer additionally drops the cached
// session so device listings converge immediately.
func (s *AuthService) Refresh(ctx context.Context, refreshSecret string, meta RequestMeta) (*TokenPair, error) {
	pair, err := s.tokens.Rotate(refreshSecret, meta.UserAgent, meta.IP)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenReuseDetected) {
			s.invalidateAfterReuse(ctx, refreshSecret)
			observability.RecordAuthRefresh("reuse_detected")
			observability.AuditEvent(ctx, "auth.refresh", "failure", "reuse_detected", "ip", meta.IP)
			return nil, err
		}
		if errors.Is(err, ErrUnknownRefreshToken) {
			observability.RecordAuthRefresh("unknown")
			observability.AuditEvent(ctx, "auth.refresh", "failure", "unknown_token", "ip", meta.IP)
			return nil, err
		}
		observability.RecordAuthRefresh("error")
		return nil, err
	}

	now := time.Now().UTC()
	s.cacheDo(ctx, "touch", func(ctx context.Context) error {
		return s.sessions.Touch(ctx, pair.Ledger.IdentityID, pair.SessionID, now)
	})
	observability.RecordAuthRefresh("success")
	observability.AuditEvent(ctx, "auth.refresh", "success", "none",
		"identity_id", pair.Ledger.IdentityID, "family_id", pair.Ledger.FamilyID, "ip", meta.IP)
	return pair, nil
}

// Logout revokes the presented token's family. Unknown tokens are a no-op so
// logout stays idempotent and never trips reuse detection.
func (s *AuthService) Logout(ctx context.Context, refreshSecret string, meta RequestMeta) error {
	token, err := s.tokens.Resolve(refreshSecret)
	if err != nil {
		if errors.Is(err, ErrUnknownRefreshToken) {
			observability.RecordAuthLogout("noop")
			return nil
		}
		observability.RecordAuthLogout("error")
		return err
	}
	if err := s.tokens.RevokeFamily(token.FamilyID, "logout"); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	s.cacheDo(ctx, "invalidate_family", func(ctx context.Context) error {
		return s.sessions.InvalidateFamily(ctx, token.IdentityID, token.FamilyID)
	})
	observability.RecordAuthLogout("success")
	observability.AuditEvent(ctx, "auth.logout", "success", "none",
		"identity_id", token.IdentityID, "family_id", token.FamilyID, "ip", meta.IP)
	return nil
}

// ListSessions serves the "active devices" view from the cache, falling back
// to the ledger when the cache is cold or unavailable.
func (s *AuthService) ListSessions(ctx context.Context, identityID uint) ([]domain.Session, error) {
	sessions, err := s.sessions.List(ctx, identityID)
	if err == nil && len(sessions) > 0 {
		observability.RecordSessionCacheOperation(ctx, "list", "hit")
		return sessions, nil
	}
	if err != nil {
		observability.RecordSessionCacheOperation(ctx, "list", "error")
		s.logger.WarnContext(ctx, "session cache list failed, using ledger", "error", err)
	} else {
		observability.RecordSessionCacheOperation(ctx, "list", "miss")
	}

	tokens, err := s.tokens.ledger.ListActiveByIdentity(identityID)
	if err != nil {
		return nil, err
	}
	rebuilt := make([]domain.Session, 0, len(tokens))
	for _, t := range tokens {
		session := domain.Session{
			ID:         t.FamilyID,
			IdentityID: t.IdentityID,
			FamilyID:   t.FamilyID,
			UserAgent:  t.UserAgent,
			IP:         t.IP,
			CreatedAt:  t.IssuedAt,
			LastSeenAt: t.IssuedAt,
		}
		rebuilt = append(rebuilt, session)
		ttl := time.Until(t.ExpiresAt)
		s.cacheDo(ctx, "record", func(ctx context.Context) error {
			return s.sessions.Record(ctx, &session, ttl)
		})
	}
	return rebuilt, nil
}

// RevokeSession revokes one of the caller's own sessions by id. The ledger is
// checked for ownership so a guessed id cannot touch another identity.
func (s *AuthService) RevokeSession(ctx context.Context, identityID uint, sessionID string) error {
	tokens, err := s.tokens.ledger.ListActiveByIdentity(identityID)
	if err != nil {
		return err
	}
	owned := false
	for _, t := range tokens {
		if t.FamilyID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrSessionNotFound
	}
	if err := s.tokens.RevokeFamily(sessionID, "user_revoked"); err != nil {
		return err
	}
	s.cacheDo(ctx, "invalidate_family", func(ctx context.Context) error {
		return s.sessions.InvalidateFamily(ctx, identityID, sessionID)
	})
	observability.AuditEvent(ctx, "auth.session_revoke", "success", "none",
		"identity_id", identityID, "family_id", sessionID)
	return nil
}

// RevokeOtherSessions revokes every active session of the identity except the
// one presenting the request. Returns the number of families revoked.
func (s *AuthService) RevokeOtherSessions(ctx context.Context, identityID uint, keepFamilyID string) (int, error) {
	tokens, err := s.tokens.ledger.ListActiveByIdentity(identityID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, t := range tokens {
		if t.FamilyID == keepFamilyID {
			continue
		}
		if err := s.tokens.RevokeFamily(t.FamilyID, "user_revoked_others"); err != nil {
			return revoked, err
		}
		familyID := t.FamilyID
		s.cacheDo(ctx, "invalidate_family", func(ctx context.Context) error {
			return s.sessions.InvalidateFamily(ctx, identityID, familyID)
		})
		revoked++
	}
	observability.AuditEvent(ctx, "auth.session_revoke_others", "success", "none",
		"identity_id", identityID, "kept_family_id", keepFamilyID, "revoked", revoked)
	return revoked, nil
}

// Identity loads the caller's account for profile views.
func (s *AuthService) Identity(ctx context.Context, identityID uint) (*domain.Identity, error) {
	return s.identities.FindByID(identityID)
}

func (s *AuthService) startSession(ctx context.Context, identity *domain.Identity, meta RequestMeta) (*TokenPair, error) {
	pair, err := s.tokens.Issue(identity, meta.UserAgent, meta.IP)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &domain.Session{
		ID:         pair.SessionID,
		IdentityID: identity.ID,
		FamilyID:   pair.Ledger.FamilyID,
		UserAgent:  meta.UserAgent,
		IP:         meta.IP,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.cacheDo(ctx, "record", func(ctx context.Context) error {
		return s.sessions.Record(ctx, session, s.tokens.RefreshTTL())
	})
	return pair, nil
}

// invalidateAfterReuse looks the revoked row back up so the cached session of
// the torched family disappears with it.
func (s *AuthService) invalidateAfterReuse(ctx context.Context, refreshSecret string) {
	token, err := s.tokens.Resolve(refreshSecret)
	if err != nil {
		return
	}
	s.cacheDo(ctx, "invalidate_family", func(ctx context.Context) error {
		return s.sessions.InvalidateFamily(ctx, token.IdentityID, token.FamilyID)
	})
}

// cacheDo runs a session-cache mutation with bounded jittered retries. In
// fail-open mode a final failure is logged and dropped; in fail-closed mode
// it is still dropped for mutations, since the ledger has already committed
// and surfacing the error here would undo nothing.
func (s *AuthService) cacheDo(ctx context.Context, op string, fn func(ctx context.Context) error) {
	var err error
	for attempt := 0; attempt < cacheRetryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			observability.RecordSessionCacheOperation(ctx, op, "success")
			return
		}
		if ctx.Err() != nil {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(s.retryBackoff)))
		time.Sleep(s.retryBackoff + jitter)
	}
	observability.RecordSessionCacheOperation(ctx, op, "error")
	if s.cacheMode == config.FailClosed {
		s.logger.ErrorContext(ctx, "session cache operation failed", "operation", op, "error", err)
		return
	}
	s.logger.WarnContext(ctx, "session cache operation failed", "operation", op, "error", err)
}
