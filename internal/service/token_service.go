package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/repository"
	"github.com/medico24/medico24-auth/internal/security"
)

var (
	ErrUnknownRefreshToken = errors.New("unknown refresh token")
	// ErrRefreshTokenReuseDetected means a rotated or revoked token was
	// presented again. The whole family has been revoked by the time this is
	// returned.
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// TokenPair is everything minted for one login or rotation step.
type TokenPair struct {
	AccessToken   string
	RefreshSecret string
	CSRFToken     string
	Ledger        *domain.RefreshToken
	SessionID     string
}

type TokenService struct {
	jwtMgr     *security.JWTManager
	ledger     repository.RefreshTokenRepository
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, ledger repository.RefreshTokenRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{jwtMgr: jwtMgr, ledger: ledger, pepper: pepper, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue starts a new refresh-token family for the identity and mints the
// matching access token.
func (s *TokenService) Issue(identity *domain.Identity, ua, ip string) (*TokenPair, error) {
	tokenID := uuid.NewString()
	root := &domain.RefreshToken{
		ID:         tokenID,
		IdentityID: identity.ID,
		FamilyID:   tokenID,
		ParentID:   nil,
		Status:     domain.RefreshTokenStatusActive,
		UserAgent:  ua,
		IP:         ip,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(s.refreshTTL),
	}
	// The cached session's id is the family id: one session per family, and
	// the lifecycle of the two is identical.
	return s.mint(identity.ID, root, tokenID)
}

// Rotate exchanges a presented refresh secret for the next token in its
// family. Presenting anything but the family's single active token revokes
// the family: a stale token is indistinguishable from a stolen one.
func (s *TokenService) Rotate(refreshSecret, ua, ip string) (*TokenPair, error) {
	hash := security.HashRefreshToken(refreshSecret, s.pepper)
	current, err := s.ledger.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrUnknownRefreshToken
		}
		return nil, err
	}
	if !current.Active() {
		if _, err := s.ledger.RevokeFamily(current.FamilyID, "reuse_detected"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("family %s identity %d: %w", current.FamilyID, current.IdentityID, ErrRefreshTokenReuseDetected)
	}
	if current.Expired(time.Now()) {
		return nil, ErrUnknownRefreshToken
	}

	parentID := current.ID
	child := &domain.RefreshToken{
		ID:         uuid.NewString(),
		IdentityID: current.IdentityID,
		FamilyID:   current.FamilyID,
		ParentID:   &parentID,
		Status:     domain.RefreshTokenStatusActive,
		UserAgent:  ua,
		IP:         ip,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(s.refreshTTL),
	}
	pair, err := s.mintRotated(current, child)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// RevokeFamily marks every token of the family revoked. Idempotent.
func (s *TokenService) RevokeFamily(familyID, reason string) error {
	_, err := s.ledger.RevokeFamily(familyID, reason)
	return err
}

// Resolve maps a presented refresh secret to its ledger row without mutating
// anything. Used by logout, which must not trip reuse detection.
func (s *TokenService) Resolve(refreshSecret string) (*domain.RefreshToken, error) {
	hash := security.HashRefreshToken(refreshSecret, s.pepper)
	token, err := s.ledger.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrUnknownRefreshToken
		}
		return nil, err
	}
	return token, nil
}

func (s *TokenService) mint(identityID uint, root *domain.RefreshToken, sessionID string) (*TokenPair, error) {
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	root.SecretHash = security.HashRefreshToken(secret, s.pepper)
	if err := s.ledger.Create(root); err != nil {
		return nil, err
	}
	return s.finish(identityID, root, secret, sessionID)
}

func (s *TokenService) mintRotated(current, child *domain.RefreshToken) (*TokenPair, error) {
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	child.SecretHash = security.HashRefreshToken(secret, s.pepper)
	if err := s.ledger.Rotate(current.ID, child); err != nil {
		// A concurrent rotation claimed the row first. The loser must not
		// receive a second valid child; it re-authenticates instead.
		if errors.Is(err, repository.ErrRotationConflict) {
			return nil, ErrUnknownRefreshToken
		}
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrUnknownRefreshToken
		}
		return nil, err
	}
	return s.finish(child.IdentityID, child, secret, child.FamilyID)
}

func (s *TokenService) finish(identityID uint, ledgerRow *domain.RefreshToken, secret, sessionID string) (*TokenPair, error) {
	access, err := s.jwtMgr.SignAccessToken(identityID, ledgerRow.FamilyID, sessionID, s.accessTTL)
	if err != nil {
		return nil, err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:   access,
		RefreshSecret: secret,
		CSRFToken:     csrf,
		Ledger:        ledgerRow,
		SessionID:     sessionID,
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }
