package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/repository"
	"github.com/medico24/medico24-auth/internal/security"
)

// memoryLedger is an in-memory RefreshTokenRepository with the same
// compare-and-set rotation semantics as the database implementation.
type memoryLedger struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{tokens: make(map[string]*domain.RefreshToken)}
}

func (l *memoryLedger) Create(token *domain.RefreshToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *token
	l.tokens[token.ID] = &cp
	return nil
}

func (l *memoryLedger) FindByHash(hash string) (*domain.RefreshToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tokens {
		if t.SecretHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrRefreshTokenNotFound
}

func (l *memoryLedger) Rotate(oldID string, child *domain.RefreshToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	parent, ok := l.tokens[oldID]
	if !ok {
		return repository.ErrRefreshTokenNotFound
	}
	if parent.Status != domain.RefreshTokenStatusActive {
		return repository.ErrRotationConflict
	}
	parent.Status = domain.RefreshTokenStatusRotated
	cp := *child
	l.tokens[child.ID] = &cp
	return nil
}

func (l *memoryLedger) RevokeFamily(familyID, reason string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, t := range l.tokens {
		if t.FamilyID == familyID && t.Status != domain.RefreshTokenStatusRevoked {
			t.Status = domain.RefreshTokenStatusRevoked
			t.RevokedAt = &now
			r := reason
			t.RevokedReason = &r
			n++
		}
	}
	return n, nil
}

func (l *memoryLedger) RevokeByIdentity(identityID uint, reason string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, t := range l.tokens {
		if t.IdentityID == identityID && t.Status != domain.RefreshTokenStatusRevoked {
			t.Status = domain.RefreshTokenStatusRevoked
			t.RevokedAt = &now
			r := reason
			t.RevokedReason = &r
			n++
		}
	}
	return n, nil
}

func (l *memoryLedger) ListActiveByIdentity(identityID uint) ([]domain.RefreshToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.RefreshToken
	now := time.Now()
	for _, t := range l.tokens {
		if t.IdentityID == identityID && t.Status == domain.RefreshTokenStatusActive && t.ExpiresAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (l *memoryLedger) CleanupExpired(before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, t := range l.tokens {
		if !t.ExpiresAt.After(before) {
			delete(l.tokens, id)
			n++
		}
	}
	return n, nil
}

func (l *memoryLedger) statusOf(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tokens[id]; ok {
		return t.Status
	}
	return ""
}

func newTestTokenService(ledger repository.RefreshTokenRepository) *TokenService {
	jwtMgr := security.NewJWTManager("test-issuer", "test-audience", "test-secret-key-that-is-32-bytes!")
	return NewTokenService(jwtMgr, ledger, "test-pepper", 15*time.Minute, 30*24*time.Hour)
}

func testIdentity() *domain.Identity {
	return &domain.Identity{ID: 1, Email: "pat@example.com", Status: domain.IdentityStatusActive}
}

func TestIssueStartsNewFamily(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestTokenService(ledger)

	pair, err := svc.Issue(testIdentity(), "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshSecret == "" || pair.CSRFToken == "" {
		t.Fatal("issue must mint all three tokens")
	}
	if pair.Ledger.FamilyID != pair.Ledger.ID {
		t.Fatal("root token must start its own family")
	}
	if pair.Ledger.ParentID != nil {
		t.Fatal("root token has no parent")
	}
	if pair.SessionID != pair.Ledger.FamilyID {
		t.Fatal("session id must equal the family id")
	}
}

func TestRotatePreservesFamilyAndLinksParent(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestTokenService(ledger)

	pair, err := svc.Issue(testIdentity(), "ua", "ip")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	next, err := svc.Rotate(pair.RefreshSecret, "ua", "ip")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.Ledger.FamilyID != pair.Ledger.FamilyID {
		t.Fatal("rotation must stay inside the family")
	}
	if next.Ledger.ParentID == nil || *next.Ledger.ParentID != pair.Ledger.ID {
		t.Fatal("child must link its parent")
	}
	if next.RefreshSecret == pair.RefreshSecret {
		t.Fatal("rotation must mint a fresh secret")
	}
	if got := ledger.statusOf(pair.Ledger.ID); got != domain.RefreshTokenStatusRotated {
		t.Fatalf("parent status=%q want rotated", got)
	}
}

func TestRotateUnknownSecret(t *testing.T) {
	svc := newTestTokenService(newMemoryLedger())
	if _, err := svc.Rotate("never-issued", "ua", "ip"); !errors.Is(err, ErrUnknownRefreshToken) {
		t.Fatalf("expected ErrUnknownRefreshToken, got %v", err)
	}
}

func TestReusedTokenRevokesWholeFamily(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestTokenService(ledger)

	pair, err := svc.Issue(testIdentity(), "ua", "ip")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	next, err := svc.Rotate(pair.RefreshSecret, "ua", "ip")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Presenting the rotated parent again is the theft signal.
	if _, err := svc.Rotate(pair.RefreshSecret, "ua", "ip"); !errors.Is(err, ErrRefreshTokenReuseDetected) {
		t.Fatalf("expected ErrRefreshTokenReuseDetected, got %v", err)
	}

	if got := ledger.statusOf(next.Ledger.ID); got != domain.RefreshTokenStatusRevoked {
		t.Fatalf("current child status=%q want revoked", got)
	}
	// The legitimate holder's token is now dead too.
	if _, err := svc.Rotate(next.RefreshSecret, "ua", "ip"); !errors.Is(err, ErrRefreshTokenReuseDetected) {
		t.Fatalf("expected revoked child to trip reuse detection, got %v", err)
	}
}

func TestRotateExpiredTokenIsUnknown(t *testing.T) {
	ledger := newMemoryLedger()
	jwtMgr := security.NewJWTManager("test-issuer", "test-audience", "test-secret-key-that-is-32-bytes!")
	svc := NewTokenService(jwtMgr, ledger, "test-pepper", time.Minute, 2*time.Minute)

	pair, err := svc.Issue(testIdentity(), "ua", "ip")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ledger.mu.Lock()
	ledger.tokens[pair.Ledger.ID].ExpiresAt = time.Now().Add(-time.Second)
	ledger.mu.Unlock()

	if _, err := svc.Rotate(pair.RefreshSecret, "ua", "ip"); !errors.Is(err, ErrUnknownRefreshToken) {
		t.Fatalf("expected ErrUnknownRefreshToken for expired token, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestTokenService(ledger)

	pair, err := svc.Issue(testIdentity(), "ua", "ip")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Rotate(pair.RefreshSecret, "ua", "ip")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrUnknownRefreshToken), errors.Is(err, ErrRefreshTokenReuseDetected):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners=%d want exactly 1", winners)
	}
	active, err := ledger.ListActiveByIdentity(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) > 1 {
		t.Fatalf("family has %d active tokens, invariant allows at most 1", len(active))
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestTokenService(ledger)

	pair, err := svc.Issue(testIdentity(), "ua", "ip")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := svc.Resolve(pair.RefreshSecret)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Status != domain.RefreshTokenStatusActive {
			t.Fatalf("resolve must not change status, got %q", got.Status)
		}
	}
	if _, err := svc.Resolve("never-issued"); !errors.Is(err, ErrUnknownRefreshToken) {
		t.Fatalf("expected ErrUnknownRefreshToken, got %v", err)
	}
}
