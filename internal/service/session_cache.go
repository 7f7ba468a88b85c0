package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medico24/medico24-auth/internal/domain"
)

// SessionCacheStore is the ephemeral device/session accelerator. It mirrors
// refresh-token families for fast revocation lookups and "active devices"
// views. Losing it never grants or denies access; the ledger stays
// authoritative.
type SessionCacheStore interface {
	Record(ctx context.Context, session *domain.Session, ttl time.Duration) error
	Touch(ctx context.Context, identityID uint, sessionID string, at time.Time) error
	InvalidateFamily(ctx context.Context, identityID uint, familyID string) error
	Invalidate(ctx context.Context, identityID uint, sessionID string) error
	List(ctx context.Context, identityID uint) ([]domain.Session, error)
	Get(ctx context.Context, identityID uint, sessionID string) (*domain.Session, error)
}

type NoopSessionCacheStore struct{}

func NewNoopSessionCacheStore() *NoopSessionCacheStore { return &NoopSessionCacheStore{} }

func (s *NoopSessionCacheStore) Record(context.Context, *domain.Session, time.Duration) error {
	return nil
}

func (s *NoopSessionCacheStore) Touch(context.Context, uint, string, time.Time) error { return nil }

func (s *NoopSessionCacheStore) InvalidateFamily(context.Context, uint, string) error { return nil }

func (s *NoopSessionCacheStore) Invalidate(context.Context, uint, string) error { return nil }

func (s *NoopSessionCacheStore) List(context.Context, uint) ([]domain.Session, error) {
	return nil, nil
}

func (s *NoopSessionCacheStore) Get(context.Context, uint, string) (*domain.Session, error) {
	return nil, nil
}

type inMemoryEntry struct {
	session   domain.Session
	expiresAt time.Time
}

type InMemorySessionCacheStore struct {
	mu    sync.RWMutex
	store map[uint]map[string]inMemoryEntry
}

func NewInMemorySessionCacheStore() *InMemorySessionCacheStore {
	return &InMemorySessionCacheStore{store: make(map[uint]map[string]inMemoryEntry)}
}

func (s *InMemorySessionCacheStore) Record(_ context.Context, session *domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.store[session.IdentityID]
	if !ok {
		byID = make(map[string]inMemoryEntry)
		s.store[session.IdentityID] = byID
	}
	byID[session.ID] = inMemoryEntry{session: *session, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemorySessionCacheStore) Touch(_ context.Context, identityID uint, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.store[identityID][sessionID]; ok {
		entry.session.LastSeenAt = at
		s.store[identityID][sessionID] = entry
	}
	return nil
}

func (s *InMemorySessionCacheStore) InvalidateFamily(_ context.Context, identityID uint, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.store[identityID] {
		if entry.session.FamilyID == familyID {
			delete(s.store[identityID], id)
		}
	}
	return nil
}

func (s *InMemorySessionCacheStore) Invalidate(_ context.Context, identityID uint, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store[identityID], sessionID)
	return nil
}

func (s *InMemorySessionCacheStore) List(_ context.Context, identityID uint) ([]domain.Session, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]domain.Session, 0, len(s.store[identityID]))
	for id, entry := range s.store[identityID] {
		if now.After(entry.expiresAt) {
			delete(s.store[identityID], id)
			continue
		}
		sessions = append(sessions, entry.session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *InMemorySessionCacheStore) Get(_ context.Context, identityID uint, sessionID string) (*domain.Session, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.store[identityID][sessionID]
	s.mu.RUnlock()
	if !ok || now.After(entry.expiresAt) {
		return nil, nil
	}
	session := entry.session
	return &session, nil
}
