package service

import (
	"context"
	"testing"
	"time"

	"github.com/medico24/medico24-auth/internal/domain"
)

func testSession(identityID uint, id string) *domain.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Session{
		ID:         id,
		IdentityID: identityID,
		FamilyID:   id,
		UserAgent:  "test-agent",
		IP:         "127.0.0.1",
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

func TestRedisSessionCacheRecordAndGet(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisSessionCacheStore(client, "session_cache")
	ctx := context.Background()

	session := testSession(1, "fam-a")
	if err := store.Record(ctx, session, time.Hour); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := store.Get(ctx, 1, "fam-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached session")
	}
	if got.FamilyID != "fam-a" || got.UserAgent != "test-agent" {
		t.Fatalf("unexpected session %+v", got)
	}

	missing, err := store.Get(ctx, 1, "fam-missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("missing session must be nil, not an error")
	}
}

func TestRedisSessionCacheListSortsNewestFirst(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisSessionCacheStore(client, "session_cache")
	ctx := context.Background()

	older := testSession(1, "fam-old")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := testSession(1, "fam-new")
	for _, s := range []*domain.Session{older, newer} {
		if err := store.Record(ctx, s, time.Hour); err != nil {
			t.Fatalf("record %s: %v", s.ID, err)
		}
	}

	sessions, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len=%d want 2", len(sessions))
	}
	if sessions[0].ID != "fam-new" || sessions[1].ID != "fam-old" {
		t.Fatalf("unexpected order: %s, %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestRedisSessionCacheInvalidateFamily(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisSessionCacheStore(client, "session_cache")
	ctx := context.Background()

	keep := testSession(1, "fam-keep")
	drop := testSession(1, "fam-drop")
	for _, s := range []*domain.Session{keep, drop} {
		if err := store.Record(ctx, s, time.Hour); err != nil {
			t.Fatalf("record %s: %v", s.ID, err)
		}
	}

	if err := store.InvalidateFamily(ctx, 1, "fam-drop"); err != nil {
		t.Fatalf("invalidate family: %v", err)
	}

	sessions, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "fam-keep" {
		t.Fatalf("expected only fam-keep to survive, got %+v", sessions)
	}

	// Invalidating an absent family is a no-op.
	if err := store.InvalidateFamily(ctx, 1, "fam-gone"); err != nil {
		t.Fatalf("invalidate absent family: %v", err)
	}
}

func TestRedisSessionCacheExpiryPrunesIndex(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisSessionCacheStore(client, "session_cache")
	ctx := context.Background()

	session := testSession(3, "fam-ttl")
	if err := store.Record(ctx, session, time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}
	server.FastForward(2 * time.Minute)

	sessions, err := store.List(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected expired session to vanish, got %+v", sessions)
	}
}

func TestRedisSessionCacheTouchKeepsTTL(t *testing.T) {
	server, client := newRedisClientForTest(t)
	store := NewRedisSessionCacheStore(client, "session_cache")
	ctx := context.Background()

	session := testSession(4, "fam-touch")
	if err := store.Record(ctx, session, time.Minute); err != nil {
		t.Fatalf("record: %v", err)
	}

	at := time.Now().UTC().Add(30 * time.Second).Truncate(time.Second)
	if err := store.Touch(ctx, 4, "fam-touch", at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := store.Get(ctx, 4, "fam-touch")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || !got.LastSeenAt.Equal(at) {
		t.Fatalf("touch must update last_seen_at, got %+v", got)
	}

	// Touch must not extend the entry past its original horizon.
	server.FastForward(2 * time.Minute)
	got, err = store.Get(ctx, 4, "fam-touch")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got != nil {
		t.Fatal("touched session must still expire on schedule")
	}
}

func TestInMemorySessionCacheFamilyInvalidation(t *testing.T) {
	store := NewInMemorySessionCacheStore()
	ctx := context.Background()

	for _, id := range []string{"fam-1", "fam-2"} {
		if err := store.Record(ctx, testSession(9, id), time.Hour); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := store.InvalidateFamily(ctx, 9, "fam-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	sessions, err := store.List(ctx, 9)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "fam-2" {
		t.Fatalf("expected only fam-2, got %+v", sessions)
	}
}
