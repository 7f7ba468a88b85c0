package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medico24/medico24-auth/internal/domain"
)

// RedisSessionCacheStore keeps one JSON value per session plus a per-identity
// index set, all TTL-bound so idle sessions age out with their refresh
// horizon.
type RedisSessionCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionCacheStore(client redis.UniversalClient, prefix string) *RedisSessionCacheStore {
	if prefix == "" {
		prefix = "session_cache"
	}
	return &RedisSessionCacheStore{client: client, prefix: prefix}
}

func (s *RedisSessionCacheStore) Record(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	dataKey := s.dataKey(session.IdentityID, session.ID)
	indexKey := s.indexKey(session.IdentityID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, payload, ttl)
	pipe.SAdd(ctx, indexKey, session.ID)
	pipe.Expire(ctx, indexKey, ttl+time.Minute)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionCacheStore) Touch(ctx context.Context, identityID uint, sessionID string, at time.Time) error {
	if s.client == nil {
		return nil
	}
	session, err := s.Get(ctx, identityID, sessionID)
	if err != nil || session == nil {
		return err
	}
	session.LastSeenAt = at
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	// KeepTTL: touching must not extend the session past its refresh horizon.
	return s.client.Set(ctx, s.dataKey(identityID, sessionID), payload, redis.KeepTTL).Err()
}

func (s *RedisSessionCacheStore) InvalidateFamily(ctx context.Context, identityID uint, familyID string) error {
	if s.client == nil {
		return nil
	}
	sessions, err := s.List(ctx, identityID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	removed := false
	for _, session := range sessions {
		if session.FamilyID != familyID {
			continue
		}
		pipe.Del(ctx, s.dataKey(identityID, session.ID))
		pipe.SRem(ctx, s.indexKey(identityID), session.ID)
		removed = true
	}
	if !removed {
		return nil
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionCacheStore) Invalidate(ctx context.Context, identityID uint, sessionID string) error {
	if s.client == nil {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(identityID, sessionID))
	pipe.SRem(ctx, s.indexKey(identityID), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSessionCacheStore) List(ctx context.Context, identityID uint) ([]domain.Session, error) {
	if s.client == nil {
		return nil, nil
	}
	ids, err := s.client.SMembers(ctx, s.indexKey(identityID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(ids))
	var stale []any
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.dataKey(identityID, id)).Bytes()
		if err == redis.Nil {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var session domain.Session
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(identityID), stale...).Err()
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *RedisSessionCacheStore) Get(ctx context.Context, identityID uint, sessionID string) (*domain.Session, error) {
	if s.client == nil {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, s.dataKey(identityID, sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *RedisSessionCacheStore) dataKey(identityID uint, sessionID string) string {
	return fmt.Sprintf("%s:data:%d:%s", s.prefix, identityID, sessionID)
}

func (s *RedisSessionCacheStore) indexKey(identityID uint) string {
	return fmt.Sprintf("%s:index:%d", s.prefix, identityID)
}
