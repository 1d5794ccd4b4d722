package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goker/goker-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for sessions and plans. Writes go to the primary store and then
// refresh or invalidate the cache. Entries are never cached: the snapshot
// taken at close must come from the source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if err := s.primary.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.cache(ctx, sessionKey(sess.ID), sess)
	return nil
}

func (s *CachedStore) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	if err := s.primary.CloseSession(ctx, id, closedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey(id))
	return nil
}

func (s *CachedStore) ReopenSession(ctx context.Context, id string) error {
	if err := s.primary.ReopenSession(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey(id), planKey(id))
	return nil
}

func (s *CachedStore) SavePlan(ctx context.Context, plan *model.SettlementPlan) error {
	if err := s.primary.SavePlan(ctx, plan); err != nil {
		return err
	}
	s.cache(ctx, planKey(plan.SessionID), plan)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if s.lookup(ctx, sessionKey(id), &sess) {
		return &sess, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, sessionKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetPlan(ctx context.Context, sessionID string) (*model.SettlementPlan, error) {
	var plan model.SettlementPlan
	if s.lookup(ctx, planKey(sessionID), &plan) {
		return &plan, nil
	}

	fresh, err := s.primary.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, planKey(sessionID), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.primary.ListSessions(ctx)
}

func (s *CachedStore) InsertEntry(ctx context.Context, entry *model.Entry) error {
	return s.primary.InsertEntry(ctx, entry)
}

func (s *CachedStore) GetEntries(ctx context.Context, sessionID string) ([]model.Entry, error) {
	return s.primary.GetEntries(ctx, sessionID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func sessionKey(id string) string { return fmt.Sprintf("goker:session:%s", id) }
func planKey(id string) string    { return fmt.Sprintf("goker:plan:%s", id) }

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder never releases another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker implements Locker using SETNX with a TTL and a Lua-based
// conditional unlock. It serialises close-and-settle across replicas.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewRedisLocker creates a RedisLocker backed by the given client.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string { return "goker:lock:" + key }

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Background context: the caller's may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Compile-time interface checks.
var (
	_ Store  = (*CachedStore)(nil)
	_ Locker = (*RedisLocker)(nil)
)
