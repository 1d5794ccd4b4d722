package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goker/goker-ledger/internal/model"
)

// setupTestRedis starts an in-process Redis and returns a client for it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	newSession(t, s, "s1")
	require.True(t, mr.Exists(sessionKey("s1")))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("s1")))

	// A hit is served from the cache without touching the primary.
	cached := model.Session{ID: "s1", Name: "from-cache", Currency: "USD", Status: model.StatusOpen}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, mr.Set(sessionKey("s1"), string(data)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "from-cache", got.Name)

	// A miss reads the primary and fills the cache.
	mr.FlushAll()
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Name)
	assert.True(t, mr.Exists(sessionKey("s1")))

	// Misses on the primary are not cached.
	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(sessionKey("missing")))
}

func TestCachedStore_Invalidation(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	newSession(t, s, "s1")
	require.NoError(t, s.InsertEntry(ctx, &model.Entry{ID: "e1", SessionID: "s1", Participant: "A", BuyIn: 10}))

	require.NoError(t, s.CloseSession(ctx, "s1", time.Now()))
	assert.False(t, mr.Exists(sessionKey("s1")))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)

	plan := &model.SettlementPlan{ID: "p1", SessionID: "s1", Mode: model.ModeGreedy,
		Transfers: []model.Transfer{{From: "A", To: "B", Amount: 10}}}
	require.NoError(t, s.SavePlan(ctx, plan))
	require.True(t, mr.Exists(planKey("s1")))

	stored, err := s.GetPlan(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, plan.Transfers, stored.Transfers)

	require.NoError(t, s.ReopenSession(ctx, "s1"))
	assert.False(t, mr.Exists(sessionKey("s1")))
	assert.False(t, mr.Exists(planKey("s1")))

	_, err = s.GetPlan(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)

	// Entries pass through uncached.
	entries, err := s.GetEntries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []string{sessionKey("s1")}, mr.Keys())
}

func TestRedisLocker(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(rdb)

	release, err := l.Acquire(ctx, "settle:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey("settle:s1")))

	_, err = l.Acquire(ctx, "settle:s1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	// Other keys are independent.
	other, err := l.Acquire(ctx, "settle:s2", time.Minute)
	require.NoError(t, err)
	other()

	release()
	assert.False(t, mr.Exists(lockKey("settle:s1")))

	again, err := l.Acquire(ctx, "settle:s1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ReleaseKeepsNewerHolder(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(rdb)

	stale, err := l.Acquire(ctx, "settle:s1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(lockKey("settle:s1")))

	current, err := l.Acquire(ctx, "settle:s1", time.Minute)
	require.NoError(t, err)
	defer current()
	token, err := mr.Get(lockKey("settle:s1"))
	require.NoError(t, err)

	stale()
	held, err := mr.Get(lockKey("settle:s1"))
	require.NoError(t, err)
	assert.Equal(t, token, held)

	_, err = l.Acquire(ctx, "settle:s1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestRedisLocker_ConcurrentRelease(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	l := NewRedisLocker(rdb)

	release, err := l.Acquire(context.Background(), "settle:s1", time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()
	assert.False(t, mr.Exists(lockKey("settle:s1")))
}
