package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goker/goker-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	entries  map[string][]model.Entry // session ID → entries in order
	plans    map[string]*model.SettlementPlan
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		entries:  make(map[string][]model.Entry),
		plans:    make(map[string]*model.SettlementPlan),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
	}
	// Store a copy to avoid external mutation.
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, id string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if sess.Status != model.StatusOpen {
		return fmt.Errorf("session %s: %w", id, ErrSessionClosed)
	}
	sess.Status = model.StatusClosed
	sess.ClosedAt = &closedAt
	return nil
}

func (s *MemoryStore) ReopenSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if sess.Status == model.StatusOpen {
		return fmt.Errorf("session %s: %w", id, ErrSessionOpen)
	}
	sess.Status = model.StatusOpen
	sess.ClosedAt = nil
	delete(s.plans, id)
	return nil
}

// InsertEntry checks the session status under the same lock as
// CloseSession, so no entry can slip in after a close.
func (s *MemoryStore) InsertEntry(_ context.Context, entry *model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[entry.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", entry.SessionID, ErrNotFound)
	}
	if sess.Status != model.StatusOpen {
		return fmt.Errorf("session %s: %w", entry.SessionID, ErrSessionClosed)
	}
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], *entry)
	return nil
}

func (s *MemoryStore) GetEntries(_ context.Context, sessionID string) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return slices.Clone(s.entries[sessionID]), nil
}

func (s *MemoryStore) SavePlan(_ context.Context, plan *model.SettlementPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[plan.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", plan.SessionID, ErrNotFound)
	}
	if sess.Status != model.StatusClosed {
		return fmt.Errorf("session %s: %w", plan.SessionID, ErrSessionOpen)
	}
	cp := *plan
	cp.Transfers = slices.Clone(plan.Transfers)
	s.plans[plan.SessionID] = &cp
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, sessionID string) (*model.SettlementPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[sessionID]
	if !ok {
		return nil, fmt.Errorf("plan for session %s: %w", sessionID, ErrNotFound)
	}
	cp := *plan
	cp.Transfers = slices.Clone(plan.Transfers)
	return &cp, nil
}

// LocalLocker implements Locker within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time // key → expiry
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrLockHeld
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// Only release our own hold; it may have expired and been
			// re-acquired by someone else.
			if l.held[key].Equal(expiry) {
				delete(l.held, key)
			}
		})
	}, nil
}

// Compile-time interface checks.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*LocalLocker)(nil)
)
