// Package store defines the persistence interface for sessions, their
// immutable entries and their settlement plans. Implementations include
// PostgreSQL (source of truth), Redis (read-through cache) and in-memory
// (for testing and development).
//
// Every implementation enforces the single-writer-then-freeze discipline:
// once CloseSession returns, InsertEntry for that session fails with
// ErrSessionClosed, and GetEntries returns a complete, immutable snapshot.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/goker/goker-ledger/internal/model"
)

var (
	// ErrNotFound is returned when a session or plan does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a session with a taken ID.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrSessionClosed is returned when writing entries to, or closing, a
	// session that is already closed.
	ErrSessionClosed = errors.New("store: session is closed")

	// ErrSessionOpen is returned when reopening an open session or saving a
	// plan for a session that has not been closed.
	ErrSessionOpen = errors.New("store: session is open")

	// ErrLockHeld is returned when a lock is already held by another party.
	ErrLockHeld = errors.New("store: lock already held")
)

// Store is the persistence interface.
type Store interface {
	// --- Sessions ---

	// CreateSession persists a new open session.
	CreateSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by its ID.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]model.Session, error)

	// CloseSession freezes an open session. Exactly one concurrent caller
	// succeeds; the others get ErrSessionClosed.
	CloseSession(ctx context.Context, id string, closedAt time.Time) error

	// ReopenSession returns a closed session to open and discards its plan.
	ReopenSession(ctx context.Context, id string) error

	// --- Immutable entries ---

	// InsertEntry appends an entry to an open session.
	InsertEntry(ctx context.Context, entry *model.Entry) error

	// GetEntries returns a session's entries in recording order.
	GetEntries(ctx context.Context, sessionID string) ([]model.Entry, error)

	// --- Plans ---

	// SavePlan stores the settlement plan of a closed session, replacing
	// any previous one.
	SavePlan(ctx context.Context, plan *model.SettlementPlan) error

	// GetPlan returns the settlement plan of a session.
	GetPlan(ctx context.Context, sessionID string) (*model.SettlementPlan, error)
}

// Locker hands out exclusive, expiring locks keyed by name.
type Locker interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The returned
	// function releases it and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
