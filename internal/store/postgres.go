package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goker/goker-ledger/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as BIGINT minor units.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, currency, status, created_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.Name, sess.Currency, sess.Status, sess.CreatedAt, sess.ClosedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
	}
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, currency, status, created_at, closed_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Name, &sess.Currency, &sess.Status, &sess.CreatedAt, &sess.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, currency, status, created_at, closed_at
		 FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Currency, &sess.Status,
			&sess.CreatedAt, &sess.ClosedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CloseSession flips the status with a conditional UPDATE; of several
// concurrent callers exactly one sees a row affected.
func (s *PostgresStore) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = 'closed', closed_at = $2
		 WHERE id = $1 AND status = 'open'`, id, closedAt)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", id, ErrSessionClosed)
}

func (s *PostgresStore) ReopenSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET status = 'open', closed_at = NULL
		 WHERE id = $1 AND status = 'closed'`, id)
	if err != nil {
		return fmt.Errorf("reopen session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", id, ErrSessionOpen)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plans WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("discard plan %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

// InsertEntry takes a share lock on the session row before inserting. A
// concurrent CloseSession needs an exclusive row lock, so it waits for
// in-flight inserts and every later insert observes the closed status.
func (s *PostgresStore) InsertEntry(ctx context.Context, e *model.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR SHARE`, e.SessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %s: %w", e.SessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock session %s: %w", e.SessionID, err)
	}
	if status != model.StatusOpen {
		return fmt.Errorf("session %s: %w", e.SessionID, ErrSessionClosed)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO entries (id, session_id, participant, buy_in, cash_out, note, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SessionID, e.Participant, e.BuyIn, e.CashOut, e.Note, e.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEntries(ctx context.Context, sessionID string) ([]model.Entry, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, participant, buy_in, cash_out, note, recorded_at
		 FROM entries WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SavePlan upserts the plan only while the session is closed.
func (s *PostgresStore) SavePlan(ctx context.Context, plan *model.SettlementPlan) error {
	transfers, err := json.Marshal(plan.Transfers)
	if err != nil {
		return fmt.Errorf("encode transfers: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO plans (session_id, id, mode, transfers, search_nodes, created_at)
		 SELECT $1, $2, $3, $4::JSONB, $5, $6
		 WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND status = 'closed')
		 ON CONFLICT (session_id) DO UPDATE
		 SET id = EXCLUDED.id, mode = EXCLUDED.mode, transfers = EXCLUDED.transfers,
		     search_nodes = EXCLUDED.search_nodes, created_at = EXCLUDED.created_at`,
		plan.SessionID, plan.ID, plan.Mode, string(transfers), plan.SearchNodes, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.SessionID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, plan.SessionID); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", plan.SessionID, ErrSessionOpen)
	}
	return nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, sessionID string) (*model.SettlementPlan, error) {
	var plan model.SettlementPlan
	var transfers []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, mode, transfers::TEXT, search_nodes, created_at
		 FROM plans WHERE session_id = $1`, sessionID).
		Scan(&plan.ID, &plan.SessionID, &plan.Mode, &transfers, &plan.SearchNodes, &plan.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plan for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(transfers, &plan.Transfers); err != nil {
		return nil, fmt.Errorf("decode transfers %s: %w", sessionID, err)
	}
	return &plan, nil
}

// pgxRows is the subset of pgx.Rows used by scanEntries.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows pgxRows) ([]model.Entry, error) {
	entries := []model.Entry{}
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Participant,
			&e.BuyIn, &e.CashOut, &e.Note, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
