// Package session runs the session lifecycle around the settlement core:
// recording entries, closing a session, and turning its frozen entries into
// a validated, persisted settlement plan. It also exposes the HTTP handlers
// and WebSocket hub for the service.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goker/goker-ledger/internal/archive"
	"github.com/goker/goker-ledger/internal/ledger"
	"github.com/goker/goker-ledger/internal/metrics"
	"github.com/goker/goker-ledger/internal/model"
	"github.com/goker/goker-ledger/internal/settle"
	"github.com/goker/goker-ledger/internal/store"
	"github.com/goker/goker-ledger/internal/validate"
)

// ErrBadRequest marks malformed client input.
var ErrBadRequest = errors.New("session: bad request")

// Options configures the optional collaborators of a Service. Zero values
// are usable: a nil Locker means an in-process lock, nil Hub and Archiver
// disable broadcasting and archiving.
type Options struct {
	Locker           store.Locker
	Hub              *WSHub
	Archiver         archive.Archiver
	LockTTL          time.Duration
	BatchConcurrency int
	DefaultCurrency  string
}

// Settler computes a settlement plan for a set of net positions.
// *settle.Engine is the production implementation.
type Settler interface {
	Settle(positions map[string]model.NetPosition) (*model.SettlementPlan, error)
}

var _ Settler = (*settle.Engine)(nil)

// Service coordinates the store, the settlement engine and the validator.
type Service struct {
	store    store.Store
	engine   Settler
	locker   store.Locker
	hub      *WSHub
	archiver archive.Archiver
	lockTTL  time.Duration
	batch    int
	currency string
	now      func() time.Time
}

// NewService creates a session service.
func NewService(st store.Store, engine Settler, opts Options) *Service {
	s := &Service{
		store:    st,
		engine:   engine,
		locker:   opts.Locker,
		hub:      opts.Hub,
		archiver: opts.Archiver,
		lockTTL:  opts.LockTTL,
		batch:    opts.BatchConcurrency,
		currency: opts.DefaultCurrency,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = store.NewLocalLocker()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.batch < 1 {
		s.batch = 1
	}
	if s.currency == "" {
		s.currency = "USD"
	}
	return s
}

// CreateSession opens a new session. An empty currency selects the
// service default.
func (s *Service) CreateSession(ctx context.Context, name, currency string) (*model.Session, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.currency
	}
	if !model.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: currency %q", model.ErrUnknownCurrency, currency)
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		Currency:  currency,
		Status:    model.StatusOpen,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	metrics.OpenSessions.Inc()
	slog.Info("session created", "session", sess.ID, "name", name, "currency", currency)
	return sess, nil
}

// RecordEntry appends an immutable entry to an open session. Amounts are
// minor units.
func (s *Service) RecordEntry(ctx context.Context, sessionID, participant string, buyIn, cashOut int64, note string) (*model.Entry, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, fmt.Errorf("%w: participant is required", ledger.ErrInvalidEntry)
	}
	if buyIn < 0 || cashOut < 0 {
		return nil, fmt.Errorf("%w: amounts must not be negative", ledger.ErrInvalidEntry)
	}
	if buyIn == 0 && cashOut == 0 {
		return nil, fmt.Errorf("%w: buy_in or cash_out must be positive", ledger.ErrInvalidEntry)
	}

	entry := &model.Entry{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Participant: participant,
		BuyIn:       buyIn,
		CashOut:     cashOut,
		Note:        note,
		RecordedAt:  s.now(),
	}
	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	metrics.EntriesRecorded.Inc()

	slog.Info("entry recorded",
		"session", sessionID,
		"entry", entry.ID,
		"participant", participant,
		"buy_in", buyIn,
		"cash_out", cashOut,
	)
	if s.hub != nil {
		currency := s.sessionCurrency(ctx, sessionID)
		s.hub.Broadcast(WSMessage{
			Type:        EventEntryRecorded,
			SessionID:   sessionID,
			Participant: participant,
			BuyIn:       model.FormatAmount(buyIn, currency),
			CashOut:     model.FormatAmount(cashOut, currency),
		})
	}
	return entry, nil
}

// Preview is the live tally of a session's entries.
type Preview struct {
	Session   *model.Session
	Positions []model.NetPosition // sorted by participant
	Imbalance int64               // zero once the session balances
}

// Positions tallies the entries recorded so far without requiring the
// session to balance.
func (s *Service) Positions(ctx context.Context, sessionID string) (*Preview, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	positions, total, err := ledger.Tally(entries)
	if err != nil {
		return nil, err
	}
	return &Preview{Session: sess, Positions: ledger.Sorted(positions), Imbalance: total}, nil
}

// CloseAndSettle freezes the session, aggregates its entries, computes and
// validates a settlement plan, and persists it. A session whose entries do
// not aggregate stays closed; it must be reopened and corrected with
// further entries before it can settle. Calling it again on a session that
// is closed but has no stored plan settles the frozen entries as they are.
func (s *Service) CloseAndSettle(ctx context.Context, sessionID string) (*model.SettlementPlan, error) {
	start := time.Now()

	unlock, err := s.locker.Acquire(ctx, "settle:"+sessionID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.freeze(ctx, sessionID); err != nil {
		return nil, err
	}

	entries, err := s.store.GetEntries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot entries: %w", err)
	}

	positions, err := ledger.Aggregate(entries)
	if err != nil {
		metrics.AggregationFailures.WithLabelValues(aggregationReason(err)).Inc()
		slog.Warn("session did not aggregate", "session", sessionID, "entries", len(entries), "err", err)
		return nil, err
	}

	plan, err := s.engine.Settle(positions)
	if err != nil {
		return nil, err
	}
	if err := validate.Plan(positions, plan); err != nil {
		metrics.ValidationFailures.WithLabelValues(validationReason(err)).Inc()
		slog.Error("settlement plan rejected", "session", sessionID, "mode", plan.Mode, "err", err)
		return nil, fmt.Errorf("settle session %s: %w", sessionID, err)
	}

	plan.ID = uuid.NewString()
	plan.SessionID = sessionID
	plan.CreatedAt = s.now()
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues(plan.Mode).Inc()
	metrics.PlanTransfers.Observe(float64(len(plan.Transfers)))
	if plan.SearchNodes > 0 {
		metrics.SearchNodes.Observe(float64(plan.SearchNodes))
	}
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	slog.Info("session settled",
		"session", sessionID,
		"plan", plan.ID,
		"participants", len(positions),
		"transfers", len(plan.Transfers),
		"mode", plan.Mode,
		"search_nodes", plan.SearchNodes,
	)

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, plan); err != nil {
			slog.Error("plan archive failed", "session", sessionID, "plan", plan.ID, "err", err)
		}
	}
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      EventSessionSettled,
			SessionID: sessionID,
			Mode:      plan.Mode,
			Transfers: len(plan.Transfers),
			Total:     model.FormatAmount(plan.Total(), s.sessionCurrency(ctx, sessionID)),
		})
	}
	return plan, nil
}

// freeze closes the session. A session left closed without a plan by an
// earlier failed settlement is accepted as already frozen.
func (s *Service) freeze(ctx context.Context, sessionID string) error {
	err := s.store.CloseSession(ctx, sessionID, s.now())
	if err == nil {
		metrics.OpenSessions.Dec()
		return nil
	}
	if !errors.Is(err, store.ErrSessionClosed) {
		return err
	}

	_, perr := s.store.GetPlan(ctx, sessionID)
	switch {
	case perr == nil:
		return err
	case errors.Is(perr, store.ErrNotFound):
		slog.Info("resuming settlement of closed session", "session", sessionID)
		return nil
	default:
		return fmt.Errorf("check plan: %w", perr)
	}
}

// Reopen returns a closed session to open and discards its plan.
func (s *Service) Reopen(ctx context.Context, sessionID string) error {
	unlock, err := s.locker.Acquire(ctx, "settle:"+sessionID, s.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.ReopenSession(ctx, sessionID); err != nil {
		return err
	}
	metrics.OpenSessions.Inc()
	slog.Info("session reopened", "session", sessionID)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: EventSessionReopened, SessionID: sessionID})
	}
	return nil
}

// Plan returns the persisted plan of a settled session.
func (s *Service) Plan(ctx context.Context, sessionID string) (*model.SettlementPlan, error) {
	return s.store.GetPlan(ctx, sessionID)
}

// SettleStateless computes and validates a plan for positions that are not
// backed by a session. Nothing is persisted.
func (s *Service) SettleStateless(list []model.NetPosition) (*model.SettlementPlan, error) {
	positions, err := ledger.FromSlice(list)
	if err != nil {
		return nil, err
	}
	plan, err := s.engine.Settle(positions)
	if err != nil {
		return nil, err
	}
	if err := validate.Plan(positions, plan); err != nil {
		metrics.ValidationFailures.WithLabelValues(validationReason(err)).Inc()
		slog.Error("settlement plan rejected", "participants", len(positions), "err", err)
		return nil, err
	}
	return plan, nil
}

// BatchResult is the outcome of settling one session in a batch.
type BatchResult struct {
	SessionID string
	Plan      *model.SettlementPlan
	Err       error
}

// SettleBatch closes and settles independent sessions concurrently, at
// most BatchConcurrency at a time. A failure in one session does not stop
// the others. Results are in input order.
func (s *Service) SettleBatch(ctx context.Context, sessionIDs []string) []BatchResult {
	results := make([]BatchResult, len(sessionIDs))

	var g errgroup.Group
	g.SetLimit(s.batch)
	for i, id := range sessionIDs {
		g.Go(func() error {
			plan, err := s.CloseAndSettle(ctx, id)
			results[i] = BatchResult{SessionID: id, Plan: plan, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) sessionCurrency(ctx context.Context, sessionID string) string {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return s.currency
	}
	return sess.Currency
}

func aggregationReason(err error) string {
	if errors.Is(err, ledger.ErrUnbalancedSession) {
		return "unbalanced"
	}
	return "invalid_entry"
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, validate.ErrDegenerateTransfer):
		return "degenerate_transfer"
	case errors.Is(err, validate.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, validate.ErrMisdirectedTransfer):
		return "misdirected_transfer"
	case errors.Is(err, validate.ErrIncompletePlan):
		return "incomplete_plan"
	default:
		return "other"
	}
}
