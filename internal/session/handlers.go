package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/goker/goker-ledger/internal/ledger"
	"github.com/goker/goker-ledger/internal/model"
	"github.com/goker/goker-ledger/internal/settle"
	"github.com/goker/goker-ledger/internal/store"
)

// --- Request/Response types ---

// CreateSessionRequest is the JSON body for session creation.
type CreateSessionRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"` // ISO 4217; empty → service default
}

// RecordEntryRequest is the JSON body for POST /sessions/{id}/entries.
// Amounts are in major units ("12.50"); they must be exact in the session
// currency's minor unit.
type RecordEntryRequest struct {
	Participant string          `json:"participant"`
	BuyIn       decimal.Decimal `json:"buy_in"`
	CashOut     decimal.Decimal `json:"cash_out"`
	Note        string          `json:"note"`
}

// SettleRequest is the JSON body for the stateless POST /settle. Amounts
// are minor units.
type SettleRequest struct {
	Currency  string              `json:"currency"`
	Positions []model.NetPosition `json:"positions"`
}

// BatchCloseRequest is the JSON body for POST /sessions/batch-close.
type BatchCloseRequest struct {
	SessionIDs []string `json:"session_ids"`
}

// PositionView is a net position with its display form.
type PositionView struct {
	Participant string          `json:"participant"`
	Amount      int64           `json:"amount"`
	Major       decimal.Decimal `json:"major"`
	Display     string          `json:"display"`
}

// PositionsResponse is the live tally of a session.
type PositionsResponse struct {
	SessionID string         `json:"session_id"`
	Status    string         `json:"status"`
	Currency  string         `json:"currency"`
	Positions []PositionView `json:"positions"`
	Imbalance int64          `json:"imbalance"`
	Balanced  bool           `json:"balanced"`
}

// TransferView is a transfer with its display form.
type TransferView struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  int64  `json:"amount"`
	Display string `json:"display"`
}

// PlanResponse is the JSON representation of a settlement plan.
type PlanResponse struct {
	ID          string         `json:"id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Mode        string         `json:"mode"`
	Currency    string         `json:"currency"`
	Transfers   []TransferView `json:"transfers"`
	Total       int64          `json:"total"`
	SearchNodes int            `json:"search_nodes,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

// BatchItem is one session's outcome in a batch-close response.
type BatchItem struct {
	SessionID string        `json:"session_id"`
	Plan      *PlanResponse `json:"plan,omitempty"`
	Error     string        `json:"error,omitempty"`
	Status    int           `json:"status"`
}

// --- HTTP Handlers ---

// Routes mounts the session API on r, relative to /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/sessions", s.ListSessions)
	r.Post("/sessions", s.HandleCreateSession)
	r.Post("/sessions/batch-close", s.BatchClose)
	r.Get("/sessions/{sessionID}", s.GetSession)
	r.Post("/sessions/{sessionID}/entries", s.HandleRecordEntry)
	r.Get("/sessions/{sessionID}/entries", s.ListEntries)
	r.Get("/sessions/{sessionID}/positions", s.GetPositions)
	r.Post("/sessions/{sessionID}/close", s.CloseSession)
	r.Post("/sessions/{sessionID}/reopen", s.ReopenSession)
	r.Get("/sessions/{sessionID}/plan", s.GetPlan)
	r.Post("/settle", s.Settle)
}

// ListSessions handles GET /api/v1/sessions
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleCreateSession handles POST /api/v1/sessions
func (s *Service) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := s.CreateSession(r.Context(), req.Name, req.Currency)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/v1/sessions/{sessionID}
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleRecordEntry handles POST /api/v1/sessions/{sessionID}/entries
func (s *Service) HandleRecordEntry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req RecordEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	buyIn, err := parseEntryAmount("buy_in", req.BuyIn, sess.Currency)
	if err != nil {
		writeFailure(w, err)
		return
	}
	cashOut, err := parseEntryAmount("cash_out", req.CashOut, sess.Currency)
	if err != nil {
		writeFailure(w, err)
		return
	}

	entry, err := s.RecordEntry(r.Context(), sessionID, req.Participant, buyIn, cashOut, req.Note)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// parseEntryAmount converts a major-unit entry amount to minor units. A
// negative amount makes the entry invalid; precision and overflow errors
// are malformed input.
func parseEntryAmount(field string, v decimal.Decimal, currency string) (int64, error) {
	amount, err := model.ParseAmount(v, currency)
	switch {
	case errors.Is(err, model.ErrNegativeAmount):
		return 0, fmt.Errorf("%w: %s: %w", ledger.ErrInvalidEntry, field, err)
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return amount, nil
}

// ListEntries handles GET /api/v1/sessions/{sessionID}/entries
func (s *Service) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetEntries(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPositions handles GET /api/v1/sessions/{sessionID}/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	preview, err := s.Positions(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	currency := preview.Session.Currency
	views := make([]PositionView, 0, len(preview.Positions))
	for _, p := range preview.Positions {
		views = append(views, PositionView{
			Participant: p.Participant,
			Amount:      p.Amount,
			Major:       model.MajorUnits(p.Amount, currency),
			Display:     model.FormatAmount(p.Amount, currency),
		})
	}
	writeJSON(w, http.StatusOK, PositionsResponse{
		SessionID: preview.Session.ID,
		Status:    preview.Session.Status,
		Currency:  currency,
		Positions: views,
		Imbalance: preview.Imbalance,
		Balanced:  preview.Imbalance == 0,
	})
}

// CloseSession handles POST /api/v1/sessions/{sessionID}/close
func (s *Service) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	plan, err := s.CloseAndSettle(r.Context(), sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(plan, s.sessionCurrency(r.Context(), sessionID)))
}

// ReopenSession handles POST /api/v1/sessions/{sessionID}/reopen
func (s *Service) ReopenSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Reopen(r.Context(), sessionID); err != nil {
		writeFailure(w, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetPlan handles GET /api/v1/sessions/{sessionID}/plan
func (s *Service) GetPlan(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	plan, err := s.Plan(r.Context(), sessionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(plan, s.sessionCurrency(r.Context(), sessionID)))
}

// BatchClose handles POST /api/v1/sessions/batch-close
func (s *Service) BatchClose(w http.ResponseWriter, r *http.Request) {
	var req BatchCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.SessionIDs) == 0 {
		writeFailure(w, fmt.Errorf("%w: session_ids is required", ErrBadRequest))
		return
	}

	results := s.SettleBatch(r.Context(), req.SessionIDs)
	items := make([]BatchItem, 0, len(results))
	for _, res := range results {
		item := BatchItem{SessionID: res.SessionID, Status: http.StatusOK}
		if res.Err != nil {
			item.Status = statusFor(res.Err)
			item.Error = clientMessage(res.Err, item.Status)
		} else {
			item.Plan = planResponse(res.Plan, s.sessionCurrency(r.Context(), res.SessionID))
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// Settle handles POST /api/v1/settle
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	if !model.ValidCurrency(currency) {
		writeFailure(w, fmt.Errorf("%w: currency %q", model.ErrUnknownCurrency, currency))
		return
	}

	plan, err := s.SettleStateless(req.Positions)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(plan, currency))
}

func planResponse(plan *model.SettlementPlan, currency string) *PlanResponse {
	resp := &PlanResponse{
		ID:          plan.ID,
		SessionID:   plan.SessionID,
		Mode:        plan.Mode,
		Currency:    currency,
		Transfers:   make([]TransferView, 0, len(plan.Transfers)),
		Total:       plan.Total(),
		SearchNodes: plan.SearchNodes,
	}
	if !plan.CreatedAt.IsZero() {
		created := plan.CreatedAt
		resp.CreatedAt = &created
	}
	for _, t := range plan.Transfers {
		resp.Transfers = append(resp.Transfers, TransferView{
			From:    t.From,
			To:      t.To,
			Amount:  t.Amount,
			Display: model.FormatAmount(t.Amount, currency),
		})
	}
	return resp
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSessionClosed),
		errors.Is(err, store.ErrSessionOpen),
		errors.Is(err, store.ErrLockHeld),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrUnbalancedSession),
		errors.Is(err, settle.ErrNonZeroSum),
		errors.Is(err, settle.ErrInvalidPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrUnknownCurrency),
		errors.Is(err, model.ErrNegativeAmount),
		errors.Is(err, model.ErrAmountPrecision),
		errors.Is(err, model.ErrAmountOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with the status statusFor assigns it.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeError(w, clientMessage(err, status), status)
}

// clientMessage is the error text a client sees. Internal failures are
// logged and replaced with a generic message.
func clientMessage(err error, status int) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	slog.Error("request failed", "err", err)
	return "internal server error"
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
