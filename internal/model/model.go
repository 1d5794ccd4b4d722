// Package model defines the core domain types shared across the ledger.
// All monetary values are int64 minor currency units (cents), never float64
// for money.
package model

import "time"

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Settlement modes reported on a plan.
const (
	ModeGreedy = "greedy"
	ModeExact  = "exact"
)

// Session is a bounded period of buy-ins and cash-outs among a fixed set of
// participants. It is closed exactly once before settlement.
type Session struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Currency  string     `json:"currency" db:"currency"` // ISO 4217 code
	Status    string     `json:"status" db:"status"`     // "open" or "closed"
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// Entry is an immutable record of money put into (BuyIn) or taken out of
// (CashOut) a session by one participant. Once created, entries are never
// modified or deleted; corrections are recorded as further entries.
type Entry struct {
	ID          string    `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	Participant string    `json:"participant" db:"participant"`
	BuyIn       int64     `json:"buy_in" db:"buy_in"`     // minor units, >= 0
	CashOut     int64     `json:"cash_out" db:"cash_out"` // minor units, >= 0
	Note        string    `json:"note,omitempty" db:"note"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
}

// NetPosition is a participant's signed balance once a session closes.
// Positive: the participant is owed money. Negative: the participant owes.
type NetPosition struct {
	Participant string `json:"participant"`
	Amount      int64  `json:"amount"`
}

// Transfer moves Amount minor units from a debtor to a creditor.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// SettlementPlan is the ordered list of transfers that drives every net
// position of a session to zero. The settlement engine fills Mode,
// Transfers and SearchNodes; ID, SessionID and CreatedAt are stamped when
// the plan is persisted.
type SettlementPlan struct {
	ID          string     `json:"id,omitempty" db:"id"`
	SessionID   string     `json:"session_id,omitempty" db:"session_id"`
	Mode        string     `json:"mode" db:"mode"`
	Transfers   []Transfer `json:"transfers"`
	SearchNodes int        `json:"search_nodes,omitempty" db:"search_nodes"`
	CreatedAt   time.Time  `json:"created_at,omitzero" db:"created_at"`
}

// Total returns the sum of all transfer amounts in the plan.
func (p *SettlementPlan) Total() int64 {
	var total int64
	for _, t := range p.Transfers {
		total += t.Amount
	}
	return total
}
