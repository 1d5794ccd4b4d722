// Package validate re-checks a settlement plan against the positions it was
// computed from. It does not trust the engine: any plan, from any algorithm,
// is replayed transfer by transfer on a private copy of the positions.
package validate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goker/goker-ledger/internal/model"
)

var (
	// ErrIncompletePlan is returned when a participant's balance is not
	// exactly zero after replaying the plan.
	ErrIncompletePlan = errors.New("validate: incomplete plan")

	// ErrDegenerateTransfer is returned for transfers with a non-positive
	// amount or the same participant on both sides.
	ErrDegenerateTransfer = errors.New("validate: degenerate transfer")

	// ErrUnknownParticipant is returned when a transfer names a participant
	// absent from the positions.
	ErrUnknownParticipant = errors.New("validate: unknown participant")

	// ErrMisdirectedTransfer is returned when money flows from a participant
	// who was not a debtor, or to one who was not a creditor.
	ErrMisdirectedTransfer = errors.New("validate: misdirected transfer")
)

// Error describes why a plan was rejected.
type Error struct {
	Reason      error  // one of the sentinel errors above
	Index       int    // offending transfer, or -1
	Participant string // offending participant, if any
	Detail      string
}

func (e *Error) Error() string {
	msg := e.Reason.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s: transfer %d", msg, e.Index)
	}
	if e.Participant != "" {
		msg = fmt.Sprintf("%s: participant %s", msg, e.Participant)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Reason }

// Plan replays plan against positions and returns nil if every participant
// ends at exactly zero. Paying a transfer raises the payer's balance toward
// zero and lowers the payee's. Neither argument is modified.
func Plan(positions map[string]model.NetPosition, plan *model.SettlementPlan) error {
	balances := make(map[string]int64, len(positions))
	for id, p := range positions {
		balances[id] = p.Amount
	}

	var transfers []model.Transfer
	if plan != nil {
		transfers = plan.Transfers
	}

	for i, t := range transfers {
		if t.Amount <= 0 {
			return &Error{Reason: ErrDegenerateTransfer, Index: i,
				Detail: fmt.Sprintf("amount %d", t.Amount)}
		}
		if t.From == t.To {
			return &Error{Reason: ErrDegenerateTransfer, Index: i, Participant: t.From,
				Detail: "payer and payee are the same"}
		}

		from, ok := positions[t.From]
		if !ok {
			return &Error{Reason: ErrUnknownParticipant, Index: i, Participant: t.From}
		}
		to, ok := positions[t.To]
		if !ok {
			return &Error{Reason: ErrUnknownParticipant, Index: i, Participant: t.To}
		}
		if from.Amount >= 0 {
			return &Error{Reason: ErrMisdirectedTransfer, Index: i, Participant: t.From,
				Detail: fmt.Sprintf("payer position is %d", from.Amount)}
		}
		if to.Amount <= 0 {
			return &Error{Reason: ErrMisdirectedTransfer, Index: i, Participant: t.To,
				Detail: fmt.Sprintf("payee position is %d", to.Amount)}
		}

		b := balances[t.From]
		if b > math.MaxInt64-t.Amount {
			return &Error{Reason: ErrDegenerateTransfer, Index: i, Participant: t.From, Detail: "overflow"}
		}
		balances[t.From] = b + t.Amount

		b = balances[t.To]
		if b < math.MinInt64+t.Amount {
			return &Error{Reason: ErrDegenerateTransfer, Index: i, Participant: t.To, Detail: "overflow"}
		}
		balances[t.To] = b - t.Amount
	}

	ids := make([]string, 0, len(balances))
	for id, b := range balances {
		if b != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return &Error{Reason: ErrIncompletePlan, Index: -1, Participant: ids[0],
		Detail: fmt.Sprintf("residual %d (%d participants unsettled)", balances[ids[0]], len(ids))}
}
