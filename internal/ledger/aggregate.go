// Package ledger reduces the immutable entries of a session into one net
// position per participant.
//
// Sums are exact int64 minor-unit arithmetic. A closed session is a closed
// economic system: whatever was bought in must have been cashed out, so the
// net positions of a valid session sum to exactly zero. An imbalance is an
// upstream recording error and is reported, never corrected here.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goker/goker-ledger/internal/model"
)

var (
	// ErrInvalidEntry is returned for malformed entries: negative amounts,
	// a missing participant, or totals that overflow int64.
	ErrInvalidEntry = errors.New("ledger: invalid entry")

	// ErrUnbalancedSession is returned when the net positions of a session
	// do not sum to zero.
	ErrUnbalancedSession = errors.New("ledger: unbalanced session")
)

// ImbalanceError carries the non-zero total of an unbalanced session.
type ImbalanceError struct {
	// Total is Σ(cash_out) − Σ(buy_in) across all participants.
	Total int64
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("%s: net positions sum to %d", ErrUnbalancedSession, e.Total)
}

func (e *ImbalanceError) Unwrap() error { return ErrUnbalancedSession }

// Tally groups entries by participant and returns each participant's net
// position together with the signed session total. Unlike Aggregate it does
// not require the total to be zero, which makes it suitable for previewing
// an open session.
func Tally(entries []model.Entry) (map[string]model.NetPosition, int64, error) {
	type sums struct {
		buyIn   int64
		cashOut int64
	}
	agg := make(map[string]*sums)

	for i, e := range entries {
		if e.Participant == "" {
			return nil, 0, fmt.Errorf("%w: entry %d has no participant", ErrInvalidEntry, i)
		}
		if e.BuyIn < 0 || e.CashOut < 0 {
			return nil, 0, fmt.Errorf("%w: entry %d (%s) has negative amount buy_in=%d cash_out=%d",
				ErrInvalidEntry, i, e.Participant, e.BuyIn, e.CashOut)
		}

		s, ok := agg[e.Participant]
		if !ok {
			s = &sums{}
			agg[e.Participant] = s
		}
		var err error
		if s.buyIn, err = addChecked(s.buyIn, e.BuyIn); err != nil {
			return nil, 0, fmt.Errorf("%w: buy-in total of %s: %v", ErrInvalidEntry, e.Participant, err)
		}
		if s.cashOut, err = addChecked(s.cashOut, e.CashOut); err != nil {
			return nil, 0, fmt.Errorf("%w: cash-out total of %s: %v", ErrInvalidEntry, e.Participant, err)
		}
	}

	positions := make(map[string]model.NetPosition, len(agg))
	var total int64
	for participant, s := range agg {
		// Both sums are non-negative, so the difference cannot overflow.
		net := s.cashOut - s.buyIn
		positions[participant] = model.NetPosition{Participant: participant, Amount: net}

		var err error
		if total, err = addChecked(total, net); err != nil {
			return nil, 0, fmt.Errorf("%w: session total: %v", ErrInvalidEntry, err)
		}
	}
	return positions, total, nil
}

// Aggregate reduces a closed session's entries into net positions. It fails
// with ErrInvalidEntry for malformed input and with ErrUnbalancedSession
// (as *ImbalanceError) when the positions do not sum to zero.
func Aggregate(entries []model.Entry) (map[string]model.NetPosition, error) {
	positions, total, err := Tally(entries)
	if err != nil {
		return nil, err
	}
	if total != 0 {
		return nil, &ImbalanceError{Total: total}
	}
	return positions, nil
}

// Sorted returns the positions ordered by participant identifier.
func Sorted(positions map[string]model.NetPosition) []model.NetPosition {
	out := make([]model.NetPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Participant < out[j].Participant
	})
	return out
}

// FromSlice builds a position mapping from a list, rejecting duplicate
// participants.
func FromSlice(list []model.NetPosition) (map[string]model.NetPosition, error) {
	positions := make(map[string]model.NetPosition, len(list))
	for _, p := range list {
		if p.Participant == "" {
			return nil, fmt.Errorf("%w: position without participant", ErrInvalidEntry)
		}
		if _, dup := positions[p.Participant]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %s", ErrInvalidEntry, p.Participant)
		}
		positions[p.Participant] = p
	}
	return positions, nil
}

func addChecked(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, errors.New("int64 overflow")
	}
	return a + b, nil
}
