// Package settle computes transfer plans that zero every net position of a
// closed session (minimum-transaction debt netting).
//
// The default algorithm is greedy largest-magnitude matching: repeatedly pay
// the largest creditor from the largest debtor. It never emits more than
// n−1 transfers for n participants with a nonzero position and is usually
// close to the true minimum. Finding the exact minimum is NP-hard, so the
// exact solver only runs for small sessions and under a node budget, which
// keeps its behavior deterministic regardless of machine speed.
//
// Engines are immutable after construction and safe for concurrent use.
package settle

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goker/goker-ledger/internal/model"
)

var (
	// ErrNonZeroSum is returned when the positions handed to the engine do
	// not sum to zero. The engine refuses to guess a plan against an
	// inconsistent ledger.
	ErrNonZeroSum = errors.New("settle: net positions do not sum to zero")

	// ErrInvalidPosition is returned for positions the engine cannot
	// represent: an empty participant key or an amount of math.MinInt64.
	ErrInvalidPosition = errors.New("settle: invalid position")
)

// MaxExactParticipants caps ExactModeParticipantLimit. Subsets are tracked
// as uint64 bitmasks and the search is exponential in this number.
const MaxExactParticipants = 24

// Config bounds the exact solver.
type Config struct {
	// ExactModeParticipantLimit is the largest number of nonzero positions
	// for which the exact solver is attempted. Zero disables exact mode.
	ExactModeParticipantLimit int `json:"exact_mode_participant_limit" toml:"exact_mode_participant_limit"`

	// ExactModeSearchBudget is the maximum number of search nodes the exact
	// solver may visit before falling back to the greedy plan. Zero
	// disables exact mode.
	ExactModeSearchBudget int `json:"exact_mode_search_budget" toml:"exact_mode_search_budget"`
}

// Engine settles net positions.
type Engine struct {
	cfg Config
}

// NewEngine creates a settlement engine. Negative bounds are treated as
// zero (exact mode disabled) and the participant limit is capped at
// MaxExactParticipants.
func NewEngine(cfg Config) *Engine {
	if cfg.ExactModeParticipantLimit < 0 {
		cfg.ExactModeParticipantLimit = 0
	}
	if cfg.ExactModeParticipantLimit > MaxExactParticipants {
		cfg.ExactModeParticipantLimit = MaxExactParticipants
	}
	if cfg.ExactModeSearchBudget < 0 {
		cfg.ExactModeSearchBudget = 0
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// party is a participant with a nonzero net position.
type party struct {
	id     string
	amount int64
}

// Settle computes a settlement plan for the given positions, keyed by
// participant. Empty input (or only zero positions) yields an empty plan.
// The returned plan is fully determined by the input: repeated calls on the
// same positions produce identical plans.
func (e *Engine) Settle(positions map[string]model.NetPosition) (*model.SettlementPlan, error) {
	parties := make([]party, 0, len(positions))
	// Credits and debits are totalled separately so that every subset sum
	// computed later stays within int64.
	var credit, debit int64
	for id, p := range positions {
		if id == "" {
			return nil, fmt.Errorf("%w: empty participant", ErrInvalidPosition)
		}
		if p.Amount == math.MinInt64 {
			return nil, fmt.Errorf("%w: amount of %s out of range", ErrInvalidPosition, id)
		}
		switch {
		case p.Amount > 0:
			if credit > math.MaxInt64-p.Amount {
				return nil, fmt.Errorf("%w: credit total overflows", ErrInvalidPosition)
			}
			credit += p.Amount
		case p.Amount < 0:
			if debit > math.MaxInt64+p.Amount {
				return nil, fmt.Errorf("%w: debit total overflows", ErrInvalidPosition)
			}
			debit -= p.Amount
		default:
			continue
		}
		parties = append(parties, party{id: id, amount: p.Amount})
	}
	if credit != debit {
		return nil, fmt.Errorf("%w: sum is %d", ErrNonZeroSum, credit-debit)
	}

	// Map iteration order is random; everything downstream works on this
	// fixed order.
	sort.Slice(parties, func(i, j int) bool { return parties[i].id < parties[j].id })

	plan := &model.SettlementPlan{
		Mode:      model.ModeGreedy,
		Transfers: greedy(parties),
	}
	if !e.exactEnabled(len(parties)) {
		return plan, nil
	}

	res := searchExact(parties, len(parties)-len(plan.Transfers), e.cfg.ExactModeSearchBudget)
	plan.SearchNodes = res.nodes
	if res.exhausted {
		return plan, nil
	}

	plan.Mode = model.ModeExact
	if res.groups != nil {
		plan.Transfers = settleGroups(parties, res.groups)
	}
	return plan, nil
}

func (e *Engine) exactEnabled(n int) bool {
	return e.cfg.ExactModeSearchBudget > 0 &&
		e.cfg.ExactModeParticipantLimit > 0 &&
		n > 2 && n <= e.cfg.ExactModeParticipantLimit
}

// settleGroups runs the greedy matcher inside each zero-sum group, in the
// order the groups were found.
func settleGroups(parties []party, groups []uint64) []model.Transfer {
	transfers := make([]model.Transfer, 0, len(parties))
	for _, g := range groups {
		members := make([]party, 0, len(parties))
		for i := range parties {
			if g&(1<<uint(i)) != 0 {
				members = append(members, parties[i])
			}
		}
		transfers = append(transfers, greedy(members)...)
	}
	return transfers
}
