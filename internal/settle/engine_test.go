package settle_test

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goker/goker-ledger/internal/model"
	"github.com/goker/goker-ledger/internal/settle"
	"github.com/goker/goker-ledger/internal/validate"
)

// pos builds a position map from participant/amount pairs.
func pos(pairs ...any) map[string]model.NetPosition {
	m := make(map[string]model.NetPosition, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		id := pairs[i].(string)
		m[id] = model.NetPosition{Participant: id, Amount: int64(pairs[i+1].(int))}
	}
	return m
}

func greedyEngine() *settle.Engine {
	return settle.NewEngine(settle.Config{})
}

func exactEngine(budget int) *settle.Engine {
	return settle.NewEngine(settle.Config{ExactModeParticipantLimit: 12, ExactModeSearchBudget: budget})
}

// --- Greedy ---

func TestSettle_SingleTransfer(t *testing.T) {
	plan, err := greedyEngine().Settle(pos("A", -100, "B", 100, "C", 0))
	require.NoError(t, err)

	assert.Equal(t, model.ModeGreedy, plan.Mode)
	assert.Equal(t, []model.Transfer{{From: "A", To: "B", Amount: 100}}, plan.Transfers)
}

func TestSettle_TieBreakByParticipant(t *testing.T) {
	plan, err := greedyEngine().Settle(pos("B", -50, "A", -50, "C", 100))
	require.NoError(t, err)

	assert.Equal(t, []model.Transfer{
		{From: "A", To: "C", Amount: 50},
		{From: "B", To: "C", Amount: 50},
	}, plan.Transfers)
}

func TestSettle_LargestFirst(t *testing.T) {
	plan, err := greedyEngine().Settle(pos("A", 10, "B", -10, "C", -40, "D", 40))
	require.NoError(t, err)

	assert.Equal(t, []model.Transfer{
		{From: "C", To: "D", Amount: 40},
		{From: "B", To: "A", Amount: 10},
	}, plan.Transfers)
}

func TestSettle_PartialReinsertion(t *testing.T) {
	// C owes 90; A is owed 60 and B 30. C pays A first, then B with the rest.
	plan, err := greedyEngine().Settle(pos("A", 60, "B", 30, "C", -90))
	require.NoError(t, err)

	assert.Equal(t, []model.Transfer{
		{From: "C", To: "A", Amount: 60},
		{From: "C", To: "B", Amount: 30},
	}, plan.Transfers)
}

func TestSettle_EmptyInput(t *testing.T) {
	for _, in := range []map[string]model.NetPosition{nil, {}, pos("A", 0, "B", 0)} {
		plan, err := greedyEngine().Settle(in)
		require.NoError(t, err)
		assert.Empty(t, plan.Transfers)
		assert.NotNil(t, plan.Transfers)
	}
}

func TestSettle_NonZeroSum(t *testing.T) {
	_, err := greedyEngine().Settle(pos("A", -100, "B", 90))
	assert.ErrorIs(t, err, settle.ErrNonZeroSum)
}

func TestSettle_InvalidPositions(t *testing.T) {
	_, err := greedyEngine().Settle(map[string]model.NetPosition{
		"A": {Participant: "A", Amount: math.MinInt64},
	})
	assert.ErrorIs(t, err, settle.ErrInvalidPosition)

	_, err = greedyEngine().Settle(map[string]model.NetPosition{
		"":  {Amount: 5},
		"B": {Participant: "B", Amount: -5},
	})
	assert.ErrorIs(t, err, settle.ErrInvalidPosition)

	_, err = greedyEngine().Settle(map[string]model.NetPosition{
		"A": {Participant: "A", Amount: math.MaxInt64},
		"B": {Participant: "B", Amount: 1},
		"C": {Participant: "C", Amount: -1},
	})
	assert.ErrorIs(t, err, settle.ErrInvalidPosition)
}

// --- Exact ---

// Two independent zero-sum groups, {A,B,C} and {D,E}. Greedy pairs the two
// largest magnitudes across groups and needs four transfers; the minimum is
// three.
func disjointGroups() map[string]model.NetPosition {
	return pos("A", 10, "B", -6, "C", -4, "D", 7, "E", -7)
}

func TestSettle_GreedyCrossesGroups(t *testing.T) {
	plan, err := greedyEngine().Settle(disjointGroups())
	require.NoError(t, err)

	assert.Equal(t, []model.Transfer{
		{From: "E", To: "A", Amount: 7},
		{From: "B", To: "D", Amount: 6},
		{From: "C", To: "A", Amount: 3},
		{From: "C", To: "D", Amount: 1},
	}, plan.Transfers)
}

func TestSettle_ExactFindsFewerTransfers(t *testing.T) {
	plan, err := exactEngine(10_000).Settle(disjointGroups())
	require.NoError(t, err)

	assert.Equal(t, model.ModeExact, plan.Mode)
	assert.Positive(t, plan.SearchNodes)
	assert.Equal(t, []model.Transfer{
		{From: "B", To: "A", Amount: 6},
		{From: "C", To: "A", Amount: 4},
		{From: "E", To: "D", Amount: 7},
	}, plan.Transfers)
}

func TestSettle_ExactKeepsGreedyWhenAlreadyMinimal(t *testing.T) {
	plan, err := exactEngine(10_000).Settle(pos("A", -50, "B", -50, "C", 100))
	require.NoError(t, err)

	assert.Equal(t, model.ModeExact, plan.Mode)
	assert.Equal(t, []model.Transfer{
		{From: "A", To: "C", Amount: 50},
		{From: "B", To: "C", Amount: 50},
	}, plan.Transfers)
}

func TestSettle_ExactBudgetExhausted(t *testing.T) {
	plan, err := exactEngine(3).Settle(disjointGroups())
	require.NoError(t, err)

	assert.Equal(t, model.ModeGreedy, plan.Mode)
	assert.Len(t, plan.Transfers, 4)
	assert.Equal(t, 4, plan.SearchNodes)
}

func TestSettle_ExactSkippedAboveLimit(t *testing.T) {
	engine := settle.NewEngine(settle.Config{ExactModeParticipantLimit: 4, ExactModeSearchBudget: 10_000})
	plan, err := engine.Settle(disjointGroups())
	require.NoError(t, err)

	assert.Equal(t, model.ModeGreedy, plan.Mode)
	assert.Zero(t, plan.SearchNodes)
}

func TestNewEngine_ClampsConfig(t *testing.T) {
	cfg := settle.NewEngine(settle.Config{ExactModeParticipantLimit: 1000, ExactModeSearchBudget: -1}).Config()
	assert.Equal(t, settle.MaxExactParticipants, cfg.ExactModeParticipantLimit)
	assert.Zero(t, cfg.ExactModeSearchBudget)
}

// --- Properties ---

// randomPositions draws n participants with random balances that sum to
// zero. Magnitudes are drawn from a small set so that ties and zero-sum
// subgroups are common.
func randomPositions(rng *rand.Rand, n int) map[string]model.NetPosition {
	m := make(map[string]model.NetPosition, n)
	var sum int64
	for i := 0; i < n-1; i++ {
		amt := int64(rng.IntN(9)-4) * 25
		id := "p" + strconv.Itoa(i)
		m[id] = model.NetPosition{Participant: id, Amount: amt}
		sum += amt
	}
	last := "p" + strconv.Itoa(n-1)
	m[last] = model.NetPosition{Participant: last, Amount: -sum}
	return m
}

func nonZero(positions map[string]model.NetPosition) int {
	n := 0
	for _, p := range positions {
		if p.Amount != 0 {
			n++
		}
	}
	return n
}

func TestSettle_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	engines := map[string]*settle.Engine{
		"greedy": greedyEngine(),
		"exact":  exactEngine(50_000),
	}

	for i := 0; i < 400; i++ {
		positions := randomPositions(rng, 1+rng.IntN(11))
		n := nonZero(positions)

		greedyPlan, err := engines["greedy"].Settle(positions)
		require.NoError(t, err)

		for name, engine := range engines {
			plan, err := engine.Settle(positions)
			require.NoError(t, err, name)

			// Settlement correctness.
			require.NoError(t, validate.Plan(positions, plan), name)

			// Transfer bound.
			if n > 0 {
				require.LessOrEqual(t, len(plan.Transfers), n-1, name)
			} else {
				require.Empty(t, plan.Transfers, name)
			}

			// Exact mode never does worse than greedy.
			require.LessOrEqual(t, len(plan.Transfers), len(greedyPlan.Transfers), name)

			// Determinism.
			again, err := engine.Settle(positions)
			require.NoError(t, err)
			a, _ := json.Marshal(plan)
			b, _ := json.Marshal(again)
			require.Equal(t, string(a), string(b), name)
		}
	}
}

func TestSettle_DoesNotMutateInput(t *testing.T) {
	positions := disjointGroups()
	before := make(map[string]model.NetPosition, len(positions))
	for k, v := range positions {
		before[k] = v
	}

	_, err := exactEngine(10_000).Settle(positions)
	require.NoError(t, err)
	assert.Equal(t, before, positions)
}
