package ledger

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goker/goker-ledger/internal/model"
)

func entry(p string, buyIn, cashOut int64) model.Entry {
	return model.Entry{Participant: p, BuyIn: buyIn, CashOut: cashOut}
}

func TestAggregate_Example(t *testing.T) {
	positions, err := Aggregate([]model.Entry{
		entry("A", 100, 0),
		entry("B", 50, 150),
		entry("C", 100, 100),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]model.NetPosition{
		"A": {Participant: "A", Amount: -100},
		"B": {Participant: "B", Amount: 100},
		"C": {Participant: "C", Amount: 0},
	}, positions)
}

func TestAggregate_TopUpsAreSummed(t *testing.T) {
	positions, err := Aggregate([]model.Entry{
		entry("alice", 2000, 0),
		entry("alice", 1000, 0),
		entry("bob", 2000, 0),
		entry("alice", 0, 4500),
		entry("bob", 0, 500),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), positions["alice"].Amount)
	assert.Equal(t, int64(-1500), positions["bob"].Amount)
}

func TestAggregate_Empty(t *testing.T) {
	positions, err := Aggregate(nil)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestAggregate_Unbalanced(t *testing.T) {
	_, err := Aggregate([]model.Entry{
		entry("A", 100, 0),
		entry("B", 0, 90),
	})
	require.ErrorIs(t, err, ErrUnbalancedSession)

	var imb *ImbalanceError
	require.True(t, errors.As(err, &imb))
	assert.Equal(t, int64(-10), imb.Total)
}

func TestAggregate_InvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.Entry
	}{
		{"negative buy-in", []model.Entry{entry("A", -1, 0)}},
		{"negative cash-out", []model.Entry{entry("A", 0, -5)}},
		{"missing participant", []model.Entry{entry("", 10, 10)}},
		{"buy-in overflow", []model.Entry{entry("A", math.MaxInt64, 0), entry("A", 1, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(tt.entries)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestTally_ReportsImbalanceWithoutFailing(t *testing.T) {
	positions, total, err := Tally([]model.Entry{
		entry("A", 100, 0),
		entry("B", 0, 90),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-10), total)
	assert.Len(t, positions, 2)
}

func TestSorted(t *testing.T) {
	sorted := Sorted(map[string]model.NetPosition{
		"carol": {Participant: "carol", Amount: 1},
		"alice": {Participant: "alice", Amount: -2},
		"bob":   {Participant: "bob", Amount: 1},
	})
	require.Len(t, sorted, 3)
	assert.Equal(t, "alice", sorted[0].Participant)
	assert.Equal(t, "bob", sorted[1].Participant)
	assert.Equal(t, "carol", sorted[2].Participant)
}

func TestFromSlice(t *testing.T) {
	positions, err := FromSlice([]model.NetPosition{
		{Participant: "A", Amount: -5},
		{Participant: "B", Amount: 5},
	})
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	_, err = FromSlice([]model.NetPosition{
		{Participant: "A", Amount: -5},
		{Participant: "A", Amount: 5},
	})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

// Any entry set with non-negative amounts that aggregates successfully
// yields positions summing to exactly zero.
func TestAggregate_ConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	names := []string{"A", "B", "C", "D", "E", "F"}

	for i := 0; i < 500; i++ {
		// Build a balanced session: every chip bought in is cashed out by
		// someone.
		var entries []model.Entry
		var pot int64
		for j := 0; j < 1+rng.IntN(12); j++ {
			amt := rng.Int64N(10_000)
			pot += amt
			entries = append(entries, entry(names[rng.IntN(len(names))], amt, 0))
		}
		for pot > 0 {
			out := 1 + rng.Int64N(pot)
			pot -= out
			entries = append(entries, entry(names[rng.IntN(len(names))], 0, out))
		}

		positions, err := Aggregate(entries)
		require.NoError(t, err)

		var sum int64
		for _, p := range positions {
			sum += p.Amount
		}
		require.Zero(t, sum)
	}
}
