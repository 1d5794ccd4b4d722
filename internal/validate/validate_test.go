package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goker/goker-ledger/internal/model"
)

func positions() map[string]model.NetPosition {
	return map[string]model.NetPosition{
		"A": {Participant: "A", Amount: -50},
		"B": {Participant: "B", Amount: -50},
		"C": {Participant: "C", Amount: 100},
		"D": {Participant: "D", Amount: 0},
	}
}

func plan(transfers ...model.Transfer) *model.SettlementPlan {
	return &model.SettlementPlan{Mode: model.ModeGreedy, Transfers: transfers}
}

func tr(from, to string, amount int64) model.Transfer {
	return model.Transfer{From: from, To: to, Amount: amount}
}

func TestPlan_Valid(t *testing.T) {
	err := Plan(positions(), plan(tr("A", "C", 50), tr("B", "C", 50)))
	assert.NoError(t, err)
}

func TestPlan_SplitPaymentsAreValid(t *testing.T) {
	err := Plan(positions(), plan(tr("A", "C", 20), tr("B", "C", 50), tr("A", "C", 30)))
	assert.NoError(t, err)
}

func TestPlan_EmptyPlanForSettledSession(t *testing.T) {
	zero := map[string]model.NetPosition{"A": {Participant: "A"}, "B": {Participant: "B"}}
	assert.NoError(t, Plan(zero, plan()))
	assert.NoError(t, Plan(zero, nil))
	assert.NoError(t, Plan(nil, nil))
}

func TestPlan_Failures(t *testing.T) {
	tests := []struct {
		name        string
		plan        *model.SettlementPlan
		reason      error
		index       int
		participant string
	}{
		{"missing transfer", plan(tr("A", "C", 50)), ErrIncompletePlan, -1, "B"},
		{"overpayment", plan(tr("A", "C", 60), tr("B", "C", 40)), ErrIncompletePlan, -1, "A"},
		{"empty plan", plan(), ErrIncompletePlan, -1, "A"},
		{"zero amount", plan(tr("A", "C", 0)), ErrDegenerateTransfer, 0, ""},
		{"negative amount", plan(tr("A", "C", 50), tr("C", "B", -50)), ErrDegenerateTransfer, 1, ""},
		{"self transfer", plan(tr("A", "A", 10)), ErrDegenerateTransfer, 0, "A"},
		{"unknown payer", plan(tr("Z", "C", 50)), ErrUnknownParticipant, 0, "Z"},
		{"unknown payee", plan(tr("A", "Z", 50)), ErrUnknownParticipant, 0, "Z"},
		{"payer is a creditor", plan(tr("C", "A", 50)), ErrMisdirectedTransfer, 0, "C"},
		{"payee is a debtor", plan(tr("A", "B", 50)), ErrMisdirectedTransfer, 0, "B"},
		{"payee is settled", plan(tr("A", "D", 50)), ErrMisdirectedTransfer, 0, "D"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Plan(positions(), tt.plan)
			require.ErrorIs(t, err, tt.reason)

			var verr *Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.index, verr.Index)
			if tt.participant != "" {
				assert.Equal(t, tt.participant, verr.Participant)
			}
		})
	}
}

func TestPlan_DoesNotMutateInputs(t *testing.T) {
	in := positions()
	p := plan(tr("A", "C", 50))

	first := Plan(in, p)
	second := Plan(in, p)

	assert.Equal(t, positions(), in)
	assert.Equal(t, []model.Transfer{tr("A", "C", 50)}, p.Transfers)
	assert.Equal(t, first.Error(), second.Error())
}

func TestError_Message(t *testing.T) {
	err := &Error{Reason: ErrUnknownParticipant, Index: 2, Participant: "Z"}
	assert.Equal(t, "validate: unknown participant: transfer 2: participant Z", err.Error())

	err = &Error{Reason: ErrIncompletePlan, Index: -1, Participant: "B", Detail: "residual -50 (1 participants unsettled)"}
	assert.Equal(t, "validate: incomplete plan: participant B: residual -50 (1 participants unsettled)", err.Error())
}
