package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
		wantErr  error
	}{
		{"whole dollars", "100", "USD", 10000, nil},
		{"cents", "12.50", "USD", 1250, nil},
		{"zero", "0", "USD", 0, nil},
		{"yen has no minor unit", "500", "JPY", 500, nil},
		{"dinar has three digits", "1.234", "KWD", 1234, nil},
		{"sub-cent rejected", "1.005", "USD", 0, ErrAmountPrecision},
		{"fractional yen rejected", "1.5", "JPY", 0, ErrAmountPrecision},
		{"negative rejected", "-1", "USD", 0, ErrNegativeAmount},
		{"unknown currency", "1", "XYZ", 0, ErrUnknownCurrency},
		{"overflow", "100000000000000000000", "USD", 0, ErrAmountOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(decimal.RequireFromString(tt.amount), tt.currency)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMajorUnits(t *testing.T) {
	assert.True(t, MajorUnits(1250, "USD").Equal(decimal.RequireFromString("12.5")))
	assert.True(t, MajorUnits(500, "JPY").Equal(decimal.NewFromInt(500)))
	assert.True(t, MajorUnits(-75, "EUR").Equal(decimal.RequireFromString("-0.75")))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$12.50", FormatAmount(1250, "USD"))
	assert.Equal(t, "-$1.00", FormatAmount(-100, "USD"))
	assert.Equal(t, "42 XYZ", FormatAmount(42, "XYZ"))
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("EUR"))
	assert.False(t, ValidCurrency("eur!"))
}

func TestSettlementPlanTotal(t *testing.T) {
	p := &SettlementPlan{Transfers: []Transfer{
		{From: "a", To: "c", Amount: 50},
		{From: "b", To: "c", Amount: 70},
	}}
	assert.Equal(t, int64(120), p.Total())
	assert.Equal(t, int64(0), (&SettlementPlan{}).Total())
}
