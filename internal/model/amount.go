package model

import (
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCurrency is returned for currency codes outside ISO 4217.
	ErrUnknownCurrency = errors.New("model: unknown currency")

	// ErrNegativeAmount is returned when a buy-in or cash-out is below zero.
	ErrNegativeAmount = errors.New("model: amount must not be negative")

	// ErrAmountPrecision is returned when an amount has more decimal places
	// than the currency's minor unit allows (e.g. 1.005 USD).
	ErrAmountPrecision = errors.New("model: amount is finer than the currency minor unit")

	// ErrAmountOverflow is returned when an amount does not fit in int64
	// minor units.
	ErrAmountOverflow = errors.New("model: amount out of range")
)

// ValidCurrency reports whether code is a known ISO 4217 currency.
func ValidCurrency(code string) bool {
	return money.GetCurrency(code) != nil
}

// ParseAmount converts a major-unit decimal (e.g. 12.50 USD) into exact
// minor units (1250) using the currency's fraction digits. Values are never
// rounded: anything finer than one minor unit is rejected.
func ParseAmount(amount decimal.Decimal, currency string) (int64, error) {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	minor := amount.Shift(int32(cur.Fraction))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s", ErrAmountPrecision, amount, currency)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return minor.IntPart(), nil
}

// MajorUnits converts minor units back to a major-unit decimal.
func MajorUnits(minor int64, currency string) decimal.Decimal {
	fraction := 0
	if cur := money.GetCurrency(currency); cur != nil {
		fraction = cur.Fraction
	}
	return decimal.New(minor, -int32(fraction))
}

// FormatAmount renders minor units for display, e.g. 1250 USD → "$12.50".
func FormatAmount(minor int64, currency string) string {
	if money.GetCurrency(currency) == nil {
		return fmt.Sprintf("%d %s", minor, currency)
	}
	return money.New(minor, currency).Display()
}
