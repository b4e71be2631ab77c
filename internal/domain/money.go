package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// MaxAmountCents bounds any single line total or running sum in minor units.
const MaxAmountCents int64 = 1_000_000_000_000

// DefaultCurrency is used when no checkout currency is configured.
const DefaultCurrency = "USD"

var (
	// ErrAmountOverflow signals that a money computation exceeded MaxAmountCents.
	ErrAmountOverflow = errors.New("domain: amount exceeds safety ceiling")
	// ErrNegativeAmount signals a negative minor-unit amount where only non-negative values are valid.
	ErrNegativeAmount = errors.New("domain: amount must not be negative")
	// ErrInvalidCurrency signals an unknown ISO 4217 currency code.
	ErrInvalidCurrency = errors.New("domain: invalid currency")
)

// MulCents multiplies a unit price by a quantity, refusing results above MaxAmountCents.
func MulCents(unitCents int64, qty int) (int64, error) {
	if unitCents < 0 {
		return 0, ErrNegativeAmount
	}
	if qty < 0 {
		return 0, fmt.Errorf("domain: negative quantity %d", qty)
	}
	if unitCents == 0 || qty == 0 {
		return 0, nil
	}
	if unitCents > math.MaxInt64/int64(qty) {
		return 0, ErrAmountOverflow
	}
	product := unitCents * int64(qty)
	if product > MaxAmountCents {
		return 0, ErrAmountOverflow
	}
	return product, nil
}

// AddCents sums non-negative amounts, refusing results above MaxAmountCents.
func AddCents(amounts ...int64) (int64, error) {
	var total int64
	for _, amount := range amounts {
		if amount < 0 {
			return 0, ErrNegativeAmount
		}
		if amount > MaxAmountCents || total > MaxAmountCents-amount {
			return 0, ErrAmountOverflow
		}
		total += amount
	}
	return total, nil
}

// NormalizeCurrency validates an ISO 4217 code and returns its canonical upper-case form.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrInvalidCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}
