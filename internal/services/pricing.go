package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/domain"
)

const basisPointsPerUnit = 10_000

// ShippingPolicy prices shipping server-side. A zero flat fee means free shipping.
type ShippingPolicy struct {
	FlatCents          int64
	FreeThresholdCents int64
}

// Quote returns the shipping price for an items subtotal.
func (p ShippingPolicy) Quote(itemsCents int64) int64 {
	if p.FlatCents <= 0 {
		return 0
	}
	if p.FreeThresholdCents > 0 && itemsCents >= p.FreeThresholdCents {
		return 0
	}
	return p.FlatCents
}

// TaxPolicy applies a flat rate expressed in basis points to the items subtotal.
type TaxPolicy struct {
	RateBasisPoints int64
}

// Quote returns the tax for an items subtotal rounded half-up to the cent.
func (p TaxPolicy) Quote(itemsCents int64) (int64, error) {
	if itemsCents < 0 || p.RateBasisPoints < 0 {
		return 0, fmt.Errorf("%w: negative tax input", ErrInvalidInput)
	}
	if p.RateBasisPoints == 0 || itemsCents == 0 {
		return 0, nil
	}
	tax := decimal.NewFromInt(itemsCents).
		Mul(decimal.NewFromInt(p.RateBasisPoints)).
		Div(decimal.NewFromInt(basisPointsPerUnit)).
		Round(0)
	if tax.GreaterThan(decimal.NewFromInt(domain.MaxAmountCents)) {
		return 0, fmt.Errorf("%w: tax %s", ErrOverflow, tax.String())
	}
	return tax.IntPart(), nil
}
