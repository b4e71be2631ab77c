package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/storefront/checkout/internal/domain"
)

type cartValidator struct {
	catalog ProductCatalog
}

// NewCartValidator constructs a CartValidator backed by catalog.
func NewCartValidator(catalog ProductCatalog) (CartValidator, error) {
	if catalog == nil {
		return nil, errors.New("cart validator: product catalog is required")
	}
	return &cartValidator{catalog: catalog}, nil
}

// ValidateCart resolves every line against the catalog at its current price. Client prices are ignored,
// duplicate lines are merged, and stock shortfalls are rejected rather than clamped.
func (v *cartValidator) ValidateCart(ctx context.Context, userID string, lines []CartLine) (CartSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return CartSnapshot{}, ErrUnauthenticated
	}
	if len(lines) == 0 {
		return CartSnapshot{}, ErrEmptyCart
	}

	merged, err := mergeCartLines(lines)
	if err != nil {
		return CartSnapshot{}, err
	}

	items := make([]OrderItem, 0, len(merged))
	var total int64
	for _, line := range merged {
		product, err := v.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			switch {
			case errors.Is(err, ErrProductNotFound):
				return CartSnapshot{}, fmt.Errorf("%w: %s", ErrInvalidReference, line.ProductID)
			case errors.Is(err, ErrCatalogUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return CartSnapshot{}, err
			default:
				return CartSnapshot{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
			}
		}
		if product.PriceCents < 0 {
			return CartSnapshot{}, fmt.Errorf("%w: product %s has a negative price", ErrInvalidReference, line.ProductID)
		}
		if line.Quantity > product.CountInStock {
			return CartSnapshot{}, fmt.Errorf("%w: product %s requested %d, available %d",
				ErrInsufficientStock, line.ProductID, line.Quantity, max(product.CountInStock, 0))
		}

		item := OrderItem{
			ProductID:      line.ProductID,
			Name:           product.Name,
			Image:          product.Image,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
		}
		lineTotal, err := item.LineTotalCents()
		if err != nil {
			return CartSnapshot{}, mapMoneyError(err)
		}
		if total, err = domain.AddCents(total, lineTotal); err != nil {
			return CartSnapshot{}, mapMoneyError(err)
		}
		items = append(items, item)
	}

	return CartSnapshot{Items: items, ItemsPriceCents: total}, nil
}

// mergeCartLines validates quantities and sums duplicates, keeping first-seen order.
func mergeCartLines(lines []CartLine) ([]CartLine, error) {
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidReference)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %s quantity %d", ErrInvalidQuantity, strings.TrimSpace(line.ProductID), line.Quantity)
		}
	}

	order := lo.Uniq(lo.Map(lines, func(line CartLine, _ int) string { return strings.TrimSpace(line.ProductID) }))
	quantities := make(map[string]int, len(order))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if quantities[id] > domain.MaxCartQuantity-line.Quantity {
			return nil, fmt.Errorf("%w: product %s quantity too large", ErrInvalidQuantity, id)
		}
		quantities[id] += line.Quantity
	}

	return lo.Map(order, func(id string, _ int) CartLine {
		return CartLine{ProductID: id, Quantity: quantities[id]}
	}), nil
}
