package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PaymentMethod enumerates the payment options a shopper can select at checkout.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodManual PaymentMethod = "manual"
)

// ParsePaymentMethod normalises and validates a payment method identifier.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	switch method {
	case PaymentMethodCard, PaymentMethodStripe, PaymentMethodPayPal, PaymentMethodCOD, PaymentMethodManual:
		return method, nil
	default:
		return "", fmt.Errorf("domain: unsupported payment method %q", value)
	}
}

// PaymentStatus is the lifecycle state of the payment attached to an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no authoritative outcome has been recorded yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSucceeded indicates the processor confirmed the charge for the full order total.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed indicates the processor reported a failed charge attempt.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCanceled indicates the payment attempt was canceled at the processor.
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// IsTerminal reports whether the status has no forward transitions.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is a known value.
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s.IsTerminal()
}

// Product is the catalog projection consumed at order creation time.
type Product struct {
	ID           string
	Name         string
	Image        string
	PriceCents   int64
	CountInStock int
}

// MaxCartQuantity bounds the merged quantity of a single product in one order.
const MaxCartQuantity = 1_000_000

// CartLine is a client-submitted cart entry. ClientPriceCents is advisory and never persisted.
type CartLine struct {
	ProductID        string
	Quantity         int
	ClientPriceCents *int64
}

// OrderItem is the point-in-time snapshot of a product captured when the order is created.
type OrderItem struct {
	ProductID      string
	Name           string
	Image          string
	Quantity       int
	UnitPriceCents int64
}

// LineTotalCents returns unit price times quantity.
func (i OrderItem) LineTotalCents() (int64, error) {
	return MulCents(i.UnitPriceCents, i.Quantity)
}

// Address is the shipping destination captured on the order.
type Address struct {
	FullName   string
	Street     string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// MissingFields lists the required address fields that are blank.
func (a Address) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("full_name", a.FullName)
	check("street", a.Street)
	check("city", a.City)
	check("postal_code", a.PostalCode)
	check("country", a.Country)
	return missing
}

// ErrIncompleteAddress indicates required address fields are missing.
var ErrIncompleteAddress = errors.New("domain: incomplete address")

// Validate checks that every required address field is present.
func (a Address) Validate() error {
	if missing := a.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteAddress, strings.Join(missing, ", "))
	}
	return nil
}

// ErrTotalsMismatch indicates an order whose total differs from the sum of its components.
var ErrTotalsMismatch = errors.New("domain: order totals do not reconcile")

// Order is the root aggregate persisted for a checkout attempt.
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string

	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Currency        string

	ItemsPriceCents    int64
	ShippingPriceCents int64
	TaxPriceCents      int64
	TotalPriceCents    int64

	PaymentIntentRef  string
	PaymentStatus     PaymentStatus
	PaymentAttempts   int
	ClientConfirmedAt *time.Time
	PaidAt            *time.Time

	IsDelivered bool
	DeliveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaid is derived from the payment status so that a paid order can never carry a failed status.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusSucceeded
}

// OwnedBy reports whether the given user owns the order.
func (o Order) OwnedBy(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && o.UserID == userID
}

// CheckTotals verifies that the persisted money fields are non-negative and reconcile exactly.
func (o Order) CheckTotals() error {
	var items int64
	for _, item := range o.Items {
		line, err := item.LineTotalCents()
		if err != nil {
			return err
		}
		if items, err = AddCents(items, line); err != nil {
			return err
		}
	}
	if items != o.ItemsPriceCents {
		return fmt.Errorf("%w: items %d != %d", ErrTotalsMismatch, o.ItemsPriceCents, items)
	}
	total, err := AddCents(o.ItemsPriceCents, o.ShippingPriceCents, o.TaxPriceCents)
	if err != nil {
		return err
	}
	if total != o.TotalPriceCents {
		return fmt.Errorf("%w: total %d != %d", ErrTotalsMismatch, o.TotalPriceCents, total)
	}
	return nil
}
