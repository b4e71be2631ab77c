package domain

import (
	"errors"
	"testing"
)

func sampleOrder() Order {
	return Order{
		ID:     "ord_1",
		UserID: "user-1",
		Items: []OrderItem{
			{ProductID: "prod-a", Name: "A", Quantity: 2, UnitPriceCents: 2500},
		},
		ItemsPriceCents:    5000,
		ShippingPriceCents: 0,
		TaxPriceCents:      500,
		TotalPriceCents:    5500,
		PaymentStatus:      PaymentStatusPending,
	}
}

func TestOrderCheckTotals(t *testing.T) {
	order := sampleOrder()
	if err := order.CheckTotals(); err != nil {
		t.Fatalf("expected totals to reconcile: %v", err)
	}

	order.TotalPriceCents = 5400
	if err := order.CheckTotals(); !errors.Is(err, ErrTotalsMismatch) {
		t.Fatalf("expected totals mismatch, got %v", err)
	}

	order = sampleOrder()
	order.ItemsPriceCents = 4000
	order.TotalPriceCents = 4500
	if err := order.CheckTotals(); !errors.Is(err, ErrTotalsMismatch) {
		t.Fatalf("expected items mismatch, got %v", err)
	}
}

func TestOrderIsPaidDerivedFromStatus(t *testing.T) {
	order := sampleOrder()
	for _, status := range []PaymentStatus{PaymentStatusPending, PaymentStatusFailed, PaymentStatusCanceled} {
		order.PaymentStatus = status
		if order.IsPaid() {
			t.Fatalf("status %s must not report paid", status)
		}
	}
	order.PaymentStatus = PaymentStatusSucceeded
	if !order.IsPaid() {
		t.Fatalf("succeeded order must report paid")
	}
}

func TestOrderOwnedBy(t *testing.T) {
	order := sampleOrder()
	if !order.OwnedBy("user-1") {
		t.Fatalf("expected owner match")
	}
	if order.OwnedBy("user-2") || order.OwnedBy("  ") {
		t.Fatalf("expected owner mismatch")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := ParsePaymentMethod(" Stripe ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != PaymentMethodStripe {
		t.Fatalf("expected stripe, got %s", method)
	}
	if _, err := ParsePaymentMethod("bitcoin"); err == nil {
		t.Fatalf("expected error for unsupported method")
	}
}

func TestAddressMissingFields(t *testing.T) {
	addr := Address{FullName: "Ada", Street: "1 Main", City: "Springfield", Country: "US"}
	missing := addr.MissingFields()
	if len(missing) != 1 || missing[0] != "postal_code" {
		t.Fatalf("expected postal_code missing, got %v", missing)
	}
	if err := addr.Validate(); !errors.Is(err, ErrIncompleteAddress) {
		t.Fatalf("expected incomplete address error, got %v", err)
	}
	addr.PostalCode = "94000"
	if err := addr.Validate(); err != nil {
		t.Fatalf("expected complete address, got %v", err)
	}
}
