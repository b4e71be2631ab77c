package domain

import (
	"errors"
	"math"
	"testing"
)

func TestMulCents(t *testing.T) {
	tests := []struct {
		name    string
		unit    int64
		qty     int
		want    int64
		wantErr error
	}{
		{name: "simple", unit: 2500, qty: 2, want: 5000},
		{name: "zero quantity", unit: 2500, qty: 0, want: 0},
		{name: "at ceiling", unit: MaxAmountCents, qty: 1, want: MaxAmountCents},
		{name: "above ceiling", unit: MaxAmountCents/2 + 1, qty: 2, wantErr: ErrAmountOverflow},
		{name: "int64 overflow", unit: math.MaxInt64 / 2, qty: 3, wantErr: ErrAmountOverflow},
		{name: "negative unit", unit: -1, qty: 1, wantErr: ErrNegativeAmount},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MulCents(tc.unit, tc.qty)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestAddCents(t *testing.T) {
	got, err := AddCents(5000, 0, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5500 {
		t.Fatalf("expected 5500, got %d", got)
	}

	if _, err := AddCents(MaxAmountCents, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := AddCents(10, -1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative amount error, got %v", err)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" usd ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "USD" {
		t.Fatalf("expected USD, got %s", got)
	}

	for _, code := range []string{"", "XXXX", "ZZZ"} {
		if _, err := NormalizeCurrency(code); !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("expected invalid currency for %q, got %v", code, err)
		}
	}
}
