package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/services"
)

const createOrderBody = `{
	"items": [{"product_id": "prod_a", "quantity": 2, "price_cents": 1}],
	"shipping_address": {"full_name": "Ada Lovelace", "street": "1 Analytical Way", "city": "London", "postal_code": "N1", "country": "GB"},
	"payment_method": "card",
	"total_price_cents": 1
}`

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			return services.CreateOrderResult{Order: sampleOrder()}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	rr := serve(t, h.Routes, http.MethodPost, "/orders", createOrderBody, &auth.Identity{UID: "user-1"}, "Idempotency-Key", "checkout-1")

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Idempotent-Replay") != "" {
		t.Fatalf("expected no replay header on first create")
	}
	if captured.UserID != "user-1" || captured.IdempotencyKey != "checkout-1" {
		t.Fatalf("unexpected command identity %+v", captured)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ProductID != "prod_a" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %+v", captured.Lines)
	}
	if captured.Lines[0].ClientPriceCents != nil {
		t.Fatalf("client price must not cross the HTTP boundary")
	}
	if captured.ShippingAddress.City != "London" || captured.PaymentMethod != "card" {
		t.Fatalf("unexpected address or method %+v", captured)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.TotalPriceCents != 5400 || body.Order.Items[0].UnitPriceCents != 2000 {
		t.Fatalf("expected server priced totals, got %+v", body.Order)
	}
	if body.Order.PaymentStatus != "pending" || body.Order.IsPaid {
		t.Fatalf("expected pending unpaid order, got %+v", body.Order)
	}
}

func TestOrderHandlersCreateOrderReplay(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			if cmd.IdempotencyKey != "body-key" {
				return services.CreateOrderResult{}, fmt.Errorf("unexpected key %q", cmd.IdempotencyKey)
			}
			return services.CreateOrderResult{Order: sampleOrder(), Replayed: true}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)
	body := `{"idempotency_key": "body-key", "items": [{"product_id": "prod_a", "quantity": 1}], "payment_method": "card"}`

	rr := serve(t, h.Routes, http.MethodPost, "/orders", body, &auth.Identity{UID: "user-1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestOrderHandlersCreateOrderRejectsConflictingKeys(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			t.Fatal("service must not be called")
			return services.CreateOrderResult{}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)
	body := `{"idempotency_key": "body-key", "items": []}`

	rr := serve(t, h.Routes, http.MethodPost, "/orders", body, &auth.Identity{UID: "user-1"}, "Idempotency-Key", "header-key")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter bool
	}{
		{"empty cart", services.ErrEmptyCart, http.StatusBadRequest, "empty_cart", false},
		{"bad quantity", fmt.Errorf("%w: line 1", services.ErrInvalidQuantity), http.StatusBadRequest, "invalid_quantity", false},
		{"unknown product", fmt.Errorf("%w: prod_x", services.ErrInvalidReference), http.StatusUnprocessableEntity, "invalid_product_reference", false},
		{"stock", fmt.Errorf("%w: prod_a", services.ErrInsufficientStock), http.StatusConflict, "insufficient_stock", false},
		{"overflow", services.ErrOverflow, http.StatusUnprocessableEntity, "amount_overflow", false},
		{"catalog down", fmt.Errorf("%w: timeout", services.ErrCatalogUnavailable), http.StatusServiceUnavailable, "catalog_unavailable", true},
		{"store down", services.ErrOrderStoreUnavailable, http.StatusServiceUnavailable, "order_store_unavailable", true},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
					return services.CreateOrderResult{}, tc.err
				},
			}
			h := NewOrderHandlers(nil, svc)

			rr := serve(t, h.Routes, http.MethodPost, "/orders", createOrderBody, &auth.Identity{UID: "user-1"}, "Idempotency-Key", "k")

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, body["error"])
			}
			if got := rr.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Fatalf("expected Retry-After present=%v, got %v", tc.retryAfter, got)
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderService{})

	rr := serve(t, h.Routes, http.MethodGet, "/orders/mine", "", nil)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListMine(t *testing.T) {
	older := sampleOrder()
	newer := sampleOrder()
	newer.ID = "ord_2"
	newer.CreatedAt = older.CreatedAt.Add(1)
	svc := &stubOrderService{
		listFn: func(_ context.Context, userID string) ([]services.Order, error) {
			if userID != "user-1" {
				return nil, fmt.Errorf("unexpected user %s", userID)
			}
			return []services.Order{newer, older}, nil
		},
	}
	h := NewOrderHandlers(nil, svc)

	rr := serve(t, h.Routes, http.MethodGet, "/orders/mine", "", &auth.Identity{UID: "user-1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].ID != "ord_2" || body.Items[1].ID != "ord_1" {
		t.Fatalf("expected service ordering preserved, got %+v", body.Items)
	}
	if body.Items[0].TotalPriceCents != 5400 || body.Items[0].ItemCount != 1 {
		t.Fatalf("unexpected summary %+v", body.Items[0])
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	cases := []struct {
		name      string
		identity  *auth.Identity
		wantAdmin bool
	}{
		{"owner", &auth.Identity{UID: "user-1"}, false},
		{"staff override", &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}, true},
		{"admin override", &auth.Identity{UID: "ops-2", Roles: []string{auth.RoleAdmin}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotAdmin bool
			svc := &stubOrderService{
				getFn: func(_ context.Context, requesterID, orderID string, isAdmin bool) (services.Order, error) {
					if requesterID != tc.identity.UID || orderID != "ord_1" {
						return services.Order{}, fmt.Errorf("unexpected args %s %s", requesterID, orderID)
					}
					gotAdmin = isAdmin
					return sampleOrder(), nil
				},
			}
			h := NewOrderHandlers(nil, svc)

			rr := serve(t, h.Routes, http.MethodGet, "/orders/ord_1", "", tc.identity)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			if gotAdmin != tc.wantAdmin {
				t.Fatalf("expected isAdmin=%v, got %v", tc.wantAdmin, gotAdmin)
			}
		})
	}
}

func TestOrderHandlersGetOrderErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", services.ErrOrderNotFound, http.StatusNotFound},
		{"not owner", services.ErrNotAuthorized, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				getFn: func(context.Context, string, string, bool) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			h := NewOrderHandlers(nil, svc)

			rr := serve(t, h.Routes, http.MethodGet, "/orders/ord_9", "", &auth.Identity{UID: "user-2"})

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}
