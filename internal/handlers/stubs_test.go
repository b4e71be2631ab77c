package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn    func(ctx context.Context, requesterID, orderID string, isAdmin bool) (services.Order, error)
	listFn   func(context.Context, string) ([]services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, requesterID, orderID string, isAdmin bool) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, requesterID, orderID, isAdmin)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrdersForUser(ctx context.Context, userID string) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, nil
}

type stubPaymentService struct {
	beginFn     func(context.Context, services.BeginPaymentCommand) (services.PaymentAttempt, error)
	confirmFn   func(context.Context, services.ClientConfirmationCommand) (services.ClientConfirmationResult, error)
	reconcileFn func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error)
	pendingFn   func(context.Context, services.ReconcilePendingCommand) (services.ReconcilePendingResult, error)
}

func (s *stubPaymentService) BeginPaymentAttempt(ctx context.Context, cmd services.BeginPaymentCommand) (services.PaymentAttempt, error) {
	if s.beginFn != nil {
		return s.beginFn(ctx, cmd)
	}
	return services.PaymentAttempt{}, errors.New("not implemented")
}

func (s *stubPaymentService) RecordClientConfirmation(ctx context.Context, cmd services.ClientConfirmationCommand) (services.ClientConfirmationResult, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.ClientConfirmationResult{}, errors.New("not implemented")
}

func (s *stubPaymentService) ReconcileWithProcessor(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errors.New("not implemented")
}

func (s *stubPaymentService) ReconcilePending(ctx context.Context, cmd services.ReconcilePendingCommand) (services.ReconcilePendingResult, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, cmd)
	}
	return services.ReconcilePendingResult{}, errors.New("not implemented")
}

var (
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
)

// serve routes req through a fresh chi router so URL params resolve as in production.
func serve(t *testing.T, routes func(chi.Router), method, path, body string, identity *auth.Identity, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	router := chi.NewRouter()
	router.Route("/orders", routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func sampleOrder() services.Order {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return services.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Items: []services.OrderItem{
			{ProductID: "prod_a", Name: "Mug", Image: "/img/mug.png", Quantity: 2, UnitPriceCents: 2000},
		},
		ShippingAddress: services.Address{
			FullName: "Ada Lovelace", Street: "1 Analytical Way", City: "London", PostalCode: "N1", Country: "GB",
		},
		PaymentMethod:      domain.PaymentMethodCard,
		Currency:           "USD",
		ItemsPriceCents:    4000,
		ShippingPriceCents: 1000,
		TaxPriceCents:      400,
		TotalPriceCents:    5400,
		PaymentStatus:      domain.PaymentStatusPending,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}
