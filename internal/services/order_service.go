package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/repositories"
)

const (
	orderEventCreated = "order.created"

	orderIDPrefix           = "ord_"
	maxIdempotencyKeyLength = 255
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Validator   CartValidator
	Shipping    ShippingPolicy
	Tax         TaxPolicy
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	validator CartValidator
	shipping  ShippingPolicy
	tax       TaxPolicy
	currency  string
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("order service: cart validator is required")
	}

	currency := deps.Currency
	if strings.TrimSpace(currency) == "" {
		currency = domain.DefaultCurrency
	}
	currency, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	if deps.Tax.RateBasisPoints < 0 || deps.Shipping.FlatCents < 0 {
		return nil, errors.New("order service: pricing policy must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		validator: deps.Validator,
		shipping:  deps.Shipping,
		tax:       deps.Tax,
		currency:  currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder validates and prices the cart server-side and stores the order exactly once per
// (user, idempotency key). Repeats return the stored order with Replayed set.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, ErrUnauthenticated
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	if len(key) > maxIdempotencyKeyLength {
		return CreateOrderResult{}, fmt.Errorf("%w: idempotency key exceeds %d characters", ErrInvalidInput, maxIdempotencyKeyLength)
	}

	existing, err := s.orders.FindByIdempotencyKey(ctx, userID, key)
	switch {
	case err == nil:
		s.logger(ctx, "order.create.replayed", map[string]any{
			"orderID": existing.ID,
			"userID":  userID,
		})
		return CreateOrderResult{Order: existing, Replayed: true}, nil
	case !isRepositoryNotFound(err):
		return CreateOrderResult{}, mapOrderRepositoryError(err)
	}

	method, err := domain.ParsePaymentMethod(string(cmd.PaymentMethod))
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	address := s.sanitizeAddress(cmd.ShippingAddress)
	if err := address.Validate(); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: shipping address: %v", ErrInvalidInput, err)
	}

	snapshot, err := s.validator.ValidateCart(ctx, userID, cmd.Lines)
	if err != nil {
		return CreateOrderResult{}, err
	}

	shipping := s.shipping.Quote(snapshot.ItemsPriceCents)
	tax, err := s.tax.Quote(snapshot.ItemsPriceCents)
	if err != nil {
		return CreateOrderResult{}, err
	}
	total, err := domain.AddCents(snapshot.ItemsPriceCents, shipping, tax)
	if err != nil {
		return CreateOrderResult{}, mapMoneyError(err)
	}

	now := s.now()
	order := Order{
		ID:                 s.nextOrderID(),
		UserID:             userID,
		IdempotencyKey:     key,
		Items:              snapshot.Items,
		ShippingAddress:    address,
		PaymentMethod:      method,
		Currency:           s.currency,
		ItemsPriceCents:    snapshot.ItemsPriceCents,
		ShippingPriceCents: shipping,
		TaxPriceCents:      tax,
		TotalPriceCents:    total,
		PaymentStatus:      domain.PaymentStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := order.CheckTotals(); err != nil {
		return CreateOrderResult{}, mapMoneyError(err)
	}

	stored, created, err := s.orders.InsertOnce(ctx, order)
	if err != nil {
		return CreateOrderResult{}, mapOrderRepositoryError(err)
	}
	if !created {
		s.logger(ctx, "order.create.replayed", map[string]any{
			"orderID": stored.ID,
			"userID":  userID,
			"race":    true,
		})
		return CreateOrderResult{Order: stored, Replayed: true}, nil
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderID":    stored.ID,
		"userID":     userID,
		"totalCents": stored.TotalPriceCents,
		"items":      len(stored.Items),
	})
	s.publishEvent(ctx, orderEvent(orderEventCreated, stored, now))
	return CreateOrderResult{Order: stored}, nil
}

// GetOrder returns the order when the requester owns it or holds an administrative override.
func (s *orderService) GetOrder(ctx context.Context, requesterID, orderID string, isAdmin bool) (Order, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return Order{}, ErrUnauthenticated
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !isAdmin && !order.OwnedBy(requesterID) {
		return Order{}, ErrNotAuthorized
	}
	return order, nil
}

// ListOrdersForUser returns the user's orders, newest first.
func (s *orderService) ListOrdersForUser(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	// stores already sort; keep the order stable regardless of backend
	slices.SortStableFunc(orders, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return orders, nil
}

const maxSanitizePasses = 4

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// plainText decodes entities before stripping markup and repeats until the value is stable, so encoded
// markup cannot survive as tags. Stray angle brackets left after the last pass are dropped.
func (s *orderService) plainText(v string) string {
	for range maxSanitizePasses {
		next := html.UnescapeString(s.sanitizer.Sanitize(html.UnescapeString(v)))
		if next == v {
			break
		}
		v = next
	}
	return angleBrackets.Replace(v)
}

func (s *orderService) sanitizeAddress(addr Address) Address {
	clean := func(v string) string {
		return strings.TrimSpace(s.plainText(v))
	}
	cleanPtr := func(v *string) *string {
		if v == nil {
			return nil
		}
		out := clean(*v)
		if out == "" {
			return nil
		}
		return &out
	}
	return Address{
		FullName:   clean(addr.FullName),
		Street:     clean(addr.Street),
		City:       clean(addr.City),
		State:      cleanPtr(addr.State),
		PostalCode: clean(addr.PostalCode),
		Country:    clean(addr.Country),
		Phone:      cleanPtr(addr.Phone),
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.PaymentStatus,
		})
	}
}

func orderEvent(eventType string, order Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentStatus: string(order.PaymentStatus),
		IntentRef:     order.PaymentIntentRef,
		TotalCents:    order.TotalPriceCents,
		Currency:      order.Currency,
		OccurredAt:    at,
	}
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
