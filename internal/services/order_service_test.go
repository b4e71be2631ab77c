package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storefront/checkout/internal/domain"
)

func validAddress() Address {
	return Address{
		FullName:   "Ada Lovelace",
		Street:     "12 Analytical Way",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "GB",
	}
}

type orderServiceFixture struct {
	svc     OrderService
	repo    *memOrderRepo
	catalog *stubCatalog
	events  *captureOrderEvents
	logs    *captureLogger
}

func newOrderServiceFixture(t *testing.T, repo *memOrderRepo) orderServiceFixture {
	t.Helper()
	if repo == nil {
		repo = newMemOrderRepo()
	}
	catalog := newTestCatalog()
	validator, err := NewCartValidator(catalog)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	events := &captureOrderEvents{}
	logs := &captureLogger{}
	var seq int
	var mu sync.Mutex
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    repo,
		Validator: validator,
		Tax:       TaxPolicy{RateBasisPoints: 1000},
		Clock:     fixedClock(),
		IDGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("%02d", seq)
		},
		Events: events,
		Logger: logs.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return orderServiceFixture{svc: svc, repo: repo, catalog: catalog, events: events, logs: logs}
}

func TestOrderServiceCreateOrderPricesServerSide(t *testing.T) {
	f := newOrderServiceFixture(t, nil)

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 2, ClientPriceCents: int64Ptr(1)}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order := res.Order
	if res.Replayed {
		t.Fatalf("expected new order")
	}
	if order.ID != "ord_01" {
		t.Fatalf("unexpected id %q", order.ID)
	}
	if order.ItemsPriceCents != 5000 || order.TaxPriceCents != 500 || order.ShippingPriceCents != 0 || order.TotalPriceCents != 5500 {
		t.Fatalf("unexpected totals: items=%d tax=%d ship=%d total=%d",
			order.ItemsPriceCents, order.TaxPriceCents, order.ShippingPriceCents, order.TotalPriceCents)
	}
	if order.Items[0].UnitPriceCents != 2500 {
		t.Fatalf("expected authoritative unit price, got %d", order.Items[0].UnitPriceCents)
	}
	if order.PaymentStatus != domain.PaymentStatusPending || order.IsPaid() || order.IsDelivered {
		t.Fatalf("unexpected initial state: %+v", order)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected default currency, got %q", order.Currency)
	}
	if !order.CreatedAt.Equal(fixedClock()()) || !order.UpdatedAt.Equal(order.CreatedAt) {
		t.Fatalf("unexpected timestamps: %v %v", order.CreatedAt, order.UpdatedAt)
	}
	if err := f.repo.get(order.ID).CheckTotals(); err != nil {
		t.Fatalf("persisted totals do not reconcile: %v", err)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != "order.created" {
		t.Fatalf("expected order.created event, got %v", got)
	}
}

func TestOrderServiceCreateOrderIsIdempotent(t *testing.T) {
	f := newOrderServiceFixture(t, nil)
	cmd := CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	}

	first, err := f.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// stock moving under a replay must not matter
	f.catalog.products["prod_a"] = domain.Product{ID: "prod_a", Name: "Airpods", PriceCents: 9999, CountInStock: 0}
	second, err := f.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID || second.Order.TotalPriceCents != first.Order.TotalPriceCents {
		t.Fatalf("expected replay of %s, got %+v", first.Order.ID, second)
	}
	if f.repo.inserts != 1 {
		t.Fatalf("expected exactly one persisted order, got %d", f.repo.inserts)
	}
	if len(f.events.types()) != 1 {
		t.Fatalf("replay must not emit events, got %v", f.events.types())
	}
	if !f.logs.has("order.create.replayed") {
		t.Fatalf("expected replay log")
	}
}

func TestOrderServiceCreateOrderConcurrentSameKey(t *testing.T) {
	f := newOrderServiceFixture(t, nil)
	cmd := CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-race",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	}

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), cmd)
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids[i] = res.Order.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single order id, got %v", ids)
		}
	}
	if f.repo.inserts != 1 {
		t.Fatalf("expected one insert, got %d", f.repo.inserts)
	}
}

func TestOrderServiceCreateOrderRejectsInvalidInput(t *testing.T) {
	longKey := make([]byte, maxIdempotencyKeyLength+1)
	for i := range longKey {
		longKey[i] = 'k'
	}
	base := CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	}

	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{name: "missing user", mutate: func(c *CreateOrderCommand) { c.UserID = "" }, want: ErrUnauthenticated},
		{name: "missing key", mutate: func(c *CreateOrderCommand) { c.IdempotencyKey = " " }, want: ErrInvalidInput},
		{name: "key too long", mutate: func(c *CreateOrderCommand) { c.IdempotencyKey = string(longKey) }, want: ErrInvalidInput},
		{name: "unknown method", mutate: func(c *CreateOrderCommand) { c.PaymentMethod = "bitcoin" }, want: ErrInvalidInput},
		{name: "incomplete address", mutate: func(c *CreateOrderCommand) { c.ShippingAddress.City = "" }, want: ErrInvalidInput},
		{name: "markup only address", mutate: func(c *CreateOrderCommand) { c.ShippingAddress.Street = "<b></b>" }, want: ErrInvalidInput},
		{name: "empty cart", mutate: func(c *CreateOrderCommand) { c.Lines = nil }, want: ErrEmptyCart},
		{name: "insufficient stock", mutate: func(c *CreateOrderCommand) { c.Lines = []CartLine{{ProductID: "prod_b", Quantity: 5}} }, want: ErrInsufficientStock},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderServiceFixture(t, nil)
			cmd := base
			tc.mutate(&cmd)
			_, err := f.svc.CreateOrder(context.Background(), cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.repo.inserts != 0 {
				t.Fatalf("no order may be persisted on failure")
			}
		})
	}
}

func TestOrderServiceCreateOrderSanitizesAddress(t *testing.T) {
	f := newOrderServiceFixture(t, nil)
	addr := validAddress()
	addr.FullName = "  <script>alert(1)</script>Ada  "
	addr.Street = "1 O'Brien & Sons Rd"
	phone := " "
	addr.Phone = &phone

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: addr,
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Order.ShippingAddress.FullName != "Ada" {
		t.Fatalf("expected sanitized name, got %q", res.Order.ShippingAddress.FullName)
	}
	if res.Order.ShippingAddress.Street != "1 O'Brien & Sons Rd" {
		t.Fatalf("plain text must survive sanitation, got %q", res.Order.ShippingAddress.Street)
	}
	if res.Order.ShippingAddress.Phone != nil {
		t.Fatalf("blank phone should be dropped")
	}
}

func TestOrderServiceCreateOrderStripsEncodedMarkup(t *testing.T) {
	tests := []struct {
		name   string
		street string
		want   string
	}{
		{name: "entity encoded script", street: "&lt;script&gt;alert(1)&lt;/script&gt;12 Main St", want: "12 Main St"},
		{name: "double encoded tag", street: "&amp;lt;b&amp;gt;12 Main St&amp;lt;/b&amp;gt;", want: "12 Main St"},
		{name: "numeric entities", street: "&#60;img src=x onerror=alert(1)&#62;12 Main St", want: "12 Main St"},
		{name: "encoded plain text is decoded", street: "12 O&#39;Brien &amp; Sons Rd", want: "12 O'Brien & Sons Rd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderServiceFixture(t, nil)
			addr := validAddress()
			addr.Street = tc.street

			res, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
				UserID:          "user-1",
				IdempotencyKey:  "key-1",
				Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
				ShippingAddress: addr,
				PaymentMethod:   domain.PaymentMethodCOD,
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			got := res.Order.ShippingAddress.Street
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if strings.ContainsAny(got, "<>") {
				t.Fatalf("markup survived sanitation: %q", got)
			}
		})
	}
}

func TestOrderServiceCreateOrderStoreUnavailable(t *testing.T) {
	repo := newMemOrderRepo()
	repo.findErr = repoErr{unavailable: true}
	f := newOrderServiceFixture(t, repo)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	})
	if !errors.Is(err, ErrOrderStoreUnavailable) || !IsRetryable(err) {
		t.Fatalf("expected retryable store error, got %v", err)
	}
}

func TestOrderServiceEventPublishFailureDoesNotFailCreate(t *testing.T) {
	f := newOrderServiceFixture(t, nil)
	f.events.err = errors.New("pubsub down")

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Lines:           []CartLine{{ProductID: "prod_a", Quantity: 1}},
		ShippingAddress: validAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("create should succeed: %v", err)
	}
	if !f.logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestOrderServiceGetOrder(t *testing.T) {
	order := domain.Order{ID: "ord_1", UserID: "owner", IdempotencyKey: "k"}
	f := newOrderServiceFixture(t, newMemOrderRepo(order))

	if _, err := f.svc.GetOrder(context.Background(), "owner", "ord_1", false); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "intruder", "ord_1", false); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "staff-1", "ord_1", true); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "owner", "ord_missing", false); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "", "ord_1", false); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestOrderServiceListOrdersForUserNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		domain.Order{ID: "ord_a", UserID: "user-1", IdempotencyKey: "1", CreatedAt: base},
		domain.Order{ID: "ord_c", UserID: "user-1", IdempotencyKey: "3", CreatedAt: base.Add(time.Hour)},
		domain.Order{ID: "ord_b", UserID: "user-1", IdempotencyKey: "2", CreatedAt: base.Add(time.Hour)},
		domain.Order{ID: "ord_z", UserID: "user-2", IdempotencyKey: "1", CreatedAt: base.Add(2 * time.Hour)},
	)
	f := newOrderServiceFixture(t, repo)

	orders, err := f.svc.ListOrdersForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	want := []string{"ord_c", "ord_b", "ord_a"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
}
