package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/payments"
	"github.com/storefront/checkout/internal/repositories"
)

type repoErr struct {
	notFound    bool
	unavailable bool
}

func (e repoErr) Error() string {
	return fmt.Sprintf("repo error nf=%v un=%v", e.notFound, e.unavailable)
}
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return false }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

// memOrderRepo is an in-memory order store whose Mutate holds a per-store lock like a row lock.
type memOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	claims  map[string]string
	inserts int
	writes  int

	findErr   error
	mutateErr error
	// beforeMutate runs inside the lock ahead of the mutation, simulating a concurrent writer.
	beforeMutate func(order *domain.Order)
}

var _ repositories.OrderRepository = (*memOrderRepo)(nil)

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	r := &memOrderRepo{orders: map[string]domain.Order{}, claims: map[string]string{}}
	for _, o := range orders {
		r.orders[o.ID] = o
		r.claims[o.UserID+"|"+o.IdempotencyKey] = o.ID
	}
	return r
}

func (r *memOrderRepo) InsertOnce(_ context.Context, order domain.Order) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := order.UserID + "|" + order.IdempotencyKey
	if id, ok := r.claims[key]; ok {
		return r.orders[id], false, nil
	}
	r.claims[key] = order.ID
	r.orders[order.ID] = order
	r.inserts++
	return order, true, nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.Order{}, r.findErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoErr{notFound: true}
	}
	return o, nil
}

func (r *memOrderRepo) FindByIdempotencyKey(_ context.Context, userID, key string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.Order{}, r.findErr
	}
	id, ok := r.claims[userID+"|"+key]
	if !ok {
		return domain.Order{}, repoErr{notFound: true}
	}
	return r.orders[id], nil
}

func (r *memOrderRepo) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOrderRepo) ListAwaitingPayment(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.PaymentStatus == domain.PaymentStatusPending && o.PaymentIntentRef != "" && o.UpdatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return strings.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepo) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutateErr != nil {
		return domain.Order{}, r.mutateErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoErr{notFound: true}
	}
	if r.beforeMutate != nil {
		r.beforeMutate(&o)
		r.orders[orderID] = o
		r.beforeMutate = nil
	}
	working := o
	working.Items = slices.Clone(o.Items)
	changed, err := fn(&working)
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		r.orders[orderID] = working
		r.writes++
	}
	return working, nil
}

func (r *memOrderRepo) get(id string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
	err      error
}

func (s *stubCatalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Product{}, s.err
	}
	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, nil
}

type stubProcessors struct {
	mu       sync.Mutex
	createFn func(context.Context, domain.PaymentMethod, payments.IntentRequest) (payments.Intent, error)
	lookupFn func(context.Context, domain.PaymentMethod, string) (payments.Intent, error)
	creates  []payments.IntentRequest
	lookups  []string
}

func (s *stubProcessors) CreateIntent(ctx context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error) {
	s.mu.Lock()
	s.creates = append(s.creates, req)
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, method, req)
	}
	return payments.Intent{}, errors.New("not implemented")
}

func (s *stubProcessors) LookupIntent(ctx context.Context, method domain.PaymentMethod, ref string) (payments.Intent, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, ref)
	s.mu.Unlock()
	if s.lookupFn != nil {
		return s.lookupFn(ctx, method, ref)
	}
	return payments.Intent{}, errors.New("not implemented")
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *captureLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.events, event)
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
}

func int64Ptr(v int64) *int64 { return &v }
