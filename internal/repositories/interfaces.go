package repositories

import (
	"context"
	"time"

	"github.com/storefront/checkout/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits an order loaded under the per-order lock. Returning changed=false skips the write.
// Implementations may invoke the mutation more than once when the underlying transaction retries.
type OrderMutation func(order *domain.Order) (changed bool, err error)

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// InsertOnce stores order unless (UserID, IdempotencyKey) has already been claimed, in which case
	// the previously stored order is returned with created=false. The claim is enforced atomically by storage.
	InsertOnce(ctx context.Context, order domain.Order) (stored domain.Order, created bool, err error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIdempotencyKey returns the order previously created for (userID, key).
	FindByIdempotencyKey(ctx context.Context, userID, key string) (domain.Order, error)
	// ListByUser returns orders owned by userID ordered by CreatedAt descending.
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// Mutate applies fn to the order under exclusive access and persists the result atomically.
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
	// ListAwaitingPayment returns pending orders with an intent that were last updated before cutoff.
	ListAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// ProductRepository reads catalog products and accepts seed writes.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}
