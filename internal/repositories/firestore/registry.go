package firestore

import (
	"context"
	"time"

	pfirestore "github.com/storefront/checkout/internal/platform/firestore"
	"github.com/storefront/checkout/internal/repositories"
)

// Registry exposes Firestore-backed repositories that share one provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	products *ProductRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the Firestore repositories. extra checks are appended to the readiness report.
func NewRegistry(provider *pfirestore.Provider, extra ...repositories.DependencyCheck) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "firestore", Timeout: 2 * time.Second, Check: provider.Ping},
	}, extra...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, products: products, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
