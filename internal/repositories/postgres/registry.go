package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/repositories"
)

// Registry exposes Postgres-backed repositories sharing one connection pool.
type Registry struct {
	pool     *pgxpool.Pool
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Open connects to dsn, applies the schema, and builds the registry.
func Open(ctx context.Context, dsn string, extra ...repositories.DependencyCheck) (*Registry, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	reg, err := NewRegistry(pool, extra...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return reg, nil
}

// NewRegistry wraps an existing pool. Close releases the pool.
func NewRegistry(pool *pgxpool.Pool, extra ...repositories.DependencyCheck) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "postgres", Timeout: 2 * time.Second, Check: pool.Ping},
	}, extra...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{
		pool:     pool,
		orders:   NewOrderRepository(pool),
		products: NewProductRepository(pool),
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}
