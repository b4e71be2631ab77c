package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/repositories"
)

type productRepository struct {
	db DBTX
}

var _ repositories.ProductRepository = (*productRepository)(nil)

// NewProductRepository returns a catalog repository bound to a pool or an open transaction.
func NewProductRepository(db DBTX) repositories.ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	var stock int32
	err := r.db.QueryRow(ctx, `
		SELECT id, name, image, price_cents, count_in_stock
		FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.Name, &p.Image, &p.PriceCents, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, notFound("products.get", productID)
		}
		return domain.Product{}, wrapError("products.get", fmt.Errorf("q.GetProduct: %w", err))
	}
	p.CountInStock = int(stock)
	return p, nil
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product upsert: id is required")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, name, image, price_cents, count_in_stock, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			price_cents = EXCLUDED.price_cents,
			count_in_stock = EXCLUDED.count_in_stock,
			updated_at = EXCLUDED.updated_at`,
		product.ID, product.Name, product.Image, product.PriceCents, int32(product.CountInStock))
	if err != nil {
		return wrapError("products.upsert", fmt.Errorf("q.UpsertProduct: %w", err))
	}
	return nil
}
