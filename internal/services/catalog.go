package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefront/checkout/internal/repositories"
)

type repositoryCatalog struct {
	products repositories.ProductRepository
}

// NewRepositoryCatalog adapts a product repository to the ProductCatalog contract.
func NewRepositoryCatalog(products repositories.ProductRepository) (ProductCatalog, error) {
	if products == nil {
		return nil, errors.New("catalog: product repository is required")
	}
	return &repositoryCatalog{products: products}, nil
}

func (c *repositoryCatalog) GetProduct(ctx context.Context, productID string) (Product, error) {
	product, err := c.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return product, nil
}
