package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/storefront/checkout/internal/domain"
	pfirestore "github.com/storefront/checkout/internal/platform/firestore"
	"github.com/storefront/checkout/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog products from Firestore.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
	now      func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		now:      time.Now,
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product upsert: id is required")
	}
	return r.products.Set(ctx, id, productDocument{
		Name:         product.Name,
		Image:        product.Image,
		PriceCents:   product.PriceCents,
		CountInStock: product.CountInStock,
		UpdatedAt:    r.now().UTC(),
	})
}

type productDocument struct {
	Name         string    `firestore:"name"`
	Image        string    `firestore:"image,omitempty"`
	PriceCents   int64     `firestore:"priceCents"`
	CountInStock int       `firestore:"countInStock"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         d.Name,
		Image:        d.Image,
		PriceCents:   d.PriceCents,
		CountInStock: d.CountInStock,
	}
}
