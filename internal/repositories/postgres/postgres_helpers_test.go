package postgres_test

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/storefront/checkout/internal/domain"
)

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("tcpostgres.Run: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return container, "", fmt.Errorf("container.ConnectionString: %w", err)
	}

	return container, connStr, nil
}

func randomOrder() domain.Order {
	var items []domain.OrderItem
	var itemsTotal int64
	for i := 0; i < gofakeit.Number(1, 4); i++ {
		item := randomOrderItem()
		itemsTotal += item.UnitPriceCents * int64(item.Quantity)
		items = append(items, item)
	}

	shipping := int64(gofakeit.Number(0, 2000))
	tax := itemsTotal / 10
	state := gofakeit.StateAbr()
	created := gofakeit.DateRange(
		gofakeit.PastDate().AddDate(-1, 0, 0),
		gofakeit.PastDate(),
	).UTC().Truncate(1000)

	return domain.Order{
		ID:             "ord_" + gofakeit.UUID(),
		UserID:         gofakeit.UUID(),
		IdempotencyKey: gofakeit.UUID(),
		Items:          items,
		ShippingAddress: domain.Address{
			FullName:   gofakeit.Name(),
			Street:     gofakeit.Street(),
			City:       gofakeit.City(),
			State:      &state,
			PostalCode: gofakeit.Zip(),
			Country:    "US",
		},
		PaymentMethod:      domain.PaymentMethodCard,
		Currency:           "USD",
		ItemsPriceCents:    itemsTotal,
		ShippingPriceCents: shipping,
		TaxPriceCents:      tax,
		TotalPriceCents:    itemsTotal + shipping + tax,
		PaymentStatus:      domain.PaymentStatusPending,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

func randomOrderItem() domain.OrderItem {
	return domain.OrderItem{
		ProductID:      "prod_" + gofakeit.UUID(),
		Name:           gofakeit.ProductName(),
		Image:          gofakeit.URL(),
		Quantity:       gofakeit.Number(1, 5),
		UnitPriceCents: int64(gofakeit.Number(100, 50_000)),
	}
}
