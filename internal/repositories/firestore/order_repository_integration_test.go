//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	order := sampleOrder("ord_1", "user-1", "key-1", base)

	stored, created, err := repo.InsertOnce(ctx, order)
	if err != nil {
		t.Fatalf("insert once: %v", err)
	}
	if !created || stored.ID != "ord_1" {
		t.Fatalf("expected created ord_1, got created=%v id=%s", created, stored.ID)
	}

	replay := sampleOrder("ord_2", "user-1", "key-1", base.Add(time.Minute))
	stored, created, err = repo.InsertOnce(ctx, replay)
	if err != nil {
		t.Fatalf("insert replay: %v", err)
	}
	if created || stored.ID != "ord_1" {
		t.Fatalf("expected replay of ord_1, got created=%v id=%s", created, stored.ID)
	}

	if _, err := repo.FindByID(ctx, "ord_2"); !isNotFound(err) {
		t.Fatalf("expected ord_2 to be absent, got %v", err)
	}

	t.Run("concurrent inserts collapse to one order", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 5)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				o := sampleOrder("ord_c"+string(rune('a'+i)), "user-2", "key-c", base)
				got, _, err := repo.InsertOnce(ctx, o)
				if err != nil {
					t.Errorf("insert %d: %v", i, err)
					return
				}
				ids[i] = got.ID
			}(i)
		}
		wg.Wait()
		for _, id := range ids[1:] {
			if id != ids[0] {
				t.Fatalf("expected single order id, got %v", ids)
			}
		}
	})

	t.Run("list by user is newest first", func(t *testing.T) {
		later := sampleOrder("ord_3", "user-1", "key-3", base.Add(time.Hour))
		if _, _, err := repo.InsertOnce(ctx, later); err != nil {
			t.Fatalf("insert later: %v", err)
		}
		orders, err := repo.ListByUser(ctx, "user-1")
		if err != nil {
			t.Fatalf("list by user: %v", err)
		}
		if len(orders) != 2 || orders[0].ID != "ord_3" || orders[1].ID != "ord_1" {
			t.Fatalf("unexpected order listing: %+v", orders)
		}
	})

	t.Run("mutate persists changes", func(t *testing.T) {
		paidAt := base.Add(2 * time.Hour)
		updated, err := repo.Mutate(ctx, "ord_1", func(o *domain.Order) (bool, error) {
			o.PaymentIntentRef = "pi_123"
			o.PaymentStatus = domain.PaymentStatusSucceeded
			o.PaidAt = &paidAt
			o.UpdatedAt = paidAt
			return true, nil
		})
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if !updated.IsPaid() {
			t.Fatalf("expected paid order")
		}
		reloaded, err := repo.FindByID(ctx, "ord_1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if reloaded.PaymentIntentRef != "pi_123" || reloaded.PaidAt == nil || !reloaded.PaidAt.Equal(paidAt) {
			t.Fatalf("mutation not persisted: %+v", reloaded)
		}
	})

	t.Run("mutate surfaces mutation errors unchanged", func(t *testing.T) {
		sentinel := errors.New("stop")
		_, err := repo.Mutate(ctx, "ord_3", func(o *domain.Order) (bool, error) {
			return false, sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel, got %v", err)
		}
	})

	t.Run("mutate missing order", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "ord_missing", func(o *domain.Order) (bool, error) { return true, nil })
		if !isNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func sampleOrder(id, userID, key string, createdAt time.Time) domain.Order {
	state := "CA"
	return domain.Order{
		ID:             id,
		UserID:         userID,
		IdempotencyKey: key,
		Items: []domain.OrderItem{
			{ProductID: "prod_1", Name: "Mug", Quantity: 2, UnitPriceCents: 1250},
		},
		ShippingAddress: domain.Address{
			FullName:   "Ada Lovelace",
			Street:     "1 Main St",
			City:       "Springfield",
			State:      &state,
			PostalCode: "94000",
			Country:    "US",
		},
		PaymentMethod:      domain.PaymentMethodCard,
		Currency:           "USD",
		ItemsPriceCents:    2500,
		ShippingPriceCents: 0,
		TaxPriceCents:      250,
		TotalPriceCents:    2750,
		PaymentStatus:      domain.PaymentStatusPending,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}
