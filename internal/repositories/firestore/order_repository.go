package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/checkout/internal/domain"
	pfirestore "github.com/storefront/checkout/internal/platform/firestore"
	"github.com/storefront/checkout/internal/repositories"
)

const (
	ordersCollection          = "orders"
	orderIdempotencyKeysColl  = "orderIdempotencyKeys"
	defaultAwaitingPaymentMax = 100
)

// idempotencyNamespace scopes the UUIDv5 claim ids derived from (userId, idempotencyKey).
var idempotencyNamespace = uuid.MustParse("9c0f6f0e-4a53-4d8c-9a43-3f2f1d7c2b61")

// OrderRepository stores orders in Firestore. Creation claims a deterministic idempotency document in
// the same transaction as the order so that a (user, key) pair can only ever produce one order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	claims   *pfirestore.Collection[idempotencyClaimDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		claims:   pfirestore.NewCollection[idempotencyClaimDocument](provider, orderIdempotencyKeysColl),
	}, nil
}

// IdempotencyClaimID derives the claim document id for a user and idempotency key.
func IdempotencyClaimID(userID, key string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(userID+"\x00"+key)).String()
}

func (r *OrderRepository) InsertOnce(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, false, errors.New("order insert: id is required")
	}
	if strings.TrimSpace(order.UserID) == "" || strings.TrimSpace(order.IdempotencyKey) == "" {
		return domain.Order{}, false, errors.New("order insert: user id and idempotency key are required")
	}

	claimRef, err := r.claims.Ref(ctx, IdempotencyClaimID(order.UserID, order.IdempotencyKey))
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		stored  domain.Order
		created bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false

		snap, err := tx.Get(claimRef)
		switch {
		case err == nil:
			var claim idempotencyClaimDocument
			if err := snap.DataTo(&claim); err != nil {
				return fmt.Errorf("decode idempotency claim: %w", err)
			}
			orderRef, err := r.orders.Ref(ctx, claim.OrderID)
			if err != nil {
				return err
			}
			orderSnap, err := tx.Get(orderRef)
			if err != nil {
				return err
			}
			stored, err = decodeOrder(orderSnap)
			return err
		case status.Code(err) != codes.NotFound:
			return err
		}

		orderRef, err := r.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(claimRef, idempotencyClaimDocument{
			UserID:         order.UserID,
			IdempotencyKey: order.IdempotencyKey,
			OrderID:        order.ID,
			CreatedAt:      order.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		stored = order
		created = true
		return nil
	})
	if err != nil {
		if pfirestore.IsAlreadyExists(err) {
			// lost a commit race against the same key; the winner's claim is now visible
			existing, findErr := r.findByClaim(ctx, claimRef)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return domain.Order{}, false, pfirestore.WrapError("orders.insertOnce", err)
	}
	return stored, created, nil
}

func (r *OrderRepository) findByClaim(ctx context.Context, claimRef *firestore.DocumentRef) (domain.Order, error) {
	snap, err := claimRef.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.claim", err)
	}
	claim, err := pfirestore.Decode[idempotencyClaimDocument](snap)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, claim.OrderID)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.orders.Ref(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (domain.Order, error) {
	claimRef, err := r.claims.Ref(ctx, IdempotencyClaimID(userID, key))
	if err != nil {
		return domain.Order{}, err
	}
	return r.findByClaim(ctx, claimRef)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("order list: user id is required")
	}
	docs, err := r.queryOrders(ctx, "orders.listByUser", func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultAwaitingPaymentMax
	}
	return r.queryOrders(ctx, "orders.listAwaitingPayment", func(q firestore.Query) firestore.Query {
		return q.Where("paymentStatus", "==", string(domain.PaymentStatusPending)).
			Where("hasPaymentIntent", "==", true).
			Where("updatedAt", "<", cutoff.UTC()).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutation is required")
	}
	ref, err := r.orders.Ref(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.mutate", orderID)
			}
			return pfirestore.WrapError("orders.mutate", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		changed, err := fn(&order)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Set(ref, newOrderDocument(order)); err != nil {
				return pfirestore.WrapError("orders.mutate", err)
			}
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, op string, build pfirestore.QueryBuilder) ([]domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := build(client.Collection(ordersCollection).Query).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError(op, err)
	}
	out := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	doc, err := pfirestore.Decode[orderDocument](snap)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type idempotencyClaimDocument struct {
	UserID         string    `firestore:"userId"`
	IdempotencyKey string    `firestore:"idempotencyKey"`
	OrderID        string    `firestore:"orderId"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

type orderItemDocument struct {
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Image          string `firestore:"image,omitempty"`
	Quantity       int    `firestore:"qty"`
	UnitPriceCents int64  `firestore:"unitPriceCents"`
}

type addressDocument struct {
	FullName   string  `firestore:"fullName"`
	Street     string  `firestore:"street"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderDocument struct {
	UserID         string `firestore:"userId"`
	IdempotencyKey string `firestore:"idempotencyKey"`

	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	Currency        string              `firestore:"currency"`

	ItemsPriceCents    int64 `firestore:"itemsPriceCents"`
	ShippingPriceCents int64 `firestore:"shippingPriceCents"`
	TaxPriceCents      int64 `firestore:"taxPriceCents"`
	TotalPriceCents    int64 `firestore:"totalPriceCents"`

	PaymentIntentRef  string     `firestore:"paymentIntentRef"`
	HasPaymentIntent  bool       `firestore:"hasPaymentIntent"`
	PaymentStatus     string     `firestore:"paymentStatus"`
	PaymentAttempts   int        `firestore:"paymentAttempts"`
	ClientConfirmedAt *time.Time `firestore:"clientConfirmedAt,omitempty"`
	IsPaid            bool       `firestore:"isPaid"`
	PaidAt            *time.Time `firestore:"paidAt,omitempty"`

	IsDelivered bool       `firestore:"isDelivered"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	addr := order.ShippingAddress
	return orderDocument{
		UserID:         order.UserID,
		IdempotencyKey: order.IdempotencyKey,
		Items:          items,
		ShippingAddress: addressDocument{
			FullName:   addr.FullName,
			Street:     addr.Street,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		PaymentMethod:      string(order.PaymentMethod),
		Currency:           order.Currency,
		ItemsPriceCents:    order.ItemsPriceCents,
		ShippingPriceCents: order.ShippingPriceCents,
		TaxPriceCents:      order.TaxPriceCents,
		TotalPriceCents:    order.TotalPriceCents,
		PaymentIntentRef:   order.PaymentIntentRef,
		HasPaymentIntent:   order.PaymentIntentRef != "",
		PaymentStatus:      string(order.PaymentStatus),
		PaymentAttempts:    order.PaymentAttempts,
		ClientConfirmedAt:  utcPtr(order.ClientConfirmedAt),
		IsPaid:             order.IsPaid(),
		PaidAt:             utcPtr(order.PaidAt),
		IsDelivered:        order.IsDelivered,
		DeliveredAt:        utcPtr(order.DeliveredAt),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return domain.Order{
		ID:             id,
		UserID:         d.UserID,
		IdempotencyKey: d.IdempotencyKey,
		Items:          items,
		ShippingAddress: domain.Address{
			FullName:   d.ShippingAddress.FullName,
			Street:     d.ShippingAddress.Street,
			City:       d.ShippingAddress.City,
			State:      d.ShippingAddress.State,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		PaymentMethod:      domain.PaymentMethod(d.PaymentMethod),
		Currency:           d.Currency,
		ItemsPriceCents:    d.ItemsPriceCents,
		ShippingPriceCents: d.ShippingPriceCents,
		TaxPriceCents:      d.TaxPriceCents,
		TotalPriceCents:    d.TotalPriceCents,
		PaymentIntentRef:   d.PaymentIntentRef,
		PaymentStatus:      domain.PaymentStatus(d.PaymentStatus),
		PaymentAttempts:    d.PaymentAttempts,
		ClientConfirmedAt:  utcPtr(d.ClientConfirmedAt),
		PaidAt:             utcPtr(d.PaidAt),
		IsDelivered:        d.IsDelivered,
		DeliveredAt:        utcPtr(d.DeliveredAt),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
