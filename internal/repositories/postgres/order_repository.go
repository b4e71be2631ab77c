package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/repositories"
)

const orderColumns = `id, user_id, idempotency_key, shipping_address, payment_method, currency,
	items_price_cents, shipping_price_cents, tax_price_cents, total_price_cents,
	payment_intent_ref, payment_status, payment_attempts, client_confirmed_at, paid_at,
	is_delivered, delivered_at, created_at, updated_at`

const defaultAwaitingPaymentLimit = 100

type orderRepository struct {
	db DBTX
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

// NewOrderRepository returns an order repository bound to a pool or an open transaction.
func NewOrderRepository(db DBTX) repositories.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) InsertOnce(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, false, errors.New("order insert: id is required")
	}
	if len(order.Items) == 0 {
		return domain.Order{}, false, errors.New("no items in order")
	}

	type result struct {
		order   domain.Order
		created bool
	}

	res, err := withTx(ctx, r.db, func(q DBTX) (result, error) {
		var insertedID string
		err := q.QueryRow(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (user_id, idempotency_key) DO NOTHING
			RETURNING id`,
			order.ID, order.UserID, order.IdempotencyKey, toAddressJSON(order.ShippingAddress),
			string(order.PaymentMethod), order.Currency,
			order.ItemsPriceCents, order.ShippingPriceCents, order.TaxPriceCents, order.TotalPriceCents,
			order.PaymentIntentRef, string(order.PaymentStatus), order.PaymentAttempts,
			utc(order.ClientConfirmedAt), utc(order.PaidAt),
			order.IsDelivered, utc(order.DeliveredAt), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		).Scan(&insertedID)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := selectOrders(ctx, q, `WHERE user_id = $1 AND idempotency_key = $2`, order.UserID, order.IdempotencyKey)
			if err != nil {
				return result{}, fmt.Errorf("selectOrders: %w", err)
			}
			if len(existing) == 0 {
				return result{}, notFound("orders.insertOnce", order.IdempotencyKey)
			}
			return result{order: existing[0]}, nil
		}
		if err != nil {
			return result{}, fmt.Errorf("q.InsertOrder: %w", err)
		}

		if err := insertItems(ctx, q, insertedID, order.Items); err != nil {
			return result{}, fmt.Errorf("insertItems: %w", err)
		}
		return result{order: order, created: true}, nil
	})
	if err != nil {
		return domain.Order{}, false, wrapError("orders.insertOnce", err)
	}
	return res.order, res.created, nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orders, err := selectOrders(ctx, r.db, `WHERE id = $1`, orderID)
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	if len(orders) == 0 {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	return orders[0], nil
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (domain.Order, error) {
	orders, err := selectOrders(ctx, r.db, `WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	if err != nil {
		return domain.Order{}, wrapError("orders.getByIdempotencyKey", err)
	}
	if len(orders) == 0 {
		return domain.Order{}, notFound("orders.getByIdempotencyKey", key)
	}
	return orders[0], nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	orders, err := selectOrders(ctx, r.db, `WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, wrapError("orders.listByUser", err)
	}
	return orders, nil
}

func (r *orderRepository) ListAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultAwaitingPaymentLimit
	}
	orders, err := selectOrders(ctx, r.db, `
		WHERE payment_status = 'pending' AND payment_intent_ref <> '' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, wrapError("orders.listAwaitingPayment", err)
	}
	return orders, nil
}

func (r *orderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("order mutate: mutation is required")
	}

	var mutationErr error
	order, err := withTx(ctx, r.db, func(q DBTX) (domain.Order, error) {
		orders, err := selectOrders(ctx, q, `WHERE id = $1 FOR UPDATE`, orderID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("selectOrders: %w", err)
		}
		if len(orders) == 0 {
			return domain.Order{}, notFound("orders.mutate", orderID)
		}
		order := orders[0]

		changed, err := fn(&order)
		if err != nil {
			mutationErr = err
			return domain.Order{}, err
		}
		if !changed {
			return order, nil
		}

		if _, err := q.Exec(ctx, `
			UPDATE orders SET
				payment_intent_ref = $2,
				payment_status = $3,
				payment_attempts = $4,
				client_confirmed_at = $5,
				paid_at = $6,
				is_delivered = $7,
				delivered_at = $8,
				updated_at = $9
			WHERE id = $1`,
			order.ID, order.PaymentIntentRef, string(order.PaymentStatus), order.PaymentAttempts,
			utc(order.ClientConfirmedAt), utc(order.PaidAt), order.IsDelivered, utc(order.DeliveredAt),
			order.UpdatedAt.UTC(),
		); err != nil {
			return domain.Order{}, fmt.Errorf("q.UpdateOrder: %w", err)
		}
		return order, nil
	})
	if err != nil {
		if mutationErr != nil && errors.Is(err, mutationErr) {
			return domain.Order{}, mutationErr
		}
		return domain.Order{}, wrapError("orders.mutate", err)
	}
	return order, nil
}

func insertItems(ctx context.Context, q DBTX, orderID string, items []domain.OrderItem) error {
	positions := make([]int32, len(items))
	productIDs := make([]string, len(items))
	names := make([]string, len(items))
	images := make([]string, len(items))
	qtys := make([]int32, len(items))
	prices := make([]int64, len(items))
	for i, item := range items {
		positions[i] = int32(i)
		productIDs[i] = item.ProductID
		names[i] = item.Name
		images[i] = item.Image
		qtys[i] = int32(item.Quantity)
		prices[i] = item.UnitPriceCents
	}
	_, err := q.Exec(ctx, `
		INSERT INTO order_items (order_id, position, product_id, name, image, qty, unit_price_cents)
		SELECT $1, * FROM unnest($2::int[], $3::text[], $4::text[], $5::text[], $6::int[], $7::bigint[])`,
		orderID, positions, productIDs, names, images, qtys, prices)
	return err
}

func selectOrders(ctx context.Context, q DBTX, clause string, args ...any) ([]domain.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("q.SelectOrders: %w", err)
	}
	orderRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[orderRow])
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	if len(orderRows) == 0 {
		return nil, nil
	}

	ids := lo.Map(orderRows, func(row orderRow, _ int) string { return row.ID })
	itemRows, err := q.Query(ctx, `
		SELECT order_id, position, product_id, name, image, qty, unit_price_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("q.SelectOrderItems: %w", err)
	}
	items, err := pgx.CollectRows(itemRows, pgx.RowToStructByName[orderItemRow])
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	byOrder := lo.GroupBy(items, func(item orderItemRow) string { return item.OrderID })

	return lo.Map(orderRows, func(row orderRow, _ int) domain.Order {
		return row.toDomain(byOrder[row.ID])
	}), nil
}

type addressJSON struct {
	FullName   string  `json:"full_name"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func toAddressJSON(a domain.Address) addressJSON {
	return addressJSON{
		FullName:   a.FullName,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type orderRow struct {
	ID                 string      `db:"id"`
	UserID             string      `db:"user_id"`
	IdempotencyKey     string      `db:"idempotency_key"`
	ShippingAddress    addressJSON `db:"shipping_address"`
	PaymentMethod      string      `db:"payment_method"`
	Currency           string      `db:"currency"`
	ItemsPriceCents    int64       `db:"items_price_cents"`
	ShippingPriceCents int64       `db:"shipping_price_cents"`
	TaxPriceCents      int64       `db:"tax_price_cents"`
	TotalPriceCents    int64       `db:"total_price_cents"`
	PaymentIntentRef   string      `db:"payment_intent_ref"`
	PaymentStatus      string      `db:"payment_status"`
	PaymentAttempts    int32       `db:"payment_attempts"`
	ClientConfirmedAt  *time.Time  `db:"client_confirmed_at"`
	PaidAt             *time.Time  `db:"paid_at"`
	IsDelivered        bool        `db:"is_delivered"`
	DeliveredAt        *time.Time  `db:"delivered_at"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

type orderItemRow struct {
	OrderID        string `db:"order_id"`
	Position       int32  `db:"position"`
	ProductID      string `db:"product_id"`
	Name           string `db:"name"`
	Image          string `db:"image"`
	Qty            int32  `db:"qty"`
	UnitPriceCents int64  `db:"unit_price_cents"`
}

func (row orderRow) toDomain(items []orderItemRow) domain.Order {
	a := row.ShippingAddress
	return domain.Order{
		ID:             row.ID,
		UserID:         row.UserID,
		IdempotencyKey: row.IdempotencyKey,
		Items: lo.Map(items, func(item orderItemRow, _ int) domain.OrderItem {
			return domain.OrderItem{
				ProductID:      item.ProductID,
				Name:           item.Name,
				Image:          item.Image,
				Quantity:       int(item.Qty),
				UnitPriceCents: item.UnitPriceCents,
			}
		}),
		ShippingAddress: domain.Address{
			FullName:   a.FullName,
			Street:     a.Street,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
			Phone:      a.Phone,
		},
		PaymentMethod:      domain.PaymentMethod(row.PaymentMethod),
		Currency:           row.Currency,
		ItemsPriceCents:    row.ItemsPriceCents,
		ShippingPriceCents: row.ShippingPriceCents,
		TaxPriceCents:      row.TaxPriceCents,
		TotalPriceCents:    row.TotalPriceCents,
		PaymentIntentRef:   row.PaymentIntentRef,
		PaymentStatus:      domain.PaymentStatus(row.PaymentStatus),
		PaymentAttempts:    int(row.PaymentAttempts),
		ClientConfirmedAt:  utc(row.ClientConfirmedAt),
		PaidAt:             utc(row.PaidAt),
		IsDelivered:        row.IsDelivered,
		DeliveredAt:        utc(row.DeliveredAt),
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
