package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotentReplayHeader = "X-Idempotent-Replay"
)

// OrderHandlers exposes order creation and owner-scoped reads.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.createOrder)
	group.Get("/mine", h.listMyOrders)
	group.Get("/{orderID}", h.getOrder)
}

// Items carry only product and quantity; prices are always resolved server-side.
type createOrderRequest struct {
	IdempotencyKey  string                   `json:"idempotency_key"`
	Items           []createOrderItemRequest `json:"items"`
	ShippingAddress addressPayload           `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type addressPayload struct {
	FullName   string  `json:"full_name"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCreateOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	bodyKey := strings.TrimSpace(req.IdempotencyKey)
	switch {
	case key == "":
		key = bodyKey
	case bodyKey != "" && bodyKey != key:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Idempotency-Key header and idempotency_key differ", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "idempotency_key"}))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:         identity.UID,
		IdempotencyKey: key,
		Lines: lo.Map(req.Items, func(item createOrderItemRequest, _ int) services.CartLine {
			return services.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
		}),
		ShippingAddress: services.Address{
			FullName:   req.ShippingAddress.FullName,
			Street:     req.ShippingAddress.Street,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
			Phone:      req.ShippingAddress.Phone,
		},
		PaymentMethod: services.PaymentMethod(req.PaymentMethod),
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		w.Header().Set(idempotentReplayHeader, "true")
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	httpx.WriteJSON(w, status, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrdersForUser(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items: lo.Map(orders, func(order services.Order, _ int) orderSummaryPayload {
			return buildOrderSummary(order)
		}),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID, identity.IsOperator())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID              string `json:"id"`
	PaymentStatus   string `json:"payment_status"`
	IsPaid          bool   `json:"is_paid"`
	IsDelivered     bool   `json:"is_delivered"`
	Currency        string `json:"currency"`
	TotalPriceCents int64  `json:"total_price_cents"`
	ItemCount       int    `json:"item_count"`
	CreatedAt       string `json:"created_at"`
	PaidAt          string `json:"paid_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Items              []orderItemPayload `json:"items"`
	ShippingAddress    addressPayload     `json:"shipping_address"`
	PaymentMethod      string             `json:"payment_method"`
	Currency           string             `json:"currency"`
	ItemsPriceCents    int64              `json:"items_price_cents"`
	ShippingPriceCents int64              `json:"shipping_price_cents"`
	TaxPriceCents      int64              `json:"tax_price_cents"`
	TotalPriceCents    int64              `json:"total_price_cents"`
	PaymentIntentID    string             `json:"payment_intent_id,omitempty"`
	PaymentStatus      string             `json:"payment_status"`
	PaymentAttempts    int                `json:"payment_attempts"`
	IsPaid             bool               `json:"is_paid"`
	PaidAt             string             `json:"paid_at,omitempty"`
	ClientConfirmedAt  string             `json:"client_confirmed_at,omitempty"`
	IsDelivered        bool               `json:"is_delivered"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:              order.ID,
		PaymentStatus:   string(order.PaymentStatus),
		IsPaid:          order.IsPaid(),
		IsDelivered:     order.IsDelivered,
		Currency:        order.Currency,
		TotalPriceCents: order.TotalPriceCents,
		ItemCount:       len(order.Items),
		CreatedAt:       formatTime(order.CreatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	addr := order.ShippingAddress
	return orderPayload{
		ID: order.ID,
		Items: lo.Map(order.Items, func(item services.OrderItem, _ int) orderItemPayload {
			return orderItemPayload{
				ProductID:      item.ProductID,
				Name:           item.Name,
				Image:          item.Image,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
			}
		}),
		UserID: order.UserID,
		ShippingAddress: addressPayload{
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
		PaymentIntentID:    order.PaymentIntentRef,
		PaymentStatus:      string(order.PaymentStatus),
		PaymentAttempts:    order.PaymentAttempts,
		IsPaid:             order.IsPaid(),
		PaidAt:             formatTimePtr(order.PaidAt),
		ClientConfirmedAt:  formatTimePtr(order.ClientConfirmedAt),
		IsDelivered:        order.IsDelivered,
		DeliveredAt:        formatTimePtr(order.DeliveredAt),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
}
