package services

import (
	"context"
	"time"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	CartLine      = domain.CartLine
	Address       = domain.Address
	Product       = domain.Product
	PaymentMethod = domain.PaymentMethod
	PaymentStatus = domain.PaymentStatus
)

// ProductCatalog resolves products at their current price and stock.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// CartValidator turns untrusted cart lines into priced order items.
type CartValidator interface {
	ValidateCart(ctx context.Context, userID string, lines []CartLine) (CartSnapshot, error)
}

// OrderService creates orders and exposes owner-scoped reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, requesterID, orderID string, isAdmin bool) (Order, error)
	ListOrdersForUser(ctx context.Context, userID string) ([]Order, error)
}

// PaymentService drives the payment state machine attached to orders.
type PaymentService interface {
	BeginPaymentAttempt(ctx context.Context, cmd BeginPaymentCommand) (PaymentAttempt, error)
	RecordClientConfirmation(ctx context.Context, cmd ClientConfirmationCommand) (ClientConfirmationResult, error)
	ReconcileWithProcessor(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
	ReconcilePending(ctx context.Context, cmd ReconcilePendingCommand) (ReconcilePendingResult, error)
}

// PaymentProcessors routes intent operations to the processor serving a payment method.
type PaymentProcessors interface {
	CreateIntent(ctx context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error)
	LookupIntent(ctx context.Context, method domain.PaymentMethod, ref string) (payments.Intent, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	UserID        string
	PaymentStatus string
	IntentRef     string
	TotalCents    int64
	Currency      string
	OccurredAt    time.Time
}

// CartSnapshot is the validated, server-priced view of a cart.
type CartSnapshot struct {
	Items           []OrderItem
	ItemsPriceCents int64
}

// CreateOrderCommand carries the shopper's checkout submission.
type CreateOrderCommand struct {
	UserID          string
	IdempotencyKey  string
	Lines           []CartLine
	ShippingAddress Address
	PaymentMethod   PaymentMethod
}

// CreateOrderResult reports the stored order and whether it was replayed from an earlier request.
type CreateOrderResult struct {
	Order    Order
	Replayed bool
}

// BeginPaymentCommand starts or resumes a payment attempt for an order.
type BeginPaymentCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
}

// PaymentAttempt is what the client needs to confirm the payment with the processor.
type PaymentAttempt struct {
	OrderID      string
	IntentRef    string
	ClientSecret string
	AmountCents  int64
	Currency     string
	Attempt      int
	Reused       bool
}

// ClientConfirmationCommand records that the client reports a completed confirmation.
type ClientConfirmationCommand struct {
	OrderID   string
	ActorID   string
	IntentRef string
}

// ClientConfirmationResult carries the order after confirmation. Verified is false when the
// processor could not be consulted; the order then stays pending until a later reconcile.
type ClientConfirmationResult struct {
	Order    Order
	Verified bool
	Outcome  ReconcileOutcome
}

// ProcessorReport is an authoritative intent state pushed by the processor or fetched from it.
type ProcessorReport struct {
	IntentRef          string
	Status             payments.Status
	ChargedAmountCents int64
	Currency           string
	LastError          string
	Source             string
}

// ReportFromIntent converts a processor intent into a report.
func ReportFromIntent(intent payments.Intent, source string) ProcessorReport {
	return ProcessorReport{
		IntentRef:          intent.Ref,
		Status:             intent.Status,
		ChargedAmountCents: intent.ChargedAmountCents,
		Currency:           intent.Currency,
		LastError:          intent.LastError,
		Source:             source,
	}
}

// ReconcileCommand applies processor truth to an order. When Reported is nil the processor is queried.
// ActorID is empty for system callers (webhooks, sweeps); otherwise the owner check applies.
type ReconcileCommand struct {
	OrderID   string
	IntentRef string
	Reported  *ProcessorReport
	ActorID   string
	IsAdmin   bool
}

// ReconcileOutcome describes what a reconcile did to the order.
type ReconcileOutcome string

const (
	ReconcileOutcomePaid     ReconcileOutcome = "paid"
	ReconcileOutcomeFailed   ReconcileOutcome = "failed"
	ReconcileOutcomeCanceled ReconcileOutcome = "canceled"
	ReconcileOutcomePending  ReconcileOutcome = "pending"
	ReconcileOutcomeIgnored  ReconcileOutcome = "ignored"
)

// ReconcileResult reports the order after reconciliation.
type ReconcileResult struct {
	Order          Order
	Outcome        ReconcileOutcome
	AlreadyApplied bool
}

// ReconcilePendingCommand selects stale pending orders for an authoritative re-query.
type ReconcilePendingCommand struct {
	OlderThan time.Duration
	Limit     int
}

// ReconcilePendingResult summarises a sweep.
type ReconcilePendingResult struct {
	Checked  int
	Paid     int
	Failed   int
	Canceled int
	Pending  int
	Errors   int
}
