package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/checkout/internal/domain"
)

// Status enumerates the normalised payment intent outcomes shared across processors.
type Status string

const (
	// StatusPending indicates the intent still awaits customer action or processor confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the processor reports the charge as settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the last charge attempt on the intent failed.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the intent was canceled and can no longer be charged.
	StatusCanceled Status = "canceled"
)

var (
	// ErrUnsupportedProvider is returned when no processor serves the requested payment method.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrTransient marks failures that may succeed when retried (timeouts, 5xx, rate limits).
	ErrTransient = errors.New("payments: transient processor failure")
	// ErrIntentNotFound is returned when the processor has no record of the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
)

// Metadata keys attached to every intent so asynchronous notifications can be routed back to an order.
const (
	MetadataOrderID = "order_id"
	MetadataUserID  = "user_id"
)

// IntentRequest captures the payload required to create a payment intent.
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the processor-neutral view of an external payment attempt.
type Intent struct {
	Provider           string
	Ref                string
	ClientSecret       string
	Status             Status
	RawStatus          string
	AmountCents        int64
	ChargedAmountCents int64
	Currency           string
	LastError          string
	Metadata           map[string]string
}

// Processor creates and inspects payment intents at an external card processor.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	LookupIntent(ctx context.Context, ref string) (Intent, error)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Manager routes payment methods to the processor that settles them.
type Manager struct {
	processors map[string]Processor
	routes     map[domain.PaymentMethod]string
}

// ManagerOption customises Manager behaviour.
type ManagerOption func(*Manager)

// WithMethodRoutes overrides which processor key handles each payment method.
func WithMethodRoutes(routes map[domain.PaymentMethod]string) ManagerOption {
	return func(m *Manager) {
		for method, key := range routes {
			key = strings.TrimSpace(strings.ToLower(key))
			if key == "" {
				delete(m.routes, method)
				continue
			}
			m.routes[method] = key
		}
	}
}

// NewManager constructs a Manager for the provided processor registrations.
func NewManager(processors map[string]Processor, opts ...ManagerOption) (*Manager, error) {
	if len(processors) == 0 {
		return nil, errors.New("payments: at least one processor is required")
	}
	registered := make(map[string]Processor, len(processors))
	for key, processor := range processors {
		normalized := strings.TrimSpace(strings.ToLower(key))
		if normalized == "" || processor == nil {
			return nil, fmt.Errorf("payments: invalid processor registration for key %q", key)
		}
		registered[normalized] = processor
	}
	m := &Manager{
		processors: registered,
		routes: map[domain.PaymentMethod]string{
			domain.PaymentMethodCard:   "stripe",
			domain.PaymentMethodStripe: "stripe",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Resolve returns the processor key and implementation for a payment method.
func (m *Manager) Resolve(method domain.PaymentMethod) (string, Processor, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	key, ok := m.routes[method]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
	}
	processor, ok := m.processors[key]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	return key, processor, nil
}

// CreateIntent delegates to the processor resolved for method.
func (m *Manager) CreateIntent(ctx context.Context, method domain.PaymentMethod, req IntentRequest) (Intent, error) {
	key, processor, err := m.Resolve(method)
	if err != nil {
		return Intent{}, err
	}
	intent, err := processor.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// LookupIntent delegates to the processor resolved for method.
func (m *Manager) LookupIntent(ctx context.Context, method domain.PaymentMethod, ref string) (Intent, error) {
	key, processor, err := m.Resolve(method)
	if err != nil {
		return Intent{}, err
	}
	intent, err := processor.LookupIntent(ctx, ref)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}
