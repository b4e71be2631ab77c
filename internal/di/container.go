package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/payments"
	"github.com/storefront/checkout/internal/platform/config"
	pfirestore "github.com/storefront/checkout/internal/platform/firestore"
	"github.com/storefront/checkout/internal/platform/observability"
	"github.com/storefront/checkout/internal/repositories"
	firestorerepo "github.com/storefront/checkout/internal/repositories/firestore"
	"github.com/storefront/checkout/internal/repositories/postgres"
	"github.com/storefront/checkout/internal/services"
)

const stripeProcessorKey = "stripe"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog  services.ProductCatalog
	Orders   services.OrderService
	Payments services.PaymentService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerOptions struct {
	logger     *zap.Logger
	clock      func() time.Time
	events     services.OrderEventPublisher
	processors services.PaymentProcessors
}

// Option customises container construction.
type Option func(*containerOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithEventPublisher attaches the order event sink. Without one, events are dropped.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = events
	}
}

// WithPaymentProcessors replaces the Stripe-backed processors built from configuration.
func WithPaymentProcessors(processors services.PaymentProcessors) Option {
	return func(o *containerOptions) {
		o.processors = processors
	}
}

// NewContainer constructs the runtime dependencies on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, cfg, reg, o)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, o containerOptions) (Services, error) {
	catalog, err := services.NewRepositoryCatalog(reg.Products())
	if err != nil {
		return Services{}, fmt.Errorf("build catalog: %w", err)
	}
	validator, err := services.NewCartValidator(catalog)
	if err != nil {
		return Services{}, fmt.Errorf("build cart validator: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Validator: validator,
		Shipping: services.ShippingPolicy{
			FlatCents:          cfg.Checkout.ShippingFlatCents,
			FreeThresholdCents: cfg.Checkout.FreeShippingThresholdCents,
		},
		Tax:      services.TaxPolicy{RateBasisPoints: cfg.Checkout.TaxRateBasisPoints},
		Currency: cfg.Checkout.Currency,
		Clock:    o.clock,
		Events:   o.events,
		Logger:   observability.EventLogger(o.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	processors := o.processors
	if processors == nil {
		manager, err := NewPaymentManager(cfg.PSP, o.logger)
		if err != nil {
			return Services{}, err
		}
		processors = manager
	}
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     reg.Orders(),
		Processors: processors,
		Events:     o.events,
		Clock:      o.clock,
		Logger:     observability.EventLogger(o.logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	return Services{
		Catalog:  catalog,
		Orders:   orders,
		Payments: paymentSvc,
	}, nil
}

// NewPaymentManager builds the Stripe processor behind the retrying decorator.
func NewPaymentManager(cfg config.PSPConfig, logger *zap.Logger) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		return nil, errors.New("build payments: stripe api key is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stripe, err := payments.NewStripeProcessor(payments.StripeProcessorConfig{
		APIKey: cfg.StripeAPIKey,
		Logger: payments.StripeLogger(observability.EventLogger(logger.Named("stripe"))),
	})
	if err != nil {
		return nil, fmt.Errorf("build payments: %w", err)
	}
	retrying := payments.NewRetryingProcessor(stripe,
		payments.WithCallTimeout(cfg.Timeout),
		payments.WithMaxAttempts(cfg.MaxAttempts),
	)
	manager, err := payments.NewManager(map[string]payments.Processor{stripeProcessorKey: retrying})
	if err != nil {
		return nil, fmt.Errorf("build payments: %w", err)
	}
	return manager, nil
}

// OpenRegistry connects the configured order store. extra checks join the readiness report.
func OpenRegistry(ctx context.Context, cfg config.Config, extra ...repositories.DependencyCheck) (repositories.Registry, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		reg, err := postgres.Open(ctx, cfg.Store.PostgresDSN, extra...)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return reg, nil
	case config.StoreFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestorerepo.NewRegistry(provider, extra...)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown order store %q", cfg.Store.Backend)
	}
}
