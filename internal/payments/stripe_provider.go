package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe processor operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessorConfig configures the StripeProcessor.
type StripeProcessorConfig struct {
	APIKey             string
	AccountID          string
	PaymentMethodTypes []string
	Backends           *stripe.Backends
	Logger             StripeLogger
	Intents            stripePaymentIntentAPI
}

// StripeProcessor implements Processor on top of Stripe PaymentIntents.
type StripeProcessor struct {
	intents     stripePaymentIntentAPI
	account     string
	methodTypes []string
	logger      StripeLogger
}

var _ Processor = (*StripeProcessor)(nil)

// NewStripeProcessor constructs a Stripe-backed Processor using the given configuration.
func NewStripeProcessor(cfg StripeProcessorConfig) (*StripeProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	methodTypes := make([]string, 0, len(cfg.PaymentMethodTypes))
	for _, t := range cfg.PaymentMethodTypes {
		if t = strings.TrimSpace(t); t != "" {
			methodTypes = append(methodTypes, t)
		}
	}
	if len(methodTypes) == 0 {
		methodTypes = []string{"card"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProcessor{
		intents:     intents,
		account:     strings.TrimSpace(cfg.AccountID),
		methodTypes: methodTypes,
		logger:      logger,
	}, nil
}

// CreateIntent creates a Stripe PaymentIntent sized to the requested amount.
func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: processor is nil")
	}
	if req.AmountCents <= 0 {
		return Intent{}, fmt.Errorf("stripe: amount must be positive, got %d", req.AmountCents)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, errors.New("stripe: currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice(p.methodTypes),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", classifyStripeError(err))
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return IntentFromStripe(intent), nil
}

// LookupIntent retrieves a Stripe PaymentIntent.
func (p *StripeProcessor) LookupIntent(ctx context.Context, ref string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: processor is nil")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Intent{}, fmt.Errorf("stripe: %w: empty reference", ErrIntentNotFound)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(ref, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: lookup payment intent: %w", classifyStripeError(err))
	}
	return IntentFromStripe(intent), nil
}

// IntentFromStripe maps a Stripe PaymentIntent into the processor-neutral Intent.
func IntentFromStripe(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Stripe returns a failed attempt to requires_payment_method with the error attached.
		if intent.LastPaymentError != nil {
			status = StatusFailed
		}
	}

	var lastError string
	if intent.LastPaymentError != nil {
		lastError = intent.LastPaymentError.Msg
		if lastError == "" {
			lastError = string(intent.LastPaymentError.Code)
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	var metadata map[string]string
	if len(intent.Metadata) > 0 {
		metadata = make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			metadata[k] = v
		}
	}

	return Intent{
		Provider:           "stripe",
		Ref:                intent.ID,
		ClientSecret:       intent.ClientSecret,
		Status:             status,
		RawStatus:          string(intent.Status),
		AmountCents:        intent.Amount,
		ChargedAmountCents: intent.AmountReceived,
		Currency:           currency,
		LastError:          lastError,
		Metadata:           metadata,
	}
}

func classifyStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrIntentNotFound, err)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		default:
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	// Transport failures without a Stripe payload leave the outcome unknown.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
