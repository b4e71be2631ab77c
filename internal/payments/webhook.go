package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrInvalidSignature is returned when a notification fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrIgnoredEvent is returned for verified events that carry no payment intent outcome.
	ErrIgnoredEvent = errors.New("payments: event ignored")
)

// Notification is a verified, asynchronous intent update pushed by the processor.
type Notification struct {
	EventID string
	Type    string
	Intent  Intent
}

// StripeWebhookVerifier validates Stripe-Signature headers and decodes payment intent events.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier bound to the endpoint signing secret.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the payload signature and extracts the payment intent carried by the event.
func (v *StripeWebhookVerifier) Parse(payload []byte, signatureHeader string) (Notification, error) {
	if v == nil {
		return Notification{}, errors.New("stripe: webhook verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") || event.Data == nil {
		return Notification{EventID: event.ID, Type: eventType}, ErrIgnoredEvent
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return Notification{}, fmt.Errorf("stripe: decode payment intent event %s: %w", event.ID, err)
	}
	if intent.ID == "" {
		return Notification{EventID: event.ID, Type: eventType}, ErrIgnoredEvent
	}

	return Notification{
		EventID: event.ID,
		Type:    eventType,
		Intent:  IntentFromStripe(&intent),
	}, nil
}
