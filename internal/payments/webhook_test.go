package payments

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func TestStripeWebhookVerifierParsesPaymentIntentEvents(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	header, body := signedPayload(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"object": "payment_intent",
			"amount": 5500,
			"amount_received": 5500,
			"currency": "usd",
			"status": "succeeded",
			"metadata": {"order_id": "ord_1"}
		}}
	}`)

	notification, err := verifier.Parse(body, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if notification.EventID != "evt_1" || notification.Type != "payment_intent.succeeded" {
		t.Fatalf("unexpected notification %+v", notification)
	}
	intent := notification.Intent
	if intent.Ref != "pi_1" || intent.Status != StatusSucceeded || intent.ChargedAmountCents != 5500 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Metadata["order_id"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", intent.Metadata)
	}
}

func TestStripeWebhookVerifierRejectsBadSignature(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	_, body := signedPayload(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	if _, err := verifier.Parse(body, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestStripeWebhookVerifierIgnoresUnrelatedEvents(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	header, body := signedPayload(t, `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	notification, err := verifier.Parse(body, header)
	if !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ignored event, got %v", err)
	}
	if notification.EventID != "evt_2" {
		t.Fatalf("expected event id to be reported, got %+v", notification)
	}
}

func TestNewStripeWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookVerifier(" ", 0); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
