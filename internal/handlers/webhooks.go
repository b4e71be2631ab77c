package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/payments"
	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/platform/observability"
	"github.com/storefront/checkout/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// NotificationParser verifies and decodes a processor webhook delivery.
type NotificationParser interface {
	Parse(payload []byte, signatureHeader string) (payments.Notification, error)
}

// PaymentWebhookHandlers applies processor notifications to orders.
type PaymentWebhookHandlers struct {
	stripe   NotificationParser
	payments services.PaymentService
}

// NewPaymentWebhookHandlers constructs webhook handlers. A nil parser leaves the route answering 503.
func NewPaymentWebhookHandlers(stripe NotificationParser, payments services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{stripe: stripe, payments: payments}
}

// Routes registers webhook endpoints under /webhooks.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Ignored  bool   `json:"ignored,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripe == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}
	logger := observability.FromContext(ctx).Named("webhooks")

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	notification, err := h.stripe.Parse(body, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrIgnoredEvent):
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("webhook.signature_invalid")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case err != nil:
		logger.Warn("webhook.decode_failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	fields := []zap.Field{
		zap.String("event_id", notification.EventID),
		zap.String("event_type", notification.Type),
		zap.String("intent_ref", notification.Intent.Ref),
	}
	orderID := strings.TrimSpace(notification.Intent.Metadata[payments.MetadataOrderID])
	if orderID == "" {
		logger.Warn("webhook.order_unresolved", fields...)
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		return
	}
	fields = append(fields, zap.String("order_id", orderID))

	report := services.ReportFromIntent(notification.Intent, "webhook")
	result, err := h.payments.ReconcileWithProcessor(ctx, services.ReconcileCommand{
		OrderID:   orderID,
		IntentRef: notification.Intent.Ref,
		Reported:  &report,
	})
	if err != nil {
		switch {
		case services.IsRetryable(err):
			// processor retries the delivery on non-2xx
			writeServiceError(ctx, w, err)
		case errors.Is(err, services.ErrOrderNotFound),
			errors.Is(err, services.ErrAmountMismatch),
			errors.Is(err, services.ErrIntentMismatch),
			errors.Is(err, services.ErrInvalidInput):
			logger.Warn("webhook.rejected", append(fields, zap.Error(err))...)
			httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		default:
			logger.Error("webhook.reconcile_failed", append(fields, zap.Error(err))...)
			writeServiceError(ctx, w, err)
		}
		return
	}

	logger.Info("webhook.applied", append(fields,
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("already_applied", result.AlreadyApplied),
	)...)
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Outcome: string(result.Outcome)})
}
