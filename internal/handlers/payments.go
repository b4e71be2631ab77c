package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/services"
)

const maxPaymentRequestBody = 4 * 1024

// PaymentHandlers exposes the shopper-facing payment steps of an order.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers guarded by Firebase authentication.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers payment endpoints beneath /orders.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/{orderID}/pay", h.beginPayment)
	group.Put("/{orderID}/pay", h.confirmPayment)
	group.Post("/{orderID}/reconcile", h.reconcile)
}

type paymentAttemptResponse struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Attempt         int    `json:"attempt"`
	Reused          bool   `json:"reused"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type paymentStateResponse struct {
	Order          orderPayload `json:"order"`
	Outcome        string       `json:"outcome"`
	Verified       *bool        `json:"verified,omitempty"`
	AlreadyApplied bool         `json:"already_applied,omitempty"`
}

func (h *PaymentHandlers) beginPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	attempt, err := h.payments.BeginPaymentAttempt(ctx, services.BeginPaymentCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
		IsAdmin: identity.IsOperator(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentAttemptResponse{
		OrderID:         attempt.OrderID,
		PaymentIntentID: attempt.IntentRef,
		ClientSecret:    attempt.ClientSecret,
		AmountCents:     attempt.AmountCents,
		Currency:        attempt.Currency,
		Attempt:         attempt.Attempt,
		Reused:          attempt.Reused,
	})
}

func (h *PaymentHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	intentRef := strings.TrimSpace(req.PaymentIntentID)
	if intentRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_intent_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.RecordClientConfirmation(ctx, services.ClientConfirmationCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID:   identity.UID,
		IntentRef: intentRef,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	// An unverified confirmation is accepted; the order stays pending until processor truth arrives.
	status := http.StatusOK
	if !result.Verified {
		status = http.StatusAccepted
	}
	verified := result.Verified
	httpx.WriteJSON(w, status, paymentStateResponse{
		Order:    buildOrderPayload(result.Order),
		Outcome:  string(result.Outcome),
		Verified: &verified,
	})
}

func (h *PaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	result, err := h.payments.ReconcileWithProcessor(ctx, services.ReconcileCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
		IsAdmin: identity.IsOperator(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentStateResponse{
		Order:          buildOrderPayload(result.Order),
		Outcome:        string(result.Outcome),
		AlreadyApplied: result.AlreadyApplied,
	})
}
