package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/services"
)

const maxInternalRequestBody = 4 * 1024

// InternalPaymentHandlers exposes scheduler-driven maintenance endpoints. Authentication is applied
// by the router's internal middleware group.
type InternalPaymentHandlers struct {
	payments     services.PaymentService
	defaultAge   time.Duration
	defaultLimit int
}

// NewInternalPaymentHandlers constructs handlers with sweep defaults used when the request omits them.
func NewInternalPaymentHandlers(payments services.PaymentService, defaultAge time.Duration, defaultLimit int) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{payments: payments, defaultAge: defaultAge, defaultLimit: defaultLimit}
}

// Routes registers endpoints under /internal.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile-pending", h.reconcilePending)
}

type reconcilePendingRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
	Limit            int `json:"limit"`
}

type reconcilePendingResponse struct {
	Checked  int `json:"checked"`
	Paid     int `json:"paid"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
	Pending  int `json:"pending"`
	Errors   int `json:"errors"`
}

func (h *InternalPaymentHandlers) reconcilePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reconcilePendingRequest
	body, err := readLimitedBody(r, maxInternalRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}
	if req.OlderThanSeconds < 0 || req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "older_than_seconds and limit must not be negative", http.StatusBadRequest))
		return
	}

	cmd := services.ReconcilePendingCommand{OlderThan: h.defaultAge, Limit: h.defaultLimit}
	if req.OlderThanSeconds > 0 {
		cmd.OlderThan = time.Duration(req.OlderThanSeconds) * time.Second
	}
	if req.Limit > 0 {
		cmd.Limit = req.Limit
	}

	result, err := h.payments.ReconcilePending(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcilePendingResponse{
		Checked:  result.Checked,
		Paid:     result.Paid,
		Failed:   result.Failed,
		Canceled: result.Canceled,
		Pending:  result.Pending,
		Errors:   result.Errors,
	})
}
