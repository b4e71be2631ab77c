package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/services"
)

const retryAfterDefault = 5 * time.Second

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

type errorMapping struct {
	target error
	code   string
	status int
	expose bool
}

// Order matters: the first matching sentinel decides the response.
var serviceErrorMappings = []errorMapping{
	{services.ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized, false},
	{services.ErrNotAuthorized, "forbidden", http.StatusForbidden, false},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound, false},
	{services.ErrEmptyCart, "empty_cart", http.StatusBadRequest, true},
	{services.ErrInvalidQuantity, "invalid_quantity", http.StatusBadRequest, true},
	{services.ErrInvalidInput, "invalid_request", http.StatusBadRequest, true},
	{services.ErrInvalidReference, "invalid_product_reference", http.StatusUnprocessableEntity, true},
	{services.ErrOverflow, "amount_overflow", http.StatusUnprocessableEntity, true},
	{services.ErrPaymentMethodUnsupported, "payment_method_unsupported", http.StatusUnprocessableEntity, true},
	{services.ErrInsufficientStock, "insufficient_stock", http.StatusConflict, true},
	{services.ErrAlreadyPaid, "already_paid", http.StatusConflict, true},
	{services.ErrAmountMismatch, "amount_mismatch", http.StatusConflict, true},
	{services.ErrIntentMismatch, "intent_mismatch", http.StatusConflict, true},
	{services.ErrAttemptSuperseded, "attempt_superseded", http.StatusConflict, true},
	{services.ErrProcessorRejected, "processor_rejected", http.StatusBadGateway, false},
}

var retryableCodes = []struct {
	target error
	code   string
}{
	{services.ErrProcessorUnavailable, "processor_unavailable"},
	{services.ErrCatalogUnavailable, "catalog_unavailable"},
	{services.ErrOrderStoreUnavailable, "order_store_unavailable"},
}

// writeServiceError translates service sentinels into the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if services.IsRetryable(err) {
		code := "unavailable"
		for _, candidate := range retryableCodes {
			if errors.Is(err, candidate.target) {
				code = candidate.code
				break
			}
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, "temporarily unavailable, retry later", http.StatusServiceUnavailable).WithRetryAfter(retryAfterDefault))
		return
	}
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := http.StatusText(m.status)
		if m.expose {
			message = err.Error()
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
