package services

import (
	"errors"
	"fmt"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/repositories"
)

var (
	// ErrInvalidInput signals the caller provided malformed or incomplete data.
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrUnauthenticated signals a request without an authenticated user.
	ErrUnauthenticated = errors.New("checkout: unauthenticated")
	// ErrEmptyCart signals a cart without lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInvalidQuantity signals a cart line quantity below one.
	ErrInvalidQuantity = errors.New("checkout: invalid quantity")
	// ErrInvalidReference signals a cart line referencing an unknown product.
	ErrInvalidReference = errors.New("checkout: invalid product reference")
	// ErrInsufficientStock signals a requested quantity above the product's stock.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrOverflow signals a money computation above the safety ceiling.
	ErrOverflow = errors.New("checkout: amount overflow")

	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrNotAuthorized indicates the requester neither owns the order nor holds an override role.
	ErrNotAuthorized = errors.New("order: not authorized")
	// ErrAlreadyPaid indicates a payment attempt against an order that is already paid.
	ErrAlreadyPaid = errors.New("payment: order already paid")
	// ErrAmountMismatch indicates the processor charged an amount or currency that differs from the order total.
	ErrAmountMismatch = errors.New("payment: charged amount does not match order total")
	// ErrIntentMismatch indicates a processor reference that is not the order's current payment intent.
	ErrIntentMismatch = errors.New("payment: intent does not match order")
	// ErrAttemptSuperseded indicates a concurrent request attached a different payment intent first.
	ErrAttemptSuperseded = errors.New("payment: attempt superseded by concurrent request")
	// ErrPaymentMethodUnsupported indicates no processor settles the order's payment method.
	ErrPaymentMethodUnsupported = errors.New("payment: payment method not supported")
	// ErrProcessorRejected indicates the processor refused the request permanently.
	ErrProcessorRejected = errors.New("payment: processor rejected request")

	// ErrProcessorUnavailable is retryable: the processor timed out or failed transiently.
	ErrProcessorUnavailable = errors.New("payment: processor unavailable")
	// ErrCatalogUnavailable is retryable: the product catalog could not be reached.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
	// ErrOrderStoreUnavailable is retryable: the order store could not be reached.
	ErrOrderStoreUnavailable = errors.New("order: store unavailable")

	// ErrProductNotFound is returned by ProductCatalog implementations for unknown ids.
	ErrProductNotFound = errors.New("catalog: product not found")
)

// IsRetryable reports whether err is a transient failure the caller may retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProcessorUnavailable) ||
		errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrOrderStoreUnavailable)
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderStoreUnavailable, err)
		}
	}
	return err
}

func mapMoneyError(err error) error {
	if errors.Is(err, domain.ErrAmountOverflow) {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return err
}
