package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/payments"
	"github.com/storefront/checkout/internal/repositories"
)

const (
	orderEventPaid            = "order.paid"
	orderEventPaymentFailed   = "order.payment_failed"
	orderEventPaymentCanceled = "order.payment_canceled"

	reportSourceLookup   = "lookup"
	reportSourceWebhook  = "webhook"
	reportSourceVerified = "webhook_verified"

	defaultPendingAge   = 15 * time.Minute
	defaultPendingLimit = 100
)

// PaymentServiceDeps wires the payment state machine.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Processors PaymentProcessors
	Events     OrderEventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	processors PaymentProcessors
	events     OrderEventPublisher
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Processors == nil {
		return nil, errors.New("payment service: payment processors are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:     deps.Orders,
		processors: deps.Processors,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// BeginPaymentAttempt attaches a processor intent sized to the order total. A still-usable intent on a
// pending order is reused; otherwise a fresh intent is created and the attempt counter advances.
// The processor is called outside the order lock and the write-back re-checks the order state.
func (s *paymentService) BeginPaymentAttempt(ctx context.Context, cmd BeginPaymentCommand) (PaymentAttempt, error) {
	order, err := s.loadAuthorized(ctx, cmd.OrderID, cmd.ActorID, cmd.IsAdmin)
	if err != nil {
		return PaymentAttempt{}, err
	}
	if order.IsPaid() {
		return PaymentAttempt{}, ErrAlreadyPaid
	}

	if order.PaymentStatus == domain.PaymentStatusPending && order.PaymentIntentRef != "" {
		intent, err := s.processors.LookupIntent(ctx, order.PaymentMethod, order.PaymentIntentRef)
		switch {
		case err == nil && intent.Status == payments.StatusSucceeded:
			// paid out of band; record it before refusing a second charge
			res, err := s.apply(ctx, order.ID, ReportFromIntent(intent, reportSourceLookup))
			if err != nil {
				return PaymentAttempt{}, err
			}
			if res.Order.IsPaid() {
				return PaymentAttempt{}, ErrAlreadyPaid
			}
		case err == nil && intentReusable(intent, order):
			s.logger(ctx, "payment.attempt.reused", map[string]any{
				"orderID":   order.ID,
				"intentRef": intent.Ref,
			})
			return PaymentAttempt{
				OrderID:      order.ID,
				IntentRef:    intent.Ref,
				ClientSecret: intent.ClientSecret,
				AmountCents:  order.TotalPriceCents,
				Currency:     order.Currency,
				Attempt:      order.PaymentAttempts,
				Reused:       true,
			}, nil
		case err == nil, errors.Is(err, payments.ErrIntentNotFound):
			// fall through to a fresh intent
		default:
			return PaymentAttempt{}, s.mapProcessorError(err)
		}
	}

	attempt := order.PaymentAttempts + 1
	intent, err := s.processors.CreateIntent(ctx, order.PaymentMethod, payments.IntentRequest{
		AmountCents:    order.TotalPriceCents,
		Currency:       order.Currency,
		Description:    fmt.Sprintf("Order %s", order.ID),
		IdempotencyKey: fmt.Sprintf("%s:%d", order.ID, attempt),
		Metadata: map[string]string{
			payments.MetadataOrderID: order.ID,
			payments.MetadataUserID:  order.UserID,
		},
	})
	if err != nil {
		return PaymentAttempt{}, s.mapProcessorError(err)
	}
	if intent.AmountCents != 0 && intent.AmountCents != order.TotalPriceCents {
		s.logger(ctx, "payment.attempt.amount_mismatch", map[string]any{
			"orderID":     order.ID,
			"intentRef":   intent.Ref,
			"intentCents": intent.AmountCents,
			"totalCents":  order.TotalPriceCents,
		})
		return PaymentAttempt{}, fmt.Errorf("%w: intent %s amount %d", ErrAmountMismatch, intent.Ref, intent.AmountCents)
	}

	previousRef := order.PaymentIntentRef
	previousAttempts := order.PaymentAttempts
	now := s.now()
	stored, err := s.orders.Mutate(ctx, order.ID, func(current *domain.Order) (bool, error) {
		if current.IsPaid() {
			return false, ErrAlreadyPaid
		}
		if current.PaymentIntentRef == intent.Ref {
			// a concurrent request with the same processor idempotency key already stored it
			return false, nil
		}
		if current.PaymentIntentRef != previousRef || current.PaymentAttempts != previousAttempts {
			return false, ErrAttemptSuperseded
		}
		current.PaymentIntentRef = intent.Ref
		current.PaymentStatus = domain.PaymentStatusPending
		current.PaymentAttempts = attempt
		current.ClientConfirmedAt = nil
		current.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPaid) || errors.Is(err, ErrAttemptSuperseded) {
			return PaymentAttempt{}, err
		}
		return PaymentAttempt{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "payment.attempt.started", map[string]any{
		"orderID":     stored.ID,
		"intentRef":   intent.Ref,
		"attempt":     stored.PaymentAttempts,
		"previousRef": previousRef,
	})
	return PaymentAttempt{
		OrderID:      stored.ID,
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
		AmountCents:  stored.TotalPriceCents,
		Currency:     stored.Currency,
		Attempt:      stored.PaymentAttempts,
	}, nil
}

// RecordClientConfirmation stores the first client confirmation timestamp and then asks the processor
// for the authoritative outcome. The client's word alone never marks an order paid.
func (s *paymentService) RecordClientConfirmation(ctx context.Context, cmd ClientConfirmationCommand) (ClientConfirmationResult, error) {
	intentRef := strings.TrimSpace(cmd.IntentRef)
	if intentRef == "" {
		return ClientConfirmationResult{}, fmt.Errorf("%w: payment intent id is required", ErrInvalidInput)
	}
	order, err := s.loadAuthorized(ctx, cmd.OrderID, cmd.ActorID, false)
	if err != nil {
		return ClientConfirmationResult{}, err
	}
	if order.PaymentIntentRef != intentRef {
		return ClientConfirmationResult{}, fmt.Errorf("%w: %s", ErrIntentMismatch, intentRef)
	}

	now := s.now()
	order, err = s.orders.Mutate(ctx, order.ID, func(current *domain.Order) (bool, error) {
		if current.PaymentIntentRef != intentRef {
			return false, fmt.Errorf("%w: %s", ErrIntentMismatch, intentRef)
		}
		if current.ClientConfirmedAt != nil {
			return false, nil
		}
		current.ClientConfirmedAt = &now
		current.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrIntentMismatch) {
			return ClientConfirmationResult{}, err
		}
		return ClientConfirmationResult{}, mapOrderRepositoryError(err)
	}

	res, err := s.ReconcileWithProcessor(ctx, ReconcileCommand{OrderID: order.ID, IntentRef: intentRef})
	if err != nil {
		if errors.Is(err, ErrProcessorUnavailable) {
			s.logger(ctx, "payment.confirmation.unverified", map[string]any{
				"orderID":   order.ID,
				"intentRef": intentRef,
				"error":     err.Error(),
			})
			return ClientConfirmationResult{Order: order, Verified: false, Outcome: ReconcileOutcomePending}, nil
		}
		return ClientConfirmationResult{}, err
	}
	return ClientConfirmationResult{Order: res.Order, Verified: true, Outcome: res.Outcome}, nil
}

// ReconcileWithProcessor applies the processor's view of an intent to the order. Without a pushed
// report the processor is queried; transient failures leave the order untouched.
func (s *paymentService) ReconcileWithProcessor(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	var (
		order Order
		err   error
	)
	if strings.TrimSpace(cmd.ActorID) != "" {
		order, err = s.loadAuthorized(ctx, orderID, cmd.ActorID, cmd.IsAdmin)
	} else {
		order, err = s.load(ctx, orderID)
	}
	if err != nil {
		return ReconcileResult{}, err
	}

	var report ProcessorReport
	if cmd.Reported != nil {
		report = *cmd.Reported
		report.IntentRef = strings.TrimSpace(report.IntentRef)
		if report.IntentRef == "" {
			return ReconcileResult{}, fmt.Errorf("%w: report carries no intent reference", ErrInvalidInput)
		}
		if report.Source == "" {
			report.Source = reportSourceWebhook
		}
		if needsVerification(order, report) {
			if report, err = s.verifyReport(ctx, order, report); err != nil {
				return ReconcileResult{}, err
			}
		}
	} else {
		intentRef := strings.TrimSpace(cmd.IntentRef)
		if intentRef == "" {
			intentRef = order.PaymentIntentRef
		}
		if intentRef == "" {
			return ReconcileResult{}, fmt.Errorf("%w: order %s has no payment attempt", ErrInvalidInput, order.ID)
		}
		intent, err := s.processors.LookupIntent(ctx, order.PaymentMethod, intentRef)
		if err != nil {
			mapped := s.mapProcessorError(err)
			s.logger(ctx, "payment.reconcile.lookup_failed", map[string]any{
				"orderID":   order.ID,
				"intentRef": intentRef,
				"error":     err.Error(),
			})
			return ReconcileResult{}, mapped
		}
		report = ReportFromIntent(intent, reportSourceLookup)
		if report.IntentRef == "" {
			report.IntentRef = intentRef
		}
	}
	if cmd.IntentRef != "" && report.IntentRef != strings.TrimSpace(cmd.IntentRef) {
		return ReconcileResult{}, fmt.Errorf("%w: report for %s", ErrIntentMismatch, report.IntentRef)
	}

	return s.apply(ctx, order.ID, report)
}

// needsVerification reports whether a pushed report would move a pending order into a terminal failure.
// Such reports are confirmed against the processor before anything is written.
func needsVerification(order Order, report ProcessorReport) bool {
	if report.Status != payments.StatusFailed && report.Status != payments.StatusCanceled {
		return false
	}
	return order.PaymentStatus == domain.PaymentStatusPending && report.IntentRef == order.PaymentIntentRef
}

func (s *paymentService) verifyReport(ctx context.Context, order Order, pushed ProcessorReport) (ProcessorReport, error) {
	intent, err := s.processors.LookupIntent(ctx, order.PaymentMethod, pushed.IntentRef)
	if err != nil {
		s.logger(ctx, "payment.reconcile.verify_failed", map[string]any{
			"orderID":      order.ID,
			"intentRef":    pushed.IntentRef,
			"reportStatus": string(pushed.Status),
			"error":        err.Error(),
		})
		return ProcessorReport{}, s.mapProcessorError(err)
	}
	verified := ReportFromIntent(intent, reportSourceVerified)
	if verified.IntentRef == "" {
		verified.IntentRef = pushed.IntentRef
	}
	if verified.Status != pushed.Status {
		s.logger(ctx, "payment.reconcile.report_superseded", map[string]any{
			"orderID":       order.ID,
			"intentRef":     pushed.IntentRef,
			"pushedStatus":  string(pushed.Status),
			"currentStatus": string(verified.Status),
		})
	}
	return verified, nil
}

// ReconcilePending re-queries the processor for pending orders whose intent has gone quiet.
func (s *paymentService) ReconcilePending(ctx context.Context, cmd ReconcilePendingCommand) (ReconcilePendingResult, error) {
	age := cmd.OlderThan
	if age <= 0 {
		age = defaultPendingAge
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultPendingLimit
	}

	orders, err := s.orders.ListAwaitingPayment(ctx, s.now().Add(-age), limit)
	if err != nil {
		return ReconcilePendingResult{}, mapOrderRepositoryError(err)
	}

	var result ReconcilePendingResult
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		res, err := s.ReconcileWithProcessor(ctx, ReconcileCommand{OrderID: order.ID, IntentRef: order.PaymentIntentRef})
		if err != nil {
			result.Errors++
			s.logger(ctx, "payment.reconcile_pending.order_failed", map[string]any{
				"orderID": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		switch res.Outcome {
		case ReconcileOutcomePaid:
			result.Paid++
		case ReconcileOutcomeFailed:
			result.Failed++
		case ReconcileOutcomeCanceled:
			result.Canceled++
		default:
			result.Pending++
		}
	}

	s.logger(ctx, "payment.reconcile_pending.completed", map[string]any{
		"checked":  result.Checked,
		"paid":     result.Paid,
		"failed":   result.Failed,
		"canceled": result.Canceled,
		"errors":   result.Errors,
	})
	return result, nil
}

// apply runs the state transition for report under the per-order lock.
func (s *paymentService) apply(ctx context.Context, orderID string, report ProcessorReport) (ReconcileResult, error) {
	var (
		outcome        ReconcileOutcome
		alreadyApplied bool
	)
	now := s.now()
	order, err := s.orders.Mutate(ctx, orderID, func(current *domain.Order) (bool, error) {
		outcome, alreadyApplied = ReconcileOutcomeIgnored, false

		transition, err := decideTransition(*current, report)
		if err != nil {
			return false, err
		}
		outcome, alreadyApplied = transition.outcome, transition.alreadyApplied
		if transition.status == "" {
			return false, nil
		}
		current.PaymentStatus = transition.status
		if transition.status == domain.PaymentStatusSucceeded {
			current.PaidAt = &now
		}
		current.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrIntentMismatch):
			s.logger(ctx, "payment.reconcile.intent_mismatch", map[string]any{
				"orderID":      orderID,
				"reportedRef":  report.IntentRef,
				"reportStatus": string(report.Status),
				"source":       report.Source,
			})
			return ReconcileResult{}, err
		case errors.Is(err, ErrAmountMismatch):
			s.logger(ctx, "payment.reconcile.amount_mismatch", map[string]any{
				"orderID":      orderID,
				"intentRef":    report.IntentRef,
				"chargedCents": report.ChargedAmountCents,
				"currency":     report.Currency,
				"source":       report.Source,
			})
			return ReconcileResult{}, err
		}
		return ReconcileResult{}, mapOrderRepositoryError(err)
	}

	if outcome == ReconcileOutcomeIgnored && report.Status == payments.StatusSucceeded {
		s.logger(ctx, "payment.reconcile.terminal_state_mismatch", map[string]any{
			"orderID":   order.ID,
			"intentRef": report.IntentRef,
			"status":    string(order.PaymentStatus),
			"source":    report.Source,
		})
	}
	s.logger(ctx, "payment.reconciled", map[string]any{
		"orderID":        order.ID,
		"intentRef":      report.IntentRef,
		"outcome":        string(outcome),
		"alreadyApplied": alreadyApplied,
		"source":         report.Source,
	})
	if !alreadyApplied {
		switch outcome {
		case ReconcileOutcomePaid:
			publishOrderEvent(ctx, s.events, s.logger, orderEvent(orderEventPaid, order, now))
		case ReconcileOutcomeFailed:
			publishOrderEvent(ctx, s.events, s.logger, orderEvent(orderEventPaymentFailed, order, now))
		case ReconcileOutcomeCanceled:
			publishOrderEvent(ctx, s.events, s.logger, orderEvent(orderEventPaymentCanceled, order, now))
		}
	}
	return ReconcileResult{Order: order, Outcome: outcome, AlreadyApplied: alreadyApplied}, nil
}

type transition struct {
	status         domain.PaymentStatus
	outcome        ReconcileOutcome
	alreadyApplied bool
}

// decideTransition maps a processor report onto the order's payment state. An empty status means no write.
func decideTransition(order domain.Order, report ProcessorReport) (transition, error) {
	if order.PaymentStatus == domain.PaymentStatusSucceeded {
		return transition{outcome: ReconcileOutcomePaid, alreadyApplied: true}, nil
	}

	if report.IntentRef == "" || report.IntentRef != order.PaymentIntentRef {
		if report.Status == payments.StatusSucceeded {
			return transition{}, fmt.Errorf("%w: %q succeeded but order tracks %q", ErrIntentMismatch, report.IntentRef, order.PaymentIntentRef)
		}
		return transition{outcome: ReconcileOutcomeIgnored}, nil
	}

	// failed and canceled are left only by a new payment attempt.
	switch order.PaymentStatus {
	case domain.PaymentStatusFailed:
		if report.Status == payments.StatusFailed {
			return transition{outcome: ReconcileOutcomeFailed, alreadyApplied: true}, nil
		}
		return transition{outcome: ReconcileOutcomeIgnored}, nil
	case domain.PaymentStatusCanceled:
		if report.Status == payments.StatusCanceled {
			return transition{outcome: ReconcileOutcomeCanceled, alreadyApplied: true}, nil
		}
		return transition{outcome: ReconcileOutcomeIgnored}, nil
	}

	switch report.Status {
	case payments.StatusSucceeded:
		if report.ChargedAmountCents != order.TotalPriceCents || !strings.EqualFold(report.Currency, order.Currency) {
			return transition{}, fmt.Errorf("%w: charged %d %s, total %d %s", ErrAmountMismatch,
				report.ChargedAmountCents, strings.ToUpper(report.Currency), order.TotalPriceCents, order.Currency)
		}
		return transition{status: domain.PaymentStatusSucceeded, outcome: ReconcileOutcomePaid}, nil
	case payments.StatusFailed:
		return transition{status: domain.PaymentStatusFailed, outcome: ReconcileOutcomeFailed}, nil
	case payments.StatusCanceled:
		return transition{status: domain.PaymentStatusCanceled, outcome: ReconcileOutcomeCanceled}, nil
	default:
		return transition{outcome: ReconcileOutcomePending}, nil
	}
}

func intentReusable(intent payments.Intent, order Order) bool {
	return intent.Status == payments.StatusPending &&
		intent.ClientSecret != "" &&
		intent.AmountCents == order.TotalPriceCents &&
		strings.EqualFold(intent.Currency, order.Currency)
}

func (s *paymentService) load(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *paymentService) loadAuthorized(ctx context.Context, orderID, actorID string, isAdmin bool) (Order, error) {
	if strings.TrimSpace(actorID) == "" {
		return Order{}, ErrUnauthenticated
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !isAdmin && !order.OwnedBy(actorID) {
		return Order{}, ErrNotAuthorized
	}
	return order, nil
}

func (s *paymentService) mapProcessorError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrUnsupportedProvider):
		return fmt.Errorf("%w: %v", ErrPaymentMethodUnsupported, err)
	case errors.Is(err, payments.ErrIntentNotFound):
		return fmt.Errorf("%w: %v", ErrIntentMismatch, err)
	case errors.Is(err, context.Canceled):
		return err
	case payments.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrProcessorRejected, err)
	}
}

func (s *paymentService) now() time.Time {
	return s.clock()
}
