package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultMaxAttempts = 3
)

// RetryOption customises a RetryingProcessor.
type RetryOption func(*RetryingProcessor)

// WithCallTimeout bounds every individual processor call.
func WithCallTimeout(d time.Duration) RetryOption {
	return func(p *RetryingProcessor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxAttempts caps the number of attempts per operation, including the first.
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryingProcessor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff overrides the pause schedule between attempts.
func WithBackoff(b gax.Backoff) RetryOption {
	return func(p *RetryingProcessor) {
		p.backoff = b
	}
}

// WithSleeper replaces the pause implementation, primarily for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) RetryOption {
	return func(p *RetryingProcessor) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// RetryingProcessor bounds processor calls with a timeout and retries transient failures.
type RetryingProcessor struct {
	next        Processor
	timeout     time.Duration
	maxAttempts int
	backoff     gax.Backoff
	sleep       func(context.Context, time.Duration) error
}

var _ Processor = (*RetryingProcessor)(nil)

// NewRetryingProcessor wraps next with timeout and retry behaviour.
func NewRetryingProcessor(next Processor, opts ...RetryOption) *RetryingProcessor {
	p := &RetryingProcessor{
		next:        next,
		timeout:     defaultCallTimeout,
		maxAttempts: defaultMaxAttempts,
		backoff: gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
		sleep: gax.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CreateIntent retries intent creation. Callers must supply an idempotency key so retries
// resolve to the same processor-side intent.
func (p *RetryingProcessor) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	return p.do(ctx, func(ctx context.Context) (Intent, error) {
		return p.next.CreateIntent(ctx, req)
	})
}

// LookupIntent retries intent lookups.
func (p *RetryingProcessor) LookupIntent(ctx context.Context, ref string) (Intent, error) {
	return p.do(ctx, func(ctx context.Context) (Intent, error) {
		return p.next.LookupIntent(ctx, ref)
	})
}

func (p *RetryingProcessor) do(ctx context.Context, call func(context.Context) (Intent, error)) (Intent, error) {
	if p == nil || p.next == nil {
		return Intent{}, errors.New("payments: retrying processor not configured")
	}
	backoff := p.backoff
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		intent, err := p.attempt(ctx, call)
		if err == nil {
			return intent, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == p.maxAttempts {
			break
		}
		if sleepErr := p.sleep(ctx, backoff.Pause()); sleepErr != nil {
			return Intent{}, fmt.Errorf("%w: %v", ErrTransient, sleepErr)
		}
	}
	return Intent{}, lastErr
}

func (p *RetryingProcessor) attempt(ctx context.Context, call func(context.Context) (Intent, error)) (Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	intent, err := call(callCtx)
	if err == nil {
		return intent, nil
	}
	// A per-call deadline is an unknown outcome, not a failure.
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
		return Intent{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return Intent{}, err
}
