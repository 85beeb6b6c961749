package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Throttle wraps a Provider, bounding the number of in-flight calls and
// retrying transient failures with the configured policy. Persistent errors
// (authentication, invalid request, abort) are surfaced without retry.
// Throttle itself implements Provider, so callers are unaware of it.
type Throttle struct {
	provider Provider
	sem      *semaphore.Weighted
	policy   RetryPolicy
	log      *zap.Logger
}

// NewThrottle creates a Throttle around provider. Concurrency values below
// one serialize all calls.
func NewThrottle(provider Provider, concurrency int64, policy RetryPolicy, log *zap.Logger) *Throttle {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Throttle{
		provider: provider,
		sem:      semaphore.NewWeighted(concurrency),
		policy:   policy,
		log:      log,
	}
}

func (t *Throttle) Name() string  { return t.provider.Name() }
func (t *Throttle) Model() string { return t.provider.Model() }

// Prompt acquires a concurrency slot, then calls the wrapped provider with
// bounded-backoff retry on transient errors.
func (t *Throttle) Prompt(ctx context.Context, req Request, stream *Stream) (string, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", &AbortError{CallError: CallError{Message: "cancelled waiting for call slot", Cause: err}}
	}
	defer t.sem.Release(1)

	policy := t.policy
	userHook := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		t.log.Warn("retrying model call",
			zap.String("provider", t.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if userHook != nil {
			userHook(err, attempt, delay)
		}
	}

	return Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return t.provider.Prompt(ctx, req, stream)
	})
}
