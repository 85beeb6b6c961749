package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries int     `yaml:"max_retries"` // retry attempts, not counting the initial call
	BaseDelay  float64 `yaml:"base_delay"`  // initial delay in seconds
	MaxDelay   float64 `yaml:"max_delay"`   // maximum delay between retries
	Multiplier float64 `yaml:"multiplier"`  // exponential backoff factor
	Jitter     bool    `yaml:"jitter"`      // randomize delays to avoid thundering herd
	OnRetry    func(err error, attempt int, delay time.Duration) `yaml:"-"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1.0,
		MaxDelay:   60.0,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.Multiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// retryDelay resolves the wait before retry number attempt+1. A rate limit
// carrying a Retry-After header wins over the backoff schedule, except when
// it asks for more than MaxDelay; then the error surfaces instead of
// sleeping past the cap.
func retryDelay(policy RetryPolicy, attempt int, err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		after := time.Duration(*rl.RetryAfter * float64(time.Second))
		if after > time.Duration(policy.MaxDelay*float64(time.Second)) {
			return 0, false
		}
		return after, true
	}
	return policy.Delay(attempt), true
}

// Retry executes fn, retrying retryable errors up to policy.MaxRetries
// times beyond the initial call.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		delay, ok := retryDelay(policy, attempt, err)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}
		select {
		case <-ctx.Done():
			return zero, &AbortError{CallError: CallError{Message: "call cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}
	}
}
