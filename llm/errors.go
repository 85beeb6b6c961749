package llm

import "fmt"

// CallError is the base error type for model call failures.
type CallError struct {
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by a model provider.
type ProviderError struct {
	CallError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from a Retry-After header if present
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

// AuthError is an authentication or authorization failure. Never retried.
type AuthError struct{ ProviderError }

// InvalidRequestError is a malformed or rejected request. Never retried.
type InvalidRequestError struct{ ProviderError }

// RateLimitError indicates the provider throttled the call. Retryable.
type RateLimitError struct{ ProviderError }

// ServerError is a provider-side failure. Retryable.
type ServerError struct{ ProviderError }

// Non-provider errors.

// NetworkError is a transport-level failure. Retryable.
type NetworkError struct{ CallError }

// TimeoutError indicates the call exceeded its deadline. Retryable.
type TimeoutError struct{ CallError }

// AbortError indicates the call was cancelled. Never retried.
type AbortError struct{ CallError }

// IsRetryable reports whether the error is safe to retry. Unknown errors
// default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthError:
		return false
	case *InvalidRequestError:
		return false
	case *AbortError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *NetworkError:
		return true
	case *TimeoutError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		return true
	}
}
