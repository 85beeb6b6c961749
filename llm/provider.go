// Package llm provides the model call layer: a provider interface for one
// model round-trip, an error taxonomy with retryability classification, a
// bounded token stream for partial output, and a throttle that caps
// concurrency and retries transient failures with exponential backoff.
package llm

import "context"

// Request is the input for one model round-trip.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider performs one model round-trip. Implementations must return raw
// model text; parsing into a patch is the dialect's job. If stream is
// non-nil, partial output is pushed to it as it arrives; a slow or absent
// consumer must never block the call.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic" or "scripted".
	Name() string

	// Model returns the model identifier used for calls.
	Model() string

	// Prompt sends a request and returns the complete raw response text.
	Prompt(ctx context.Context, req Request, stream *Stream) (string, error)
}
