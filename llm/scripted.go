package llm

import (
	"context"
	"sync"
)

// ScriptedResponse is one canned reply served by a ScriptedProvider.
type ScriptedResponse struct {
	Text string
	Err  error
}

// ScriptedProvider serves a fixed sequence of responses and records every
// request it receives. It exists for tests and offline dry runs.
type ScriptedProvider struct {
	mu        sync.Mutex
	name      string
	model     string
	responses []ScriptedResponse
	requests  []Request
}

// NewScriptedProvider creates a provider that replies with the given
// responses in order. Once the script is exhausted, further calls return
// an InvalidRequestError.
func NewScriptedProvider(responses ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{
		name:      "scripted",
		model:     "scripted",
		responses: responses,
	}
}

func (p *ScriptedProvider) Name() string  { return p.name }
func (p *ScriptedProvider) Model() string { return p.model }

// Prompt pops the next scripted response. Text responses are also pushed
// onto the stream so callers exercise the same path as live providers.
func (p *ScriptedProvider) Prompt(ctx context.Context, req Request, stream *Stream) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &AbortError{CallError: CallError{Message: "model call cancelled", Cause: err}}
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		p.mu.Unlock()
		return "", &InvalidRequestError{ProviderError: ProviderError{
			CallError: CallError{Message: "scripted provider exhausted"},
			Provider:  p.name,
		}}
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	p.mu.Unlock()

	if next.Err != nil {
		return "", next.Err
	}
	if stream != nil {
		stream.Send(next.Text)
	}
	return next.Text, nil
}

// Requests returns a copy of every request seen so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls reports how many times Prompt has been invoked.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
