package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmProvider is the production network-backed provider, wrapping a
// gollm.LLM instance. It supports OpenAI, Anthropic, and the other backends
// gollm supports.
type GollmProvider struct {
	provider string
	model    string
	llm      gollm.LLM
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. If unset, gollm reads it from the provider's
// environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmProvider creates a GollmProvider for the given provider and model.
func NewGollmProvider(provider, model string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   8192,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the Throttle handles retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmProvider{provider: provider, model: model, llm: llm}, nil
}

func (p *GollmProvider) Name() string  { return p.provider }
func (p *GollmProvider) Model() string { return p.model }

// Prompt sends one request to the model. When the backend supports
// streaming and a stream is supplied, tokens are forwarded as they arrive;
// otherwise the full response is pushed as a single chunk.
func (p *GollmProvider) Prompt(ctx context.Context, req Request, stream *Stream) (string, error) {
	promptOpts := []gollm.PromptOption{}
	if req.System != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(req.System, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}
	prompt := gollm.NewPrompt(req.Prompt, promptOpts...)

	if req.Model != "" && req.Model != p.model {
		p.llm.SetOption("model", req.Model)
	}

	if stream != nil && p.llm.SupportsStreaming() {
		return p.promptStreaming(ctx, prompt, stream)
	}

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return "", p.classifyError(ctx, err)
	}
	if stream != nil {
		stream.Send(text)
	}
	return text, nil
}

func (p *GollmProvider) promptStreaming(ctx context.Context, prompt *gollm.Prompt, stream *Stream) (string, error) {
	ts, err := p.llm.Stream(ctx, prompt)
	if err != nil {
		return "", p.classifyError(ctx, err)
	}
	defer ts.Close()

	var full strings.Builder
	for {
		token, err := ts.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", p.classifyError(ctx, err)
		}
		if token == nil {
			continue
		}
		stream.Send(token.Text)
		full.WriteString(token.Text)
	}
	return full.String(), nil
}

// classifyError maps a gollm error onto the provider error taxonomy.
// gollm does not expose structured status codes, so classification sniffs
// the error message the same way the upstream providers format them.
func (p *GollmProvider) classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{CallError: CallError{Message: "model call cancelled", Cause: ctx.Err()}}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	base := CallError{Message: msg, Cause: err}
	pe := ProviderError{CallError: base, Provider: p.provider}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		pe.StatusCode = 401
		return &AuthError{ProviderError: pe}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		pe.StatusCode = 403
		return &AuthError{ProviderError: pe}
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request") || strings.Contains(lower, "context length"):
		pe.StatusCode = 400
		return &InvalidRequestError{ProviderError: pe}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded"):
		pe.StatusCode = 429
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server"):
		pe.StatusCode = 500
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return &TimeoutError{CallError: base}
	case strings.Contains(lower, "connection") || strings.Contains(lower, "no such host"):
		return &NetworkError{CallError: base}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}
