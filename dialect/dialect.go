// Package dialect defines the textual convention used to talk to a model:
// how prompts are rendered from session material, and how raw model output
// is parsed back into a patch. Swapping dialects requires no engine changes.
package dialect

import (
	"fmt"

	"github.com/martinemde/loom/state"
)

// ContextItem is a single piece of read-only reference material included in
// a prompt.
type ContextItem struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Body   string `json:"body"`
}

// Editable pairs a workspace path with its current content.
type Editable struct {
	Path    string
	Content string
}

// PromptInput is everything a dialect needs to render one prompt.
type PromptInput struct {
	Contexts   []ContextItem
	Editables  []Editable
	UserPrompt string
}

// Dialect renders prompts and parses model responses. All methods are pure
// over their inputs.
type Dialect interface {
	// Name returns the dialect identifier.
	Name() string

	// System returns the system prompt establishing the response grammar.
	System() string

	// RenderPrompt assembles the full user prompt: context, then editable
	// file bodies, then the user's request.
	RenderPrompt(in PromptInput) (string, error)

	// RenderEditables renders just the editable file section.
	RenderEditables(eds []Editable) string

	// RenderContext renders just the context section.
	RenderContext(items []ContextItem) string

	// RenderPatch renders a patch in the dialect's response grammar, used
	// to echo prior patches back into follow-up prompts.
	RenderPatch(p *state.Patch) (string, error)

	// Parse extracts a patch from raw model output. Fails with a
	// *ParseError if the output does not match the dialect grammar.
	Parse(raw string) (*state.Patch, error)
}

// ParseError reports model output that does not match the dialect grammar.
// Model carries a diagnostic suitable for a corrective prompt.
type ParseError struct {
	User  string
	Model string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing model response: %s", e.User)
}

// Diagnostic returns the model-facing description of the failure.
func (e *ParseError) Diagnostic() string {
	return e.Model
}

func parseErrorf(format string, args ...any) *ParseError {
	msg := fmt.Sprintf(format, args...)
	return &ParseError{User: msg, Model: msg}
}
