package editloop

import (
	"errors"
	"fmt"

	"github.com/martinemde/loom/dialect"
	"github.com/martinemde/loom/llm"
	"github.com/martinemde/loom/state"
)

// ErrorKind classifies a step failure and determines recovery policy.
type ErrorKind string

const (
	// ErrRender is a prompt assembly failure. Fatal.
	ErrRender ErrorKind = "render"
	// ErrModel is a model call failure after the throttle gave up. Fatal.
	ErrModel ErrorKind = "model"
	// ErrParse means the model output did not match the dialect grammar.
	// Recoverable via a corrective step.
	ErrParse ErrorKind = "parse"
	// ErrApply means the patch could not be applied to the snapshot.
	// Recoverable via a corrective step.
	ErrApply ErrorKind = "apply"
	// ErrInternal is an invariant violation. Fatal, indicates a defect.
	ErrInternal ErrorKind = "internal"
)

// StepError records why a step failed, with separate user-facing and
// model-facing messages. The model message feeds the next corrective prompt.
type StepError struct {
	Kind  ErrorKind `json:"kind"`
	User  string    `json:"user"`
	Model string    `json:"model,omitempty"`
	cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.User)
}

func (e *StepError) Unwrap() error {
	return e.cause
}

// Recoverable reports whether the failure should drive a corrective step
// rather than ending the session.
func (e *StepError) Recoverable() bool {
	return e.Kind == ErrParse || e.Kind == ErrApply
}

// Diagnostic returns the model-facing description of the failure.
func (e *StepError) Diagnostic() string {
	if e.Model != "" {
		return e.Model
	}
	return e.User
}

// classifyStepError wraps a lower-layer error as a StepError. Parse and
// apply failures carry their model-facing diagnostics forward; everything
// else is fatal.
func classifyStepError(err error) *StepError {
	var parseErr *dialect.ParseError
	if errors.As(err, &parseErr) {
		return &StepError{Kind: ErrParse, User: parseErr.User, Model: parseErr.Diagnostic(), cause: err}
	}
	var applyErr *state.ApplyError
	if errors.As(err, &applyErr) {
		return &StepError{Kind: ErrApply, User: applyErr.User, Model: applyErr.Diagnostic(), cause: err}
	}
	if !llm.IsRetryable(err) || isModelError(err) {
		return &StepError{Kind: ErrModel, User: err.Error(), cause: err}
	}
	return &StepError{Kind: ErrInternal, User: err.Error(), cause: err}
}

func isModelError(err error) bool {
	switch err.(type) {
	case *llm.AuthError, *llm.InvalidRequestError, *llm.RateLimitError,
		*llm.ServerError, *llm.NetworkError, *llm.TimeoutError, *llm.ProviderError:
		return true
	}
	return false
}

// isAbort reports whether err means the call was cancelled.
func isAbort(err error) bool {
	var abort *llm.AbortError
	return errors.As(err, &abort)
}
