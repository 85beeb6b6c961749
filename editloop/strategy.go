package editloop

import (
	"fmt"
	"strings"

	"github.com/martinemde/loom/dialect"
)

// StepRequest is a strategy's instruction for the next step: the user-level
// prompt text the dialect should render.
type StepRequest struct {
	UserPrompt string
}

// Strategy decides, from session history, whether another step is needed
// and what it should contain.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// NextStep computes the next step request, or nil if the strategy has
	// nothing further to do.
	NextStep(cfg Config, d dialect.Dialect, sess *Session) (*StepRequest, error)
}

// Code is the single-shot generation strategy: it produces exactly one
// step for a fresh session from the user's prompt and nothing thereafter.
type Code struct{}

func (Code) Name() string { return "code" }

func (Code) NextStep(cfg Config, d dialect.Dialect, sess *Session) (*StepRequest, error) {
	if len(sess.Steps) > 0 {
		return nil, nil
	}
	if sess.Prompt == "" {
		return nil, fmt.Errorf("session has no prompt")
	}
	return &StepRequest{UserPrompt: sess.Prompt}, nil
}

// Fix is the corrective strategy: when the previous step failed to parse,
// apply, or validate, it synthesizes a step embedding the failure
// diagnostic and requesting a corrected response. When the failing step
// carried a parsed patch, the patch is rendered back into the prompt so
// the model can see exactly what it sent. Editable content the dialect
// renders separately always comes from the current snapshot, never from
// the failed patch. Attempts are bounded by the configured retry limit.
type Fix struct{}

func (Fix) Name() string { return "fix" }

func (Fix) NextStep(cfg Config, d dialect.Dialect, sess *Session) (*StepRequest, error) {
	last := sess.LastStep()
	if last == nil || !last.Failed() {
		return nil, nil
	}
	if last.Err != nil && !last.Err.Recoverable() {
		return nil, nil
	}
	if sess.consecutiveFailures() > cfg.RetryLimit {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The previous response could not be used. The problem was:\n\n%s\n", last.Diagnostic())
	if last.Patch != nil {
		if echoed, err := d.RenderPatch(last.Patch); err == nil {
			fmt.Fprintf(&b, "\nYour previous changes were:\n\n%s\n", echoed)
		}
	}
	fmt.Fprintf(&b, "\nOriginal request:\n%s\n\nProvide a corrected response.", sess.Prompt)
	return &StepRequest{UserPrompt: b.String()}, nil
}

// SelectStrategy chooses the strategy governing the next step. It is a
// pure function of session history: Code for a fresh session, Fix while
// the previous step failed recoverably within the retry budget, nil once
// the session is terminal.
func SelectStrategy(cfg Config, sess *Session) Strategy {
	switch sess.State(cfg.RetryLimit) {
	case StateIdle:
		return Code{}
	case StateRunning:
		return Fix{}
	default:
		return nil
	}
}
