package editloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/loom/dialect"
	"github.com/martinemde/loom/llm"
	"github.com/martinemde/loom/state"
)

// Engine drives the edit loop for one session: strategy selection, prompt
// rendering, the throttled model call, patch parsing and application,
// snapshot flush, and validation. The loop is single-threaded; no two
// steps of the same session run concurrently.
type Engine struct {
	cfg      Config
	sess     *Session
	dialect  dialect.Dialect
	provider llm.Provider
	emitter  *Emitter
	log      *zap.Logger
}

// NewEngine creates an engine for sess. The provider should already be
// wrapped in a Throttle; the engine performs no retries of its own.
func NewEngine(cfg Config, sess *Session, d dialect.Dialect, provider llm.Provider, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		sess:     sess,
		dialect:  d,
		provider: provider,
		emitter:  NewEmitter(sess.ID, 256),
		log:      log,
	}
}

// Events returns the engine's progress event channel.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// Session returns the session the engine drives.
func (e *Engine) Session() *Session {
	return e.sess
}

// Run advances the session until it is terminal. Cancellation is observed
// before each model call and before each check; an aborted iteration
// discards the partial step, leaving the snapshot untouched.
func (e *Engine) Run(ctx context.Context) (SessionState, error) {
	defer e.emitter.Close()
	e.emitter.Emit(EventSessionStart, map[string]interface{}{
		"root":    e.sess.Root,
		"dialect": e.sess.Dialect,
		"model":   e.sess.Model,
	})

	for {
		if ctx.Err() != nil {
			e.sess.MarkAborted()
			break
		}

		strategy := SelectStrategy(e.cfg, e.sess)
		if strategy == nil {
			break
		}
		req, err := strategy.NextStep(e.cfg, e.dialect, e.sess)
		if err != nil {
			e.recordFatal(&StepError{Kind: ErrInternal, User: err.Error(), cause: err})
			break
		}
		if req == nil {
			break
		}

		e.emitter.Emit(EventStepStart, map[string]interface{}{
			"strategy": strategy.Name(),
			"step":     len(e.sess.Steps),
		})

		step, aborted := e.runStep(ctx, req)
		if aborted {
			e.sess.MarkAborted()
			break
		}
		if err := e.sess.AddStep(step); err != nil {
			e.log.Error("step log invariant violated", zap.Error(err))
			e.recordFatal(&StepError{Kind: ErrInternal, User: err.Error(), cause: err})
			break
		}

		e.emitter.Emit(EventStepEnd, map[string]interface{}{
			"step":   len(e.sess.Steps) - 1,
			"failed": step.Failed(),
		})
		e.log.Info("step completed",
			zap.Int("step", len(e.sess.Steps)-1),
			zap.String("strategy", strategy.Name()),
			zap.Bool("failed", step.Failed()),
			zap.Duration("elapsed", step.Elapsed),
		)
	}

	final := e.sess.State(e.cfg.RetryLimit)
	e.emitter.Emit(EventSessionEnd, map[string]interface{}{"state": string(final)})

	if final == StateFailed {
		if last := e.sess.LastStep(); last != nil && last.Err != nil {
			return final, last.Err
		}
		return final, fmt.Errorf("session failed: retry budget exhausted")
	}
	return final, nil
}

// runStep executes one iteration: render, model call, parse, apply, flush,
// validate. The returned step carries the failure, if any; aborted is true
// when the step was cancelled mid-flight and must be discarded.
func (e *Engine) runStep(ctx context.Context, req *StepRequest) (step Step, aborted bool) {
	start := time.Now()
	step.Validation = Validation{Status: ValidationNotRun}
	defer func() { step.Elapsed = time.Since(start) }()

	eds, err := e.sess.editables()
	if err != nil {
		step.Err = &StepError{Kind: ErrRender, User: err.Error(), cause: err}
		return step, false
	}
	prompt, err := e.dialect.RenderPrompt(dialect.PromptInput{
		Contexts:   e.sess.Contexts,
		Editables:  eds,
		UserPrompt: req.UserPrompt,
	})
	if err != nil {
		step.Err = &StepError{Kind: ErrRender, User: err.Error(), cause: err}
		return step, false
	}
	step.Prompt = prompt
	e.emitter.Emit(EventPrompt, map[string]interface{}{"chars": len(prompt)})

	raw, err := e.callModel(ctx, prompt)
	if err != nil {
		if isAbort(err) {
			return step, true
		}
		step.Err = classifyStepError(err)
		return step, false
	}
	step.RawResponse = raw

	patch, err := e.dialect.Parse(raw)
	if err != nil {
		step.Err = classifyStepError(err)
		return step, false
	}
	step.Patch = patch

	// The session snapshot is not touched until the step is known to be
	// kept. The applied snapshot stays local through flush and validation
	// so a cancelled step leaves neither memory nor disk mutated.
	next, err := e.sess.Snapshot.Apply(patch)
	if err != nil {
		step.Err = classifyStepError(err)
		return step, false
	}

	touched := patch.Paths()
	if err := next.Flush(); err != nil {
		e.restoreWorkspace()
		step.Err = &StepError{Kind: ErrApply, User: fmt.Sprintf("flush snapshot: %v", err), cause: err}
		return step, false
	}

	validation, aborted := e.runChecks(ctx, next, touched)
	if aborted {
		e.restoreWorkspace()
		return step, true
	}

	e.sess.Snapshot = next
	e.emitter.Emit(EventPatchApplied, map[string]interface{}{
		"paths":   patch.Paths(),
		"version": next.Version(),
	})
	step.Validation = validation
	return step, false
}

// restoreWorkspace rewrites the tracked files from the session snapshot
// after an uncommitted flush. Failures here are only logged; the snapshot
// itself is already consistent.
func (e *Engine) restoreWorkspace() {
	if err := e.sess.Snapshot.Flush(); err != nil {
		e.log.Error("restoring workspace from snapshot", zap.Error(err))
	}
}

// callModel performs the throttled model round-trip, forwarding streamed
// chunks to the event channel as snippets.
func (e *Engine) callModel(ctx context.Context, prompt string) (string, error) {
	stream := llm.NewStream(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range stream.Recv() {
			e.emitter.Emit(EventSnippet, map[string]interface{}{"text": chunk})
		}
	}()

	raw, err := e.provider.Prompt(ctx, llm.Request{
		Model:  e.sess.Model,
		System: e.dialect.System(),
		Prompt: prompt,
	}, stream)
	stream.Close()
	wg.Wait()
	return raw, err
}

// runChecks executes the configured, relevant, runnable checks against
// the flushed workspace. Formatter checks may rewrite files, so their
// touched paths are re-read into the candidate snapshot afterward.
func (e *Engine) runChecks(ctx context.Context, snap *state.Snapshot, touched []string) (Validation, bool) {
	var failures []CheckResult
	ran := 0
	for _, check := range e.cfg.EnabledChecks() {
		if !check.IsRelevant(touched) {
			continue
		}
		if err := check.Runnable(); err != nil {
			e.emitter.Emit(EventWarning, map[string]interface{}{"check": check.Name, "error": err.Error()})
			e.log.Warn("skipping check", zap.String("check", check.Name), zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			return Validation{}, true
		}

		e.emitter.Emit(EventCheckStart, map[string]interface{}{"check": check.Name})
		result := check.Run(ctx, e.sess.Root, time.Duration(e.cfg.CheckTimeout))
		ran++
		if ctx.Err() != nil {
			return Validation{}, true
		}
		e.emitter.Emit(EventCheckResult, map[string]interface{}{
			"check":  check.Name,
			"passed": result == nil,
		})
		if result != nil {
			failures = append(failures, *result)
			continue
		}
		if check.Format {
			if err := snap.Reload(touched); err != nil {
				failures = append(failures, CheckResult{
					Name:  check.Name,
					User:  fmt.Sprintf("re-reading formatted files: %v", err),
					Model: fmt.Sprintf("formatter %s ran but files could not be re-read: %v", check.Name, err),
				})
			}
		}
	}

	if ran == 0 {
		return Validation{Status: ValidationNotRun}, false
	}
	if len(failures) > 0 {
		return Validation{Status: ValidationFailed, Failures: failures}, false
	}
	return Validation{Status: ValidationPassed}, false
}

// recordFatal appends a step carrying a fatal error so the failure is
// attached to the log. Append failures here are unrecoverable and only
// logged.
func (e *Engine) recordFatal(stepErr *StepError) {
	e.emitter.Emit(EventError, map[string]interface{}{
		"kind":  string(stepErr.Kind),
		"error": stepErr.User,
	})
	step := Step{Err: stepErr, Validation: Validation{Status: ValidationNotRun}}
	if err := e.sess.AddStep(step); err != nil {
		e.log.Error("recording fatal step", zap.Error(err))
	}
}
