// Package editloop drives an iterative, model-assisted code-editing loop.
//
// Given a user intent, a project workspace, and contextual material, the
// engine repeatedly renders a prompt, obtains a model response, parses it
// into a patch, applies the patch atomically to a tracked snapshot of the
// workspace, and validates the result with external tooling, feeding
// failures back into a bounded sequence of corrective steps.
//
// The loop is a state machine over the session's step log: a fresh
// session gets exactly one generation step; a failing step is followed by
// corrective steps up to the retry limit; a passing step converges the
// session. Failure at any stage leaves the snapshot untouched.
package editloop
