package editloop

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/loom/dialect"
	"github.com/martinemde/loom/state"
)

// SessionState is the derived lifecycle state of a session.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateRunning   SessionState = "running"
	StateConverged SessionState = "converged"
	StateFailed    SessionState = "failed"
	StateAborted   SessionState = "aborted"
)

// ValidationStatus describes a step's validation outcome.
type ValidationStatus string

const (
	ValidationNotRun ValidationStatus = "not_run"
	ValidationPassed ValidationStatus = "passed"
	ValidationFailed ValidationStatus = "failed"
)

// Validation is the outcome of running checks after a patch was applied.
type Validation struct {
	Status   ValidationStatus `json:"status"`
	Failures []CheckResult    `json:"failures,omitempty"`
}

// Step records one engine iteration. Steps are immutable once appended;
// a step's position in the log is its identity.
type Step struct {
	Prompt      string        `json:"prompt"`
	RawResponse string        `json:"raw_response,omitempty"`
	Patch       *state.Patch  `json:"patch,omitempty"`
	Validation  Validation    `json:"validation"`
	Err         *StepError    `json:"err,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Failed reports whether the step failed, either with an error or a
// failing validation.
func (s Step) Failed() bool {
	return s.Err != nil || s.Validation.Status == ValidationFailed
}

// Diagnostic returns the model-facing description of the step's failure,
// or the empty string if the step did not fail.
func (s Step) Diagnostic() string {
	if s.Err != nil {
		return s.Err.Diagnostic()
	}
	if s.Validation.Status == ValidationFailed {
		var b []byte
		for i, f := range s.Validation.Failures {
			if i > 0 {
				b = append(b, "\n\n"...)
			}
			b = append(b, fmt.Sprintf("check %s failed:\n%s", f.Name, f.Model)...)
		}
		return string(b)
	}
	return ""
}

// Session is the aggregate root for one editing conversation: project
// root, dialect and model selection, editable set, context items, the
// append-only step log, and the file snapshot.
type Session struct {
	ID        string                `json:"id"`
	Root      string                `json:"root"`
	Dialect   string                `json:"dialect"`
	Model     string                `json:"model"`
	Prompt    string                `json:"prompt"`
	Editables []string              `json:"editables"`
	Contexts  []dialect.ContextItem `json:"contexts,omitempty"`
	Steps     []Step                `json:"steps"`
	Snapshot  *state.Snapshot       `json:"snapshot"`
	Aborted   bool                  `json:"aborted,omitempty"`

	mu sync.Mutex
}

// NewSession creates a session for the given project root. Root must be
// absolute; editable paths are tracked into the snapshot by the caller.
func NewSession(root, dialectName, model, prompt string) (*Session, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("session root must be absolute, got %q", root)
	}
	snap, err := state.NewSnapshot(root)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:       uuid.New().String(),
		Root:     filepath.Clean(root),
		Dialect:  dialectName,
		Model:    model,
		Prompt:   prompt,
		Steps:    make([]Step, 0),
		Snapshot: snap,
	}, nil
}

// AddEditable registers a path as editable and tracks its content from
// disk into the snapshot.
func (s *Session) AddEditable(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Snapshot.Track(path); err != nil {
		return err
	}
	for _, existing := range s.Editables {
		if existing == path {
			return nil
		}
	}
	s.Editables = append(s.Editables, path)
	return nil
}

// AddContext appends context items, replacing any prior item with the
// same type and source.
func (s *Session) AddContext(items ...dialect.ContextItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		replaced := false
		for i, existing := range s.Contexts {
			if existing.Type == item.Type && existing.Source == item.Source {
				s.Contexts[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			s.Contexts = append(s.Contexts, item)
		}
	}
}

// AddStep appends a step to the log. A new step is rejected while the
// previous one has neither a response nor an error.
func (s *Session) AddStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.Steps); n > 0 {
		prev := s.Steps[n-1]
		if prev.RawResponse == "" && prev.Err == nil {
			return fmt.Errorf("cannot add step: step %d is incomplete", n-1)
		}
	}
	s.Steps = append(s.Steps, step)
	return nil
}

// LastStep returns the most recent step, or nil if the log is empty.
func (s *Session) LastStep() *Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Steps) == 0 {
		return nil
	}
	step := s.Steps[len(s.Steps)-1]
	return &step
}

// MarkAborted records that the session was cancelled. A discarded partial
// step leaves no trace in the log, so cancellation is the one lifecycle
// fact that cannot be derived from history.
func (s *Session) MarkAborted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aborted = true
}

// editables returns the current editable paths paired with their snapshot
// content, relative to the project root.
func (s *Session) editables() ([]dialect.Editable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var eds []dialect.Editable
	for _, path := range s.Editables {
		abs, err := s.Snapshot.Normalize(path)
		if err != nil {
			return nil, err
		}
		content, ok := s.Snapshot.Get(abs)
		if !ok {
			return nil, &state.NotFoundError{Path: path}
		}
		rel, err := filepath.Rel(s.Root, abs)
		if err != nil {
			rel = path
		}
		eds = append(eds, dialect.Editable{Path: rel, Content: content})
	}
	return eds, nil
}

// consecutiveFailures counts the unbroken run of failed steps at the tail
// of the log.
func (s *Session) consecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if !s.Steps[i].Failed() {
			break
		}
		n++
	}
	return n
}

// State derives the session's lifecycle state from the step log. The
// retry limit bounds corrective attempts: a failing step may be followed
// by at most retryLimit corrections before the session fails.
func (s *Session) State(retryLimit int) SessionState {
	s.mu.Lock()
	aborted := s.Aborted
	steps := len(s.Steps)
	var last Step
	if steps > 0 {
		last = s.Steps[steps-1]
	}
	s.mu.Unlock()

	switch {
	case aborted:
		return StateAborted
	case steps == 0:
		return StateIdle
	case !last.Failed():
		return StateConverged
	case last.Err != nil && !last.Err.Recoverable():
		return StateFailed
	case s.consecutiveFailures() > retryLimit:
		return StateFailed
	default:
		return StateRunning
	}
}
