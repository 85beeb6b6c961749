package editloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/loom/dialect"
	"github.com/martinemde/loom/llm"
)

// newEngineSession builds a session over a temp project with one editable
// file a.txt containing "hello".
func newEngineSession(t *testing.T, prompt string) *Session {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	sess, err := NewSession(root, "tags", "scripted", prompt)
	require.NoError(t, err)
	require.NoError(t, sess.AddEditable("a.txt"))
	return sess
}

func newTestEngine(t *testing.T, sess *Session, provider llm.Provider) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NoCheck = true
	return NewEngine(cfg, sess, dialect.NewTags(), provider, nil)
}

func drainEvents(e *Engine) []Event {
	var events []Event
	for ev := range e.Events() {
		events = append(events, ev)
	}
	return events
}

func TestEngineConvergesInOneStep(t *testing.T) {
	sess := newEngineSession(t, "append world")
	provider := llm.NewScriptedProvider(llm.ScriptedResponse{
		Text: "<write_file path=\"a.txt\">\nhello world\n</write_file>\n",
	})
	engine := newTestEngine(t, sess, provider)

	events := make(chan []Event, 1)
	go func() { events <- drainEvents(engine) }()

	final, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConverged, final)
	require.Len(t, sess.Steps, 1)

	abs, err := sess.Snapshot.Normalize("a.txt")
	require.NoError(t, err)
	content, ok := sess.Snapshot.Get(abs)
	require.True(t, ok)
	assert.Equal(t, "hello world", content)

	// The flush materialized the change to disk.
	onDisk, err := os.ReadFile(filepath.Join(sess.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(onDisk))

	// The rendered prompt embedded the editable's content.
	assert.Contains(t, sess.Steps[0].Prompt, "hello")
	assert.Contains(t, sess.Steps[0].Prompt, "append world")
	assert.Equal(t, 1, provider.Calls())

	kinds := make([]EventKind, 0)
	for _, ev := range <-events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EventSessionStart)
	assert.Contains(t, kinds, EventStepStart)
	assert.Contains(t, kinds, EventPatchApplied)
	assert.Contains(t, kinds, EventSessionEnd)
}

func TestEngineRecoversFromMalformedResponse(t *testing.T) {
	sess := newEngineSession(t, "append world")
	provider := llm.NewScriptedProvider(
		llm.ScriptedResponse{Text: "sorry, here is prose instead of tags"},
		llm.ScriptedResponse{Text: "<write_file path=\"a.txt\">\nhello world\n</write_file>\n"},
	)
	cfg := DefaultConfig()
	cfg.NoCheck = true
	engine := NewEngine(cfg, sess, dialect.NewTags(), cfg.Throttled(provider, nil), nil)
	go drainEvents(engine)

	final, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConverged, final)
	require.Len(t, sess.Steps, 2)

	// First step carries the parse failure; its diagnostic fed the second
	// prompt.
	require.NotNil(t, sess.Steps[0].Err)
	assert.Equal(t, ErrParse, sess.Steps[0].Err.Kind)
	assert.Contains(t, sess.Steps[1].Prompt, "could not be used")

	abs, err := sess.Snapshot.Normalize("a.txt")
	require.NoError(t, err)
	content, _ := sess.Snapshot.Get(abs)
	assert.Equal(t, "hello world", content)
}

func TestEngineFailsAfterRepeatedEscapingPaths(t *testing.T) {
	sess := newEngineSession(t, "append world")
	escaping := llm.ScriptedResponse{
		Text: "<write_file path=\"../secret.txt\">\nstolen\n</write_file>\n",
	}
	provider := llm.NewScriptedProvider(escaping, escaping, escaping, escaping, escaping, escaping)

	cfg := DefaultConfig()
	cfg.NoCheck = true
	cfg.RetryLimit = 2
	engine := NewEngine(cfg, sess, dialect.NewTags(), provider, nil)
	go drainEvents(engine)

	final, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, final)

	// Initial attempt plus RetryLimit corrections.
	assert.Len(t, sess.Steps, 3)
	for _, step := range sess.Steps {
		require.NotNil(t, step.Err)
		assert.Equal(t, ErrApply, step.Err.Kind)
	}

	// The snapshot never changed and nothing escaped the root.
	abs, nerr := sess.Snapshot.Normalize("a.txt")
	require.NoError(t, nerr)
	content, _ := sess.Snapshot.Get(abs)
	assert.Equal(t, "hello", content)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(sess.Root), "secret.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEngineFatalModelError(t *testing.T) {
	sess := newEngineSession(t, "append world")
	provider := llm.NewScriptedProvider(llm.ScriptedResponse{
		Err: &llm.AuthError{ProviderError: llm.ProviderError{
			CallError: llm.CallError{Message: "invalid api key"},
			Provider:  "scripted",
		}},
	})
	engine := newTestEngine(t, sess, provider)
	go drainEvents(engine)

	final, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, final)
	require.Len(t, sess.Steps, 1)
	require.NotNil(t, sess.Steps[0].Err)
	assert.Equal(t, ErrModel, sess.Steps[0].Err.Kind)
}

func TestEngineAbortDiscardsPartialStep(t *testing.T) {
	sess := newEngineSession(t, "append world")
	ctx, cancel := context.WithCancel(context.Background())

	provider := &cancellingProvider{cancel: cancel}
	engine := newTestEngine(t, sess, provider)
	go drainEvents(engine)

	final, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, final)
	assert.Empty(t, sess.Steps)

	abs, nerr := sess.Snapshot.Normalize("a.txt")
	require.NoError(t, nerr)
	content, _ := sess.Snapshot.Get(abs)
	assert.Equal(t, "hello", content)
}

// cancellingProvider cancels the session mid-call, simulating user abort
// during a model round-trip.
type cancellingProvider struct {
	cancel context.CancelFunc
}

func (p *cancellingProvider) Name() string  { return "cancelling" }
func (p *cancellingProvider) Model() string { return "cancelling" }

func (p *cancellingProvider) Prompt(ctx context.Context, req llm.Request, stream *llm.Stream) (string, error) {
	p.cancel()
	return "", &llm.AbortError{CallError: llm.CallError{Message: "cancelled", Cause: ctx.Err()}}
}

func TestEngineRunsChecksAgainstWorkspace(t *testing.T) {
	sess := newEngineSession(t, "append world")
	provider := llm.NewScriptedProvider(
		llm.ScriptedResponse{Text: "<write_file path=\"a.txt\">\nhello world\n</write_file>\n"},
		llm.ScriptedResponse{Text: "<write_file path=\"a.txt\">\nhello fixed\n</write_file>\n"},
	)

	cfg := DefaultConfig()
	cfg.RetryLimit = 3
	cfg.CheckTimeout = Duration(10 * time.Second)
	cfg.Checks = []Check{{
		Name:    "no-world",
		Command: "! grep -q world a.txt",
		Globs:   []string{"*.txt"},
	}}
	cfg.Disable = []string{"go-build", "go-test", "gofmt", "cargo-check", "cargo-fmt", "ruff-check", "ruff-format"}

	engine := NewEngine(cfg, sess, dialect.NewTags(), provider, nil)
	go drainEvents(engine)

	final, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConverged, final)
	require.Len(t, sess.Steps, 2)

	assert.Equal(t, ValidationFailed, sess.Steps[0].Validation.Status)
	require.Len(t, sess.Steps[0].Validation.Failures, 1)
	assert.Equal(t, "no-world", sess.Steps[0].Validation.Failures[0].Name)
	assert.Equal(t, ValidationPassed, sess.Steps[1].Validation.Status)

	// The corrective prompt embedded the check diagnostic and echoed the
	// rejected patch.
	assert.Contains(t, sess.Steps[1].Prompt, "no-world")
	assert.Contains(t, sess.Steps[1].Prompt, `<write_file path="a.txt">`)
}

func TestEngineAbortDuringCheckRestoresWorkspace(t *testing.T) {
	sess := newEngineSession(t, "append world")
	provider := llm.NewScriptedProvider(llm.ScriptedResponse{
		Text: "<write_file path=\"a.txt\">\nhello world\n</write_file>\n",
	})

	cfg := DefaultConfig()
	cfg.CheckTimeout = Duration(30 * time.Second)
	cfg.Checks = []Check{{
		Name:    "slow",
		Command: "sleep 10",
		Globs:   []string{"*.txt"},
	}}
	cfg.Disable = []string{"go-build", "go-test", "gofmt", "cargo-check", "cargo-fmt", "ruff-check", "ruff-format"}

	engine := NewEngine(cfg, sess, dialect.NewTags(), provider, nil)
	go drainEvents(engine)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	final, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, final)
	assert.Less(t, time.Since(start), 8*time.Second)
	assert.Empty(t, sess.Steps)

	// Cancellation during validation discards the step entirely: the
	// snapshot keeps its version and content, and the flushed file is
	// rewritten from it.
	assert.Equal(t, uint64(0), sess.Snapshot.Version())
	abs, nerr := sess.Snapshot.Normalize("a.txt")
	require.NoError(t, nerr)
	content, _ := sess.Snapshot.Get(abs)
	assert.Equal(t, "hello", content)

	onDisk, rerr := os.ReadFile(filepath.Join(sess.Root, "a.txt"))
	require.NoError(t, rerr)
	assert.Equal(t, "hello", string(onDisk))
}
