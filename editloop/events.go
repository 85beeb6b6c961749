package editloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart EventKind = "session_start"
	EventSessionEnd   EventKind = "session_end"
	EventStepStart    EventKind = "step_start"
	EventStepEnd      EventKind = "step_end"
	EventPrompt       EventKind = "prompt"
	EventSnippet      EventKind = "snippet"
	EventPatchApplied EventKind = "patch_applied"
	EventCheckStart   EventKind = "check_start"
	EventCheckResult  EventKind = "check_result"
	EventWarning      EventKind = "warning"
	EventError        EventKind = "error"
)

// Event is a typed progress event emitted while a session runs.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers events to the host application via a bounded channel.
// Delivery is best-effort: when the channel is full the event is dropped,
// so a slow consumer never stalls the engine.
type Emitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	mu        sync.Mutex
}

// NewEmitter creates an Emitter with a buffered channel.
func NewEmitter(sessionID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the emitter is closed or the channel is full,
// the event is silently dropped.
func (e *Emitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
