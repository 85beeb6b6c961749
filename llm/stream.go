package llm

import "sync"

// Stream delivers partial model output to a consumer. The channel is
// bounded and lossy: when the buffer is full the newest chunk is dropped,
// so a slow consumer never blocks the provider. Chunks are ordered within
// a single stream; no guarantee is made across streams.
type Stream struct {
	ch      chan string
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewStream creates a Stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{ch: make(chan string, buffer)}
}

// Send pushes a chunk without blocking. If the stream is closed or the
// buffer is full, the chunk is dropped.
func (s *Stream) Send(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		return
	}
	select {
	case s.ch <- text:
	default:
		s.dropped++
	}
}

// Recv returns the read side of the stream.
func (s *Stream) Recv() <-chan string {
	return s.ch
}

// Dropped returns the number of chunks dropped so far.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the stream. Safe to call multiple times.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
