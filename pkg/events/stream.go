package events

import (
	"context"
	"sync"
)

// defaultBuffer absorbs bursts of message chunks without blocking the driver.
const defaultBuffer = 256

// Stream is the single ordered event channel for one request.
// The graph driver is the only producer; the transport drains Events().
// Emit never blocks forever: when the consumer is gone the request context
// is cancelled and Emit drops the event.
type Stream struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewStream creates a stream with the default buffer.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, defaultBuffer)}
}

// Emit appends an event to the stream. Returns false when the context was
// cancelled before the event could be delivered.
func (s *Stream) Emit(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close terminates the stream. Safe to call more than once.
// Only the producer (the driver) may call Close.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Drain collects all remaining events. Test helper — blocks until Close.
func Drain(s *Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}
