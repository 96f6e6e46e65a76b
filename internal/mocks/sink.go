package mocks

import (
	"sync"

	"github.com/fablehq/fable-api/internal/stream"
)

// Sink records every event it receives and counts Close calls.
type Sink struct {
	mu sync.Mutex

	// SendErr, when set, is returned by Send after AcceptFirst events.
	SendErr     error
	AcceptFirst int

	events []stream.Event
	closes int
}

// Send implements stream.Sink.
func (s *Sink) Send(event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil && len(s.events) >= s.AcceptFirst {
		return s.SendErr
	}
	s.events = append(s.events, event)
	return nil
}

// Close implements stream.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Events returns a copy of everything received so far.
func (s *Sink) Events() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Closes reports how many times Close was called.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
