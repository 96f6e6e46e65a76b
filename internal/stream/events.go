// Package stream contains the orchestrator that drives one generation
// request: it guards admission, opens the token source under the retry
// executor, forwards progress as events, and finalizes the accumulated
// output into a structured result or a single terminal error.
package stream

import (
	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/fablehq/fable-api/internal/generation"
)

// EventType discriminates the event variants on the wire.
type EventType string

const (
	// EventStream carries one text fragment of the response.
	EventStream EventType = "stream"

	// EventRetry surfaces an internal retry so long generations show
	// progress instead of appearing stalled.
	EventRetry EventType = "retry"

	// EventComplete carries the parsed result. Terminal.
	EventComplete EventType = "complete"

	// EventError carries a normalized failure. Terminal.
	EventError EventType = "error"
)

// Event is the tagged variant emitted to the sink. Which fields are
// populated depends on Type; JSON omits the rest.
type Event struct {
	Type EventType `json:"type"`

	// stream
	Content string `json:"content,omitempty"`

	// retry
	Attempt int    `json:"attempt,omitempty"`
	DelayMs int64  `json:"delay_ms,omitempty"`
	Message string `json:"message,omitempty"`

	// complete
	Data *generation.Story `json:"data,omitempty"`

	// error (Message is shared with retry)
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func streamEvent(content string) Event {
	return Event{Type: EventStream, Content: content}
}

func retryEvent(attempt int, delayMs int64, message string) Event {
	return Event{Type: EventRetry, Attempt: attempt, DelayMs: delayMs, Message: message}
}

func completeEvent(story *generation.Story) Event {
	return Event{Type: EventComplete, Data: story}
}

func errorEvent(err *apperrors.Error) Event {
	return Event{
		Type:    EventError,
		Message: err.Message,
		Code:    err.Kind.Code(),
		Details: err.Details,
	}
}

// Sink receives the event stream for one request. The orchestrator closes
// it exactly once on every exit path. Flow control is the sink's concern:
// Send may block or buffer, and its error signals the caller is gone.
type Sink interface {
	Send(event Event) error
	Close() error
}
