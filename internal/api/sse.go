package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/fablehq/fable-api/internal/stream"
)

// SSEWriter adapts an http.ResponseWriter into a stream.Sink using
// server-sent-events framing: each event is one "data:" line holding the
// JSON-encoded event, followed by a blank line. Framing stays here so the
// orchestrator never learns about the wire format.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewSSEWriter prepares the response for event streaming and returns the
// sink. The ok result is false when the writer cannot flush incrementally.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSEWriter{w: w, flusher: flusher}, true
}

// Send implements stream.Sink. Each event is flushed immediately so clients
// observe fragments as they are produced.
func (s *SSEWriter) Send(event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return http.ErrBodyNotAllowed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Close implements stream.Sink. Further Sends fail; closing twice is a no-op.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
