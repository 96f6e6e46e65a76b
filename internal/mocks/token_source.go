// Package mocks provides hand-written test doubles for the interfaces the
// streaming core depends on.
package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/fablehq/fable-api/internal/generation"
)

// TokenSource is a configurable generation.TokenSource double.
type TokenSource struct {
	mu sync.Mutex

	// SubmitFunc, when set, handles Submit entirely.
	SubmitFunc func(ctx context.Context, prompt string) (generation.Stream, error)

	// Fragments is returned as one stream per Submit when SubmitFunc is
	// unset.
	Fragments []string

	// FailSubmits makes the first N Submit calls fail with SubmitErr.
	FailSubmits int
	SubmitErr   error

	// MidStreamErr, when set, is returned after all fragments instead of
	// io.EOF.
	MidStreamErr error

	submits int
	prompts []string
	streams []*FragmentStream
}

// Submit implements generation.TokenSource.
func (m *TokenSource) Submit(ctx context.Context, prompt string) (generation.Stream, error) {
	m.mu.Lock()
	m.submits++
	n := m.submits
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, prompt)
	}
	if n <= m.FailSubmits {
		return nil, m.SubmitErr
	}

	s := &FragmentStream{fragments: m.Fragments, finalErr: m.MidStreamErr}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Submits returns how many times Submit was called.
func (m *TokenSource) Submits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// LastPrompt returns the prompt of the most recent Submit.
func (m *TokenSource) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// OpenStreams reports how many issued streams have not been closed.
func (m *TokenSource) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := 0
	for _, s := range m.streams {
		if !s.Closed() {
			open++
		}
	}
	return open
}

// FragmentStream replays a fixed fragment sequence as a generation.Stream.
type FragmentStream struct {
	mu        sync.Mutex
	fragments []string
	pos       int
	finalErr  error
	closed    bool
}

// NewFragmentStream builds a stream over the given fragments.
func NewFragmentStream(fragments ...string) *FragmentStream {
	return &FragmentStream{fragments: fragments}
}

// Next implements generation.Stream.
func (s *FragmentStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

// Close implements generation.Stream.
func (s *FragmentStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *FragmentStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
