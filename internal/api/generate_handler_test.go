package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fablehq/fable-api/internal/mocks"
	"github.com/fablehq/fable-api/internal/ratelimit"
	"github.com/fablehq/fable-api/internal/retry"
	"github.com/fablehq/fable-api/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var handlerFragments = []string{
	`{"title":"The Clockmaker",`, `"paragraphs":["Tick.","Tock."]}`,
}

func newTestHandler(t *testing.T, source *mocks.TokenSource, limit ratelimit.Config) *GenerateHandler {
	t.Helper()
	store := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{
		MaxRetries:        1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	orch := stream.New(source, policy, logger)
	return NewGenerateHandler(orch, store, limit, logger)
}

func postGenerate(h *GenerateHandler, body, clientIP string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	if clientIP != "" {
		r.Header.Set("X-Forwarded-For", clientIP)
	}
	rec := httptest.NewRecorder()
	h.Generate(rec, r)
	return rec
}

func TestGenerateStreamsStory(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 5})

	rec := postGenerate(h, `{"prompt":"a clockmaker"}`, "203.0.113.7")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	events := decodeSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventComplete, last.Type)
	require.NotNil(t, last.Data)
	assert.Equal(t, "The Clockmaker", last.Data.Title)
	assert.Equal(t, "a clockmaker", source.LastPrompt())
}

func TestGenerateRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 5})

	rec := postGenerate(h, `{"prompt":`, "203.0.113.7")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Zero(t, source.Submits())
}

func TestGenerateRejectsInvalidPrompt(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 5})

	for _, body := range []string{
		`{}`,
		`{"prompt":""}`,
		`{"prompt":"` + strings.Repeat("x", 4001) + `"}`,
	} {
		rec := postGenerate(h, body, "203.0.113.7")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Zero(t, source.Submits())
}

func TestGenerateEnforcesRateLimit(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 1})

	first := postGenerate(h, `{"prompt":"p"}`, "203.0.113.7")
	require.Equal(t, http.StatusOK, first.Code)

	second := postGenerate(h, `{"prompt":"p"}`, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, second.Body.String(), "Rate limit exceeded")

	// Denied before any generation work began.
	assert.Equal(t, 1, source.Submits())
}

func TestGenerateRateLimitIsPerClient(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 1})

	first := postGenerate(h, `{"prompt":"p"}`, "203.0.113.7")
	require.Equal(t, http.StatusOK, first.Code)

	other := postGenerate(h, `{"prompt":"p"}`, "198.51.100.4")
	assert.Equal(t, http.StatusOK, other.Code)
}

// brokenStore simulates an unavailable backing store.
type brokenStore struct{}

func (brokenStore) Check(context.Context, string, ratelimit.Config) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("store unavailable")
}

func (brokenStore) Status(context.Context, string, ratelimit.Config) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("store unavailable")
}

func (brokenStore) Clear(context.Context) error { return nil }
func (brokenStore) Close() error                { return nil }

func TestGenerateFailsOpenWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{Fragments: handlerFragments}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{
		MaxRetries:        0,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 2,
	}
	h := NewGenerateHandler(
		stream.New(source, policy, logger),
		brokenStore{},
		ratelimit.Config{Window: time.Minute, Max: 1},
		logger,
	)

	rec := postGenerate(h, `{"prompt":"p"}`, "203.0.113.7")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, source.Submits())
}

func TestGenerateSurfacesUpstreamFailureAsErrorEvent(t *testing.T) {
	t.Parallel()

	source := &mocks.TokenSource{
		FailSubmits: 100,
		SubmitErr:   io.ErrUnexpectedEOF,
	}
	h := newTestHandler(t, source, ratelimit.Config{Window: time.Minute, Max: 5})

	rec := postGenerate(h, `{"prompt":"p"}`, "203.0.113.7")

	// The stream was already committed as 200; the failure arrives in-band.
	assert.Equal(t, http.StatusOK, rec.Code)
	events := decodeSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventError, last.Type)
	assert.NotEmpty(t, last.Code)
}
