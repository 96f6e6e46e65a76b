package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/fablehq/fable-api/internal/generation"
	"github.com/fablehq/fable-api/internal/retry"
)

// State tracks where a request is in its lifecycle. Idle and Done/Failed
// are the terminal boundaries.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleting
	StateDone
	StateFailed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Guard is consulted before any streaming begins. A non-nil error denies
// the request: no token source is opened and the denial becomes the only
// event emitted.
type Guard func(ctx context.Context) error

// Request describes one generation run.
type Request struct {
	Prompt string
	Guard  Guard
}

// Orchestrator drives generation requests. One instance serves many
// concurrent requests; all per-request state lives inside Run.
type Orchestrator struct {
	source generation.TokenSource
	policy retry.Policy
	logger *slog.Logger
}

// New creates an orchestrator around a token source and a retry policy.
func New(source generation.TokenSource, policy retry.Policy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		source: source,
		policy: policy,
		logger: logger.With("component", "stream_orchestrator"),
	}
}

// Run executes one request: zero or more stream/retry events followed by
// exactly one terminal event, with the sink closed exactly once on every
// exit path. The lone exception to the terminal-event rule is a caller
// that has already disconnected, in which case emitting is pointless and
// Run stops quietly.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) State {
	defer func() {
		if err := sink.Close(); err != nil {
			o.logger.Warn("failed to close event sink", "error", err)
		}
	}()

	if req.Guard != nil {
		if err := req.Guard(ctx); err != nil {
			o.logger.Warn("request denied before streaming", "error", err)
			o.emitError(sink, err)
			return StateFailed
		}
	}

	// Streaming: open the source under the retry executor, surfacing each
	// internal retry to the caller.
	src, err := o.openSource(ctx, req.Prompt, sink)
	if err != nil {
		o.emitError(sink, err)
		return StateFailed
	}
	defer func() {
		if err := src.Close(); err != nil {
			o.logger.Warn("failed to close token source", "error", err)
		}
	}()

	var accumulated strings.Builder
	for {
		if ctx.Err() != nil {
			// Caller disconnected: stop emitting and release the source.
			o.logger.Info("request cancelled mid-stream", "state", StateStreaming.String())
			return StateFailed
		}

		fragment, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.emitError(sink, err)
			return StateFailed
		}
		if fragment == "" {
			continue
		}

		accumulated.WriteString(fragment)
		if err := sink.Send(streamEvent(fragment)); err != nil {
			o.logger.Info("sink rejected write, stopping stream", "error", err)
			return StateFailed
		}
	}

	// Completing: validate the accumulated output. Parse failures are
	// terminal; retrying would re-run the whole generation.
	story, err := generation.ParseStory(accumulated.String())
	if err != nil {
		o.logger.Warn("accumulated output failed validation",
			"error", err,
			"accumulated_length", accumulated.Len())
		o.emitError(sink, err)
		return StateFailed
	}

	if err := sink.Send(completeEvent(story)); err != nil {
		o.logger.Info("sink rejected terminal event", "error", err)
		return StateFailed
	}

	o.logger.Info("generation complete",
		"paragraphs", len(story.Paragraphs),
		"accumulated_length", accumulated.Len())
	return StateDone
}

// openSource submits the prompt under the retry policy, emitting a retry
// event for every internal re-attempt.
func (o *Orchestrator) openSource(ctx context.Context, prompt string, sink Sink) (generation.Stream, error) {
	policy := o.policy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		coerced := apperrors.Coerce(err)
		o.logger.Warn("retrying token source",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if sendErr := sink.Send(retryEvent(attempt, delay.Milliseconds(), coerced.Message)); sendErr != nil {
			o.logger.Warn("failed to surface retry event", "error", sendErr)
		}
		if userOnRetry != nil {
			userOnRetry(err, attempt, delay)
		}
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (generation.Stream, error) {
		return o.source.Submit(ctx, prompt)
	})
}

// emitError normalizes any failure into exactly one terminal error event.
func (o *Orchestrator) emitError(sink Sink, err error) {
	coerced := apperrors.Coerce(err)
	if sendErr := sink.Send(errorEvent(coerced)); sendErr != nil {
		o.logger.Warn("failed to emit terminal error event",
			"error", sendErr,
			"original_error", err)
	}
}
