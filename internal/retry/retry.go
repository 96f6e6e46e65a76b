// Package retry provides a generic executor that re-invokes a failing
// operation with bounded retries, exponential backoff, optional jitter and
// a per-attempt timeout race. Which errors are worth retrying is decided
// by a classifier dispatching on the error kind, not on type identity.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/fablehq/fable-api/internal/apperrors"
)

// Policy configures the retry loop. The zero value performs a single
// attempt with no timeout.
type Policy struct {
	// MaxRetries is the number of re-invocations after the first attempt.
	// The operation runs at most MaxRetries+1 times.
	MaxRetries int

	// BaseDelay seeds the backoff sequence.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay each attempt:
	// delay = min(MaxDelay, BaseDelay * BackoffMultiplier^attempt).
	BackoffMultiplier float64

	// Jitter randomizes each delay proportionally: delay * (0.5 + r*0.5)
	// with r uniform in [0,1), i.e. the final delay lands in
	// [delay/2, delay). Keeps many callers from retrying in lockstep.
	Jitter bool

	// Timeout, when positive, races every attempt against a deadline. A
	// lost race yields a timeout-kind error. The abandoned operation is
	// not cancelled beyond context propagation; its eventual result is
	// discarded, never merged into a later attempt.
	Timeout time.Duration

	// ShouldRetry overrides the default classifier. It receives the error
	// and the zero-based attempt number.
	ShouldRetry func(err error, attempt int) bool

	// OnRetry is a side-channel notification invoked before each backoff
	// sleep with the failure, the one-based number of the upcoming
	// attempt, and the computed delay.
	OnRetry func(err error, attempt int, delay time.Duration)

	// sleep and jitterRand are test seams.
	sleep      func(ctx context.Context, d time.Duration) error
	jitterRand func() float64
}

// Do invokes op under the policy and returns its first successful result,
// or the final non-retryable or exhausted error.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	policy = normalize(policy)
	classifier := policy.ShouldRetry
	if classifier == nil {
		classifier = DefaultShouldRetry
	}

	attempt := 0
	for {
		v, err := runAttempt(ctx, policy.Timeout, op)
		if err == nil {
			return v, nil
		}

		if attempt >= policy.MaxRetries || !classifier(err, attempt) {
			return zero, err
		}

		delay := policy.delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}
		if sleepErr := policy.sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
		attempt++
	}
}

// runAttempt executes one invocation, racing it against the timeout when
// set. The result channel is buffered so a timed-out operation that later
// settles writes into the void instead of blocking or leaking into the
// next attempt.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if timeout <= 0 {
		return op(ctx)
	}

	type outcome struct {
		v   T
		err error
	}
	results := make(chan outcome, 1)

	go func() {
		v, err := op(ctx)
		results <- outcome{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-results:
		return out.v, out.err
	case <-timer.C:
		return zero, apperrors.Timeout("operation exceeded timeout of " + timeout.String())
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// DefaultShouldRetry retries timeouts, transient upstream failures and
// known transient network errors. Validation, rate-limit and parse
// failures are terminal, as are unclassified errors.
func DefaultShouldRetry(err error, _ int) bool {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperrors.KindTimeout:
			return true
		case apperrors.KindUpstream:
			return appErr.Transient
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// delay computes the backoff before attempt+1, applying the cap and the
// optional proportional jitter.
func (p Policy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if capped := float64(p.MaxDelay); backoff > capped {
		backoff = capped
	}
	if p.Jitter {
		backoff *= 0.5 + p.jitterRand()*0.5
	}
	return time.Duration(backoff)
}

func normalize(p Policy) Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.jitterRand == nil {
		p.jitterRand = rand.Float64
	}
	return p
}

// sleepContext waits for d or until the context ends, whichever is first.
// No upstream connection is held open during the wait.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
