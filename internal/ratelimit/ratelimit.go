// Package ratelimit implements a per-key sliding-window request limiter.
// Each key tracks a log of request timestamps inside a moving window; a
// check prunes expired timestamps and admits the request only while fewer
// than Max survive. Stores are explicit injected values with a defined
// lifecycle (empty at construction, periodic sweep, Clear for tests) so
// multiple isolated instances can coexist and tests stay deterministic.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/fablehq/fable-api/internal/apperrors"
)

// Config describes one limit: at most Max requests per Window.
type Config struct {
	Window time.Duration
	Max    int
}

// Result is the outcome of a single check.
type Result struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Remaining is the number of additional requests the key may make
	// inside the current window, after this check.
	Remaining int

	// ResetAt is when the oldest surviving timestamp falls out of the
	// window, freeing one slot.
	ResetAt time.Time

	// RetryAfter is how long a denied caller should wait before the next
	// attempt. Zero when Allowed.
	RetryAfter time.Duration
}

// Store tracks request history per key.
//
// Implementations must serialize concurrent checks for the same key: two
// simultaneous checks at the last available slot must never both be
// admitted.
type Store interface {
	// Check records an attempt for key and returns the admit/deny decision.
	Check(ctx context.Context, key string, cfg Config) (Result, error)

	// Status reports the current window state for key without recording
	// an attempt.
	Status(ctx context.Context, key string, cfg Config) (Result, error)

	// Clear drops all tracked keys. Intended for tests.
	Clear(ctx context.Context) error

	// Close releases background resources (sweeper goroutines, clients).
	Close() error
}

// Enforce runs a mutating check and converts a denial into a rate-limit
// error carrying the RetryAfter hint. Store failures are returned as-is so
// the ingress layer can decide whether to fail open.
func Enforce(ctx context.Context, s Store, key string, cfg Config) (Result, error) {
	res, err := s.Check(ctx, key, cfg)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, apperrors.RateLimit(
			fmt.Sprintf("rate limit exceeded: %d requests per %s", cfg.Max, cfg.Window),
			res.RetryAfter,
		)
	}
	return res, nil
}
