package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantSleep records requested delays without waiting.
func instantSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), Policy{MaxRetries: 3}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	var retries []int

	calls := 0
	policy := Policy{
		MaxRetries:        5,
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		OnRetry: func(_ error, attempt int, _ time.Duration) {
			retries = append(retries, attempt)
		},
		sleep: instantSleep(&sleeps),
	}

	got, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		if calls <= 3 {
			return 0, apperrors.Upstream("flaky", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 4, calls)
	// onRetry fires exactly N times with strictly increasing attempts.
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	calls := 0
	last := apperrors.Upstream("still down", nil)

	policy := Policy{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		sleep:             instantSleep(&sleeps),
	}

	_, err := Do(context.Background(), policy, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, last
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	// maxRetries = M means exactly M+1 invocations.
	assert.Equal(t, 4, calls)
	assert.Len(t, sleeps, 3)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: 5}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, apperrors.Validation("bad input")
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCustomClassifier(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	calls := 0
	policy := Policy{
		MaxRetries: 5,
		ShouldRetry: func(_ error, attempt int) bool {
			return attempt < 1 // allow a single retry, whatever the error
		},
		sleep: instantSleep(&sleeps),
	}

	_, err := Do(context.Background(), policy, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("opaque")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoTimesOutSlowOperation(t *testing.T) {
	t.Parallel()

	started := time.Now()
	policy := Policy{Timeout: 30 * time.Millisecond}

	_, err := Do(context.Background(), policy, func(ctx context.Context) (struct{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return struct{}{}, nil
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout))
	// The race resolves near the timeout boundary, not near the
	// operation's completion time.
	assert.Less(t, time.Since(started), time.Second)
}

func TestAbandonedAttemptResultIsDiscarded(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	calls := 0
	release := make(chan struct{})

	policy := Policy{
		MaxRetries: 1,
		Timeout:    20 * time.Millisecond,
		sleep:      instantSleep(&sleeps),
	}

	got, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			<-release // first attempt hangs past the timeout
			return -1, nil
		}
		return calls, nil
	})
	close(release)

	require.NoError(t, err)
	// The second attempt's value wins even though the first eventually
	// settled with a different result.
	assert.Equal(t, 2, got)
}

func TestBackoffSequenceWithoutJitter(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	type notification struct {
		attempt int
		delay   time.Duration
	}
	var notified []notification

	calls := 0
	policy := Policy{
		MaxRetries:        5,
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
		Jitter:            false,
		OnRetry: func(_ error, attempt int, delay time.Duration) {
			notified = append(notified, notification{attempt, delay})
		},
		sleep: instantSleep(&sleeps),
	}

	_, err := Do(context.Background(), policy, func(context.Context) (struct{}, error) {
		calls++
		if calls <= 2 {
			return struct{}{}, apperrors.Upstream("transient", nil)
		}
		return struct{}{}, nil
	})

	require.NoError(t, err)
	require.Len(t, notified, 2)
	assert.Equal(t, notification{1, 1000 * time.Millisecond}, notified[0])
	assert.Equal(t, notification{2, 2000 * time.Millisecond}, notified[1])
}

func TestBackoffCapAtMaxDelay(t *testing.T) {
	t.Parallel()

	policy := normalize(Policy{
		BaseDelay:         time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, time.Second, policy.delay(0))
	assert.Equal(t, 2*time.Second, policy.delay(1))
	assert.Equal(t, 3*time.Second, policy.delay(2))
	assert.Equal(t, 3*time.Second, policy.delay(5))
}

func TestJitterStaysProportional(t *testing.T) {
	t.Parallel()

	base := Policy{
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
		Jitter:            true,
	}

	// Jitter scales the delay by (0.5 + r*0.5), so the result must stay
	// inside [delay/2, delay).
	for _, r := range []float64{0, 0.25, 0.5, 0.9999} {
		p := base
		p.jitterRand = func() float64 { return r }
		p = normalize(p)

		d := p.delay(1) // un-jittered delay would be 2s
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second+time.Millisecond)
	}
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"timeout kind", apperrors.Timeout("deadline"), true},
		{"transient upstream", apperrors.Upstream("503", nil), true},
		{"permanent upstream", apperrors.UpstreamFatal("400", nil), false},
		{"validation", apperrors.Validation("bad"), false},
		{"rate limit", apperrors.RateLimit("slow down", time.Second), false},
		{"parse", apperrors.Parse("not json", nil), false},
		{"context deadline", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, false},
		{"opaque", errors.New("mystery"), false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.retry, DefaultShouldRetry(tc.err, 0))
		})
	}
}

func TestSleepAbortsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	policy := Policy{
		MaxRetries:        3,
		BaseDelay:         10 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1,
		OnRetry: func(error, int, time.Duration) {
			cancel() // cancel while the executor is about to back off
		},
	}

	_, err := Do(ctx, policy, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, apperrors.Upstream("transient", nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
