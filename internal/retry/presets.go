package retry

import "time"

// The presets differ only in numeric values, not behavior: tighter budgets
// for interactive calls, longer ones for background and critical paths.

// Interactive suits request-scoped calls where a caller is waiting.
func Interactive() Policy {
	return Policy{
		MaxRetries:        2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Timeout:           30 * time.Second,
	}
}

// Background suits asynchronous work that can afford long waits.
func Background() Policy {
	return Policy{
		MaxRetries:        5,
		BaseDelay:         2 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Timeout:           5 * time.Minute,
	}
}

// Critical suits operations that should be given every chance to succeed.
func Critical() Policy {
	return Policy{
		MaxRetries:        7,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		Timeout:           10 * time.Minute,
	}
}
