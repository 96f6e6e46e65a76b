package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

// memEntry holds the timestamp log for one key. Timestamps are kept in
// ascending order; the per-entry mutex serializes checks for the key so an
// admit/admit race at the boundary slot is impossible.
type memEntry struct {
	mu sync.Mutex

	// stamps is ascending. No element older than the window used by the
	// most recent check survives that check.
	stamps []time.Time

	// window is the window of the most recent check, used by the sweeper
	// to decide staleness.
	window time.Duration
}

// MemoryStore is an in-process Store backed by a map of timestamp logs.
// A background sweeper removes keys whose timestamps have all expired so
// memory stays bounded under churning key sets.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now        func() time.Time
	sweepEvery time.Duration
}

// WithClock injects the time source. Used by tests to advance the window
// deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// WithSweepInterval overrides how often stale keys are garbage-collected.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.sweepEvery = d }
}

// NewMemoryStore creates an empty store and starts its sweeper.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{now: time.Now, sweepEvery: defaultSweepInterval}
	for _, opt := range opts {
		opt(&o)
	}

	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     o.now,
		stopCh:  make(chan struct{}),
	}
	if o.sweepEvery > 0 {
		go s.sweepLoop(o.sweepEvery)
	}
	return s
}

// Check implements Store.
func (s *MemoryStore) Check(_ context.Context, key string, cfg Config) (Result, error) {
	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	e.window = cfg.Window
	e.stamps = prune(e.stamps, now.Add(-cfg.Window))

	if len(e.stamps) < cfg.Max {
		e.stamps = append(e.stamps, now)
		return Result{
			Allowed:   true,
			Remaining: cfg.Max - len(e.stamps),
			ResetAt:   e.stamps[0].Add(cfg.Window),
		}, nil
	}

	oldest := e.stamps[0]
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    oldest.Add(cfg.Window),
		RetryAfter: cfg.Window - now.Sub(oldest),
	}, nil
}

// Status implements Store. It inspects the window without recording an
// attempt and without modifying the log.
func (s *MemoryStore) Status(_ context.Context, key string, cfg Config) (Result, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()

	now := s.now()
	if !ok {
		return Result{Allowed: true, Remaining: cfg.Max, ResetAt: now.Add(cfg.Window)}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-cfg.Window)
	var surviving []time.Time
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			surviving = append(surviving, ts)
		}
	}

	if len(surviving) < cfg.Max {
		remaining := cfg.Max - len(surviving)
		resetAt := now.Add(cfg.Window)
		if len(surviving) > 0 {
			resetAt = surviving[0].Add(cfg.Window)
		}
		return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
	}

	oldest := surviving[0]
	return Result{
		Allowed:    false,
		ResetAt:    oldest.Add(cfg.Window),
		RetryAfter: cfg.Window - now.Sub(oldest),
	}, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memEntry)
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

func (s *MemoryStore) entry(key string) *memEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memEntry{}
		s.entries[key] = e
	}
	return e
}

// sweep removes keys whose logs contain no surviving timestamps.
func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		e.mu.Lock()
		e.stamps = prune(e.stamps, now.Add(-e.window))
		empty := len(e.stamps) == 0
		e.mu.Unlock()
		if empty {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// prune drops leading timestamps at or before cutoff. Stamps are ascending,
// so the survivors are a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
