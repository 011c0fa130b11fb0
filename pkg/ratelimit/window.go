// Package ratelimit provides per-key sliding-window admission control for
// external resources. A key is admitted only if fewer than its limit of
// admissions happened within the trailing window; the invariant holds for
// every trailing window of the configured size, not just aligned buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy is the admission limit for one resource key.
type Policy struct {
	// Limit is the maximum number of admissions per trailing window.
	Limit int
	// Window is the trailing window size, typically one hour.
	Window time.Duration
}

// Limiter is the admission-control contract shared by the in-memory and
// Redis-backed stores.
type Limiter interface {
	// Allow reports whether one admission for key is permitted right now.
	// When denied it returns the duration after which the caller may retry.
	Allow(ctx context.Context, key string, policy Policy) (bool, time.Duration, error)

	// Acquire blocks until an admission for key is granted or ctx is done.
	Acquire(ctx context.Context, key string, policy Policy) error
}

// window holds the admission timestamps for one key, oldest first.
type window struct {
	admitted []time.Time
}

// SlidingWindow is an in-memory Limiter. Safe for concurrent use; callers
// never observe internal locking beyond the call itself.
type SlidingWindow struct {
	mu      sync.Mutex
	keys    map[string]*window
	clock   func() time.Time
	sleeper func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindow creates an in-memory sliding-window limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		keys:  make(map[string]*window),
		clock: time.Now,
		sleeper: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// WithClock overrides the clock for testing.
func (s *SlidingWindow) WithClock(clock func() time.Time) *SlidingWindow {
	s.clock = clock
	return s
}

// WithSleeper overrides blocking waits for testing with simulated time.
func (s *SlidingWindow) WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) *SlidingWindow {
	s.sleeper = sleeper
	return s
}

// Allow admits the caller if the trailing window has capacity, recording the
// admission. On denial it returns how long until the oldest admission in the
// window expires.
func (s *SlidingWindow) Allow(_ context.Context, key string, policy Policy) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w, ok := s.keys[key]
	if !ok {
		w = &window{}
		s.keys[key] = w
	}

	// Drop admissions older than the trailing window.
	cutoff := now.Add(-policy.Window)
	i := 0
	for i < len(w.admitted) && !w.admitted[i].After(cutoff) {
		i++
	}
	w.admitted = w.admitted[i:]

	if len(w.admitted) < policy.Limit {
		w.admitted = append(w.admitted, now)
		return true, 0, nil
	}

	retryAfter := w.admitted[0].Add(policy.Window).Sub(now)
	return false, retryAfter, nil
}

// Acquire blocks until admitted or ctx is done.
func (s *SlidingWindow) Acquire(ctx context.Context, key string, policy Policy) error {
	for {
		ok, retryAfter, err := s.Allow(ctx, key, policy)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := s.sleeper(ctx, retryAfter); err != nil {
			return err
		}
	}
}
