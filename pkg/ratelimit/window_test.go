package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)}
}

func TestAllowWithinLimit(t *testing.T) {
	clock := newFakeClock()
	lim := NewSlidingWindow().WithClock(clock.Now)
	policy := Policy{Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		ok, _, err := lim.Allow(context.Background(), "twitter", policy)
		require.NoError(t, err)
		assert.True(t, ok, "admission %d", i)
	}

	ok, retryAfter, err := lim.Allow(context.Background(), "twitter", policy)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, retryAfter)
}

func TestAllowSlidesWithTime(t *testing.T) {
	clock := newFakeClock()
	lim := NewSlidingWindow().WithClock(clock.Now)
	policy := Policy{Limit: 2, Window: time.Hour}

	ok, _, _ := lim.Allow(context.Background(), "news", policy)
	require.True(t, ok)
	clock.Advance(30 * time.Minute)
	ok, _, _ = lim.Allow(context.Background(), "news", policy)
	require.True(t, ok)

	// Full: the oldest admission expires in 30 minutes.
	ok, retryAfter, _ := lim.Allow(context.Background(), "news", policy)
	require.False(t, ok)
	assert.Equal(t, 30*time.Minute, retryAfter)

	clock.Advance(31 * time.Minute)
	ok, _, _ = lim.Allow(context.Background(), "news", policy)
	assert.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	lim := NewSlidingWindow().WithClock(clock.Now)
	policy := Policy{Limit: 1, Window: time.Hour}

	ok, _, _ := lim.Allow(context.Background(), "twitter", policy)
	require.True(t, ok)
	ok, _, _ = lim.Allow(context.Background(), "twitter", policy)
	require.False(t, ok)

	ok, _, _ = lim.Allow(context.Background(), "market", policy)
	assert.True(t, ok, "a saturated key must not starve other keys")
}

func TestAcquireBlocksUntilWindowFrees(t *testing.T) {
	clock := newFakeClock()
	lim := NewSlidingWindow().WithClock(clock.Now)
	lim.WithSleeper(func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	})
	policy := Policy{Limit: 1, Window: time.Hour}

	require.NoError(t, lim.Acquire(context.Background(), "market", policy))
	start := clock.Now()
	require.NoError(t, lim.Acquire(context.Background(), "market", policy))
	assert.Equal(t, time.Hour, clock.Now().Sub(start))
}

func TestAcquireHonorsContext(t *testing.T) {
	clock := newFakeClock()
	lim := NewSlidingWindow().WithClock(clock.Now)
	policy := Policy{Limit: 1, Window: time.Hour}

	require.NoError(t, lim.Acquire(context.Background(), "twitter", policy))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lim.Acquire(ctx, "twitter", policy)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestWindowInvariantProperty drives the limiter with bursty admission
// patterns under a simulated clock and verifies that no trailing window of
// the configured size ever contains more than the limit.
func TestWindowInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("never more than limit admissions in any trailing window", prop.ForAll(
		func(gaps []int64) bool {
			clock := newFakeClock()
			lim := NewSlidingWindow().WithClock(clock.Now)
			policy := Policy{Limit: 5, Window: time.Hour}

			var admitted []time.Time
			for _, gap := range gaps {
				clock.Advance(time.Duration(gap) * time.Second)
				ok, _, err := lim.Allow(context.Background(), "k", policy)
				if err != nil {
					return false
				}
				if ok {
					admitted = append(admitted, clock.Now())
				}
			}

			// Every trailing window ending at an admission holds <= limit.
			for i := range admitted {
				count := 0
				for j := 0; j <= i; j++ {
					if admitted[i].Sub(admitted[j]) < policy.Window {
						count++
					}
				}
				if count > policy.Limit {
					return false
				}
			}
			return true
		},
		// gap seconds between attempts; zero gaps model bursts
		gen.SliceOfN(120, gen.Int64Range(0, 10*60)),
	))

	properties.TestingRun(t)
}
