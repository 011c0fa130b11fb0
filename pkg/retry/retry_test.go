package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep() func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error { return nil }
}

func TestBackoffDoubles(t *testing.T) {
	p := Policy{PolicyID: "p", BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}

	assert.Equal(t, 1*time.Second, p.Backoff("op", 0))
	assert.Equal(t, 2*time.Second, p.Backoff("op", 1))
	assert.Equal(t, 4*time.Second, p.Backoff("op", 2))
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{PolicyID: "p", BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 10}
	assert.Equal(t, 3*time.Second, p.Backoff("op", 8))
}

func TestJitterIsDeterministicPerAttempt(t *testing.T) {
	p := Policy{PolicyID: "p", BaseDelay: time.Second, MaxDelay: time.Minute, MaxJitter: time.Second, MaxAttempts: 3}

	assert.Equal(t, p.Backoff("op", 1), p.Backoff("op", 1))
	// Different operations jitter independently.
	assert.NotEqual(t, p.Backoff("op-a", 1), p.Backoff("op-b", 1))
}

func TestDoRetriesTransientFaults(t *testing.T) {
	e := New().WithSleep(noSleep())
	calls := 0

	err := e.Do(context.Background(), DefaultExternal, "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return faults.New("NET_TIMEOUT", "slow upstream")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	e := New().WithSleep(noSleep())
	calls := 0

	err := e.Do(context.Background(), DefaultExternal, "verify", func(context.Context) error {
		calls++
		return faults.New("SEC_INVALID_TOKEN", "bad signature")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "security faults must never be retried")
}

func TestDoPlainErrorsDoNotRetry(t *testing.T) {
	e := New().WithSleep(noSleep())
	calls := 0
	boom := errors.New("boom")

	err := e.Do(context.Background(), DefaultExternal, "op", func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	e := New().WithSleep(noSleep())
	calls := 0

	err := e.Do(context.Background(), DefaultExternal, "op", func(context.Context) error {
		calls++
		return faults.New("EXT_PLATFORM_UNAVAILABLE", "down")
	})
	require.Error(t, err)
	assert.Equal(t, DefaultExternal.MaxAttempts, calls)
	assert.Equal(t, "EXT_PLATFORM_UNAVAILABLE", faults.CodeOf(err))
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	e := New() // real sleeper
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, Policy{PolicyID: "p", BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3}, "op",
			func(context.Context) error {
				calls++
				return faults.New("NET_TIMEOUT", "t")
			})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
