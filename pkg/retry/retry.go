// Package retry executes operations under bounded retry policies expressed
// as data. Business logic stays retry-free: callers declare a Policy and the
// executor consults the fault taxonomy to decide whether another attempt is
// permitted.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// Policy is a bounded retry schedule.
type Policy struct {
	PolicyID    string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultExternal is the policy for transient external failures:
// 3 attempts, 1s/2s/4s exponential backoff with jitter.
var DefaultExternal = Policy{
	PolicyID:    "external",
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	MaxJitter:   250 * time.Millisecond,
	MaxAttempts: 3,
}

// Wallet is the policy for wallet write contention: fast retries with a
// higher attempt budget, since conflicting debits settle quickly.
var Wallet = Policy{
	PolicyID:    "wallet",
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	MaxJitter:   50 * time.Millisecond,
	MaxAttempts: 10,
}

// Conflict is the policy for optimistic-concurrency conflicts on general
// records: re-read and reapply up to 5 times.
var Conflict = Policy{
	PolicyID:    "conflict",
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
	MaxJitter:   10 * time.Millisecond,
	MaxAttempts: 5,
}

// Backoff returns the delay before attempt (0-indexed): base * 2^attempt,
// capped, plus deterministic jitter derived from the policy and operation
// identity so replays of the same schedule agree.
func (p Policy) Backoff(opID string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := time.Duration(int64(p.BaseDelay) * factor)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay + p.jitter(opID, attempt)
}

func (p Policy) jitter(opID string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", p.PolicyID, opID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}

// Executor runs operations under a Policy. The zero value is unusable;
// construct with New.
type Executor struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New() *Executor {
	return &Executor{
		sleep: func(ctx context.Context, d time.Duration) error {
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

// WithSleep overrides waiting for tests.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = sleep
	return e
}

// Do invokes op until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted. Retryability is decided by the fault
// taxonomy; plain errors never retry.
func (e *Executor) Do(ctx context.Context, policy Policy, opID string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, policy.Backoff(opID, attempt-1)); err != nil {
				return err
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !faults.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
