package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// HTTPProvider fetches signals over HTTP with a per-host circuit breaker.
// Upstreams that fail repeatedly are cut off until the reset timeout passes,
// so a dead platform fails fast into the fetcher's fallback path instead of
// burning its timeout on every workflow.
type HTTPProvider struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewHTTPProvider creates a provider with a default client. Per-call
// deadlines come from the caller's context, not the client.
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{
		client:   &http.Client{},
		breakers: make(map[string]*breaker),
	}
}

// WithClient overrides the HTTP client for tests.
func (p *HTTPProvider) WithClient(c *http.Client) *HTTPProvider {
	p.client = c
	return p
}

// Fetch GETs uri and decodes a JSON array of signals.
func (p *HTTPProvider) Fetch(ctx context.Context, uri string) ([]RawSignal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, faults.Wrap("EXT_INVALID_PLATFORM", fmt.Sprintf("bad resource uri %q", uri), err)
	}

	br := p.breaker(req.URL.Host)
	if !br.Allow() {
		return nil, faults.Newf("EXT_PLATFORM_UNAVAILABLE", "circuit open for %s", req.URL.Host)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		br.Failure()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, faults.Wrap("NET_TIMEOUT", "upstream timed out", err)
		}
		return nil, faults.Wrap("NET_CONNECTION_REFUSED", "upstream unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		br.Failure()
		return nil, faults.New("EXT_RATE_LIMITED", "upstream rate limited")
	case resp.StatusCode == http.StatusUnauthorized:
		br.Success()
		return nil, faults.New("EXT_AUTH_FAILED", "upstream rejected credentials")
	case resp.StatusCode == http.StatusForbidden:
		br.Success()
		return nil, faults.New("EXT_FORBIDDEN", "upstream denied access")
	case resp.StatusCode >= 500:
		br.Failure()
		return nil, faults.Newf("EXT_PLATFORM_UNAVAILABLE", "upstream returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		br.Success()
		return nil, faults.Newf("EXT_PLATFORM_UNAVAILABLE", "unexpected status %d", resp.StatusCode)
	}

	var signals []RawSignal
	if err := json.NewDecoder(resp.Body).Decode(&signals); err != nil {
		br.Success() // the host answered; the payload is the problem
		return nil, faults.Wrap("VAL_SCHEMA_INVALID", "decode signal payload", err)
	}
	br.Success()
	return signals, nil
}

func (p *HTTPProvider) breaker(host string) *breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	br, ok := p.breakers[host]
	if !ok {
		br = newBreaker(5, 10*time.Second)
		p.breakers[host] = br
	}
	return br
}

type breakerState string

const (
	breakerClosed   breakerState = "CLOSED"
	breakerOpen     breakerState = "OPEN"
	breakerHalfOpen breakerState = "HALF_OPEN"
)

// breaker is a minimal failure-count circuit breaker.
type breaker struct {
	mu           sync.Mutex
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
	clock        func() time.Time
}

func newBreaker(threshold int, resetTimeout time.Duration) *breaker {
	return &breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        breakerClosed,
		clock:        time.Now,
	}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen {
		if b.clock().Sub(b.lastFailure) > b.resetTimeout {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failureCount = 0
}

func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.clock()
	if b.failureCount >= b.threshold {
		b.state = breakerOpen
	}
}
