package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/cache"
	"github.com/JMKlausv/project-chimera-w0/pkg/config"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/ratelimit"
	"github.com/JMKlausv/project-chimera-w0/pkg/retry"
)

// fakeProvider routes fetches by URI and counts calls.
type fakeProvider struct {
	responses map[string][]RawSignal
	errors    map[string]error
	calls     map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		responses: make(map[string][]RawSignal),
		errors:    make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (p *fakeProvider) Fetch(_ context.Context, uri string) ([]RawSignal, error) {
	p.calls[uri]++
	if err, ok := p.errors[uri]; ok {
		return nil, err
	}
	return p.responses[uri], nil
}

func signalsFor(topic string) []RawSignal {
	return []RawSignal{{
		ID:       "sig-1",
		Platform: contracts.PlatformTwitter,
		Topic:    topic,
		Likes:    100,
		PostedAt: time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC),
	}}
}

func newTestFetcher(t *testing.T, provider Provider) (*Fetcher, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.Options{})
	exec := retry.New().WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	f := NewFetcher(config.MustDefaultManifest(), provider, ratelimit.NewSlidingWindow(), c, nil).WithExecutor(exec)
	return f, c
}

func TestFetchPrimarySuccessPopulatesCache(t *testing.T) {
	p := newFakeProvider()
	p.responses["twitter://mentions/recent"] = signalsFor("ai agents")
	f, _ := newTestFetcher(t, p)

	res, err := f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.False(t, res.FromCache)
	assert.Empty(t, res.Fallback)
	assert.Equal(t, "ai agents", res.Signals[0].Topic)

	// Second fetch is served from cache without a live call.
	res, err = f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, p.calls["twitter://mentions/recent"])
}

func TestFetchFallsBackOnPrimaryFailure(t *testing.T) {
	p := newFakeProvider()
	p.errors["twitter://mentions/recent"] = faults.New("EXT_PLATFORM_UNAVAILABLE", "down")
	p.responses["twitter://feed/general"] = signalsFor("fallback topic")
	f, _ := newTestFetcher(t, p)

	res, err := f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)
	assert.Equal(t, "twitter_feed", res.Fallback)
	assert.False(t, res.Stale)
	assert.Equal(t, "fallback topic", res.Signals[0].Topic)
	// Transient primary failure retried 3 times before falling back.
	assert.Equal(t, 3, p.calls["twitter://mentions/recent"])
}

func TestFetchServesStaleWhenLiveExhausted(t *testing.T) {
	p := newFakeProvider()
	p.responses["twitter://mentions/recent"] = signalsFor("old news")
	f, c := newTestFetcher(t, p)

	_, err := f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)

	// Expire the cached entry, then kill both live paths.
	c.Set(cacheKey("twitter"), signalsFor("old news"), -time.Second)
	p.errors["twitter://mentions/recent"] = faults.New("EXT_PLATFORM_UNAVAILABLE", "down")
	p.errors["twitter://feed/general"] = faults.New("EXT_PLATFORM_UNAVAILABLE", "down")

	res, err := f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, "old news", res.Signals[0].Topic)
}

func TestFetchUnavailableAfterAllSteps(t *testing.T) {
	p := newFakeProvider()
	p.errors["twitter://mentions/recent"] = faults.New("EXT_PLATFORM_UNAVAILABLE", "down")
	p.errors["twitter://feed/general"] = faults.New("EXT_PLATFORM_UNAVAILABLE", "down")
	f, _ := newTestFetcher(t, p)

	_, err := f.Fetch(context.Background(), "twitter")
	require.Error(t, err)
	assert.Equal(t, "EXT_PLATFORM_UNAVAILABLE", faults.CodeOf(err))
}

func TestFetchUnknownResource(t *testing.T) {
	f, _ := newTestFetcher(t, newFakeProvider())

	_, err := f.Fetch(context.Background(), "myspace")
	require.Error(t, err)
	assert.Equal(t, "EXT_INVALID_PLATFORM", faults.CodeOf(err))
}

func TestFetchNonRetryableFailureSkipsRetries(t *testing.T) {
	p := newFakeProvider()
	p.errors["twitter://mentions/recent"] = faults.New("EXT_AUTH_FAILED", "bad creds")
	p.responses["twitter://feed/general"] = signalsFor("fallback")
	f, _ := newTestFetcher(t, p)

	res, err := f.Fetch(context.Background(), "twitter")
	require.NoError(t, err)
	assert.Equal(t, "twitter_feed", res.Fallback)
	assert.Equal(t, 1, p.calls["twitter://mentions/recent"], "auth failures must not be retried")
}
