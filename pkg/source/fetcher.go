package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JMKlausv/project-chimera-w0/pkg/cache"
	"github.com/JMKlausv/project-chimera-w0/pkg/config"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/ratelimit"
	"github.com/JMKlausv/project-chimera-w0/pkg/retry"
)

// Provider performs the live call against one resource URI.
type Provider interface {
	Fetch(ctx context.Context, uri string) ([]RawSignal, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, uri string) ([]RawSignal, error)

func (f ProviderFunc) Fetch(ctx context.Context, uri string) ([]RawSignal, error) {
	return f(ctx, uri)
}

// Fetcher resolves resource names through the manifest and degrades through
// rate limit, cache, primary, fallback, and stale cache in that order.
type Fetcher struct {
	manifest *config.Manifest
	provider Provider
	limiter  ratelimit.Limiter
	cache    *cache.Cache
	exec     *retry.Executor
	log      *slog.Logger
	clock    func() time.Time
}

// NewFetcher wires a Fetcher. The limiter must enforce the manifest's
// per-resource hourly limits for the resource names used here.
func NewFetcher(manifest *config.Manifest, provider Provider, limiter ratelimit.Limiter, c *cache.Cache, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		manifest: manifest,
		provider: provider,
		limiter:  limiter,
		cache:    c,
		exec:     retry.New(),
		log:      log,
		clock:    time.Now,
	}
}

// WithClock overrides time for tests.
func (f *Fetcher) WithClock(clock func() time.Time) *Fetcher {
	f.clock = clock
	return f
}

// WithExecutor overrides the retry executor for tests.
func (f *Fetcher) WithExecutor(exec *retry.Executor) *Fetcher {
	f.exec = exec
	return f
}

// Fetch returns signals for resource. Degradation order: rate limiter
// admission, fresh cache, live primary, live fallback, stale cache. The
// EXT_PLATFORM_UNAVAILABLE fault surfaces only after all five fail.
func (f *Fetcher) Fetch(ctx context.Context, resource string) (*FetchResult, error) {
	spec, ok := f.manifest.Resource(resource)
	if !ok {
		return nil, faults.Newf("EXT_INVALID_PLATFORM", "resource %q not in manifest", resource).WithField("resource")
	}

	policy := ratelimit.Policy{Limit: spec.RateLimitPerHour, Window: time.Hour}
	if err := f.limiter.Acquire(ctx, resource, policy); err != nil {
		return nil, err
	}

	if v, ok := f.cache.Get(cacheKey(resource)); ok {
		return &FetchResult{
			Resource:  resource,
			Signals:   v.([]RawSignal),
			FromCache: true,
			FetchedAt: f.clock().UTC(),
		}, nil
	}

	signals, err := f.live(ctx, spec)
	if err == nil {
		f.cache.Set(cacheKey(resource), signals, spec.CacheTTL)
		return &FetchResult{Resource: resource, Signals: signals, FetchedAt: f.clock().UTC()}, nil
	}
	primaryErr := err
	f.log.Warn("primary fetch failed", "resource", resource, "error", err)

	if spec.Fallback != "" {
		fbSpec, ok := f.manifest.Resource(spec.Fallback)
		if ok {
			signals, err = f.live(ctx, fbSpec)
			if err == nil {
				f.cache.Set(cacheKey(resource), signals, spec.CacheTTL)
				return &FetchResult{
					Resource:  resource,
					Signals:   signals,
					Fallback:  spec.Fallback,
					FetchedAt: f.clock().UTC(),
				}, nil
			}
			f.log.Warn("fallback fetch failed", "resource", resource, "fallback", spec.Fallback, "error", err)
		}
	}

	if v, ok := f.cache.GetStale(cacheKey(resource)); ok {
		f.log.Info("serving stale cache", "resource", resource)
		return &FetchResult{
			Resource:  resource,
			Signals:   v.([]RawSignal),
			Stale:     true,
			FromCache: true,
			FetchedAt: f.clock().UTC(),
		}, nil
	}

	return nil, faults.Wrap("EXT_PLATFORM_UNAVAILABLE",
		fmt.Sprintf("resource %q unavailable after fallback and stale cache", resource), primaryErr)
}

// live calls the provider under the resource's timeout, retrying transient
// faults per the external policy.
func (f *Fetcher) live(ctx context.Context, spec *config.ResourceSpec) ([]RawSignal, error) {
	var signals []RawSignal
	err := f.exec.Do(ctx, retry.DefaultExternal, spec.Name, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
		defer cancel()

		got, err := f.provider.Fetch(callCtx, spec.URI)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				return faults.Wrap("NET_TIMEOUT", fmt.Sprintf("resource %q timed out", spec.Name), err)
			}
			return err
		}
		signals = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signals, nil
}

func cacheKey(resource string) string { return "signals:" + resource }
