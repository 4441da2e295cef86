// Package fetchcache is the cache-coherent fetch gateway. A request is
// canonicalized into a cache key; cached content is returned without touching
// the network, otherwise the page is fetched with bounded linear-backoff
// retries, normalized, stored and returned.
package fetchcache

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/fetcher"
	"github.com/optimal-systems/data/internal/resilience"
)

var (
	// ErrRetriesExhausted means every attempt failed with a retryable error.
	ErrRetriesExhausted = eris.New("fetchcache: retries exhausted")
	// ErrFatal means the fetch hit an error that retrying cannot fix.
	ErrFatal = eris.New("fetchcache: fatal fetch error")
)

// FetchError carries the failure class (ErrRetriesExhausted or ErrFatal) and
// the underlying cause; errors.Is matches either.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
	kind     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.kind.Error(), e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.kind, e.Err}
}

// FetchOptions bounds one fetch.
type FetchOptions struct {
	Retries int
	Timeout time.Duration
	// Delay is both the linear backoff step and the courtesy pause after a
	// successful network fetch.
	Delay time.Duration
}

// DefaultFetchOptions returns five attempts, 5s timeout and 5s delay.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Retries: 5,
		Timeout: 5 * time.Second,
		Delay:   5 * time.Second,
	}
}

// Gateway fetches pages through the cache.
type Gateway struct {
	store   Store
	fetcher fetcher.Fetcher
	opts    FetchOptions
	sleep   func(ctx context.Context, d time.Duration) error
	log     *zap.Logger
}

// NewGateway creates a Gateway. Non-positive options fall back to
// DefaultFetchOptions.
func NewGateway(store Store, f fetcher.Fetcher, opts FetchOptions) *Gateway {
	def := DefaultFetchOptions()
	if opts.Retries <= 0 {
		opts.Retries = def.Retries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Gateway{
		store:   store,
		fetcher: f,
		opts:    opts,
		sleep:   resilience.SleepContext,
		log:     zap.L().With(zap.String("component", "fetchcache")),
	}
}

// Options returns the gateway's default fetch options.
func (g *Gateway) Options() FetchOptions {
	return g.opts
}

// Fetch returns the content for rawURL with params, using the gateway's
// default options.
func (g *Gateway) Fetch(ctx context.Context, rawURL string, params map[string]string) (string, error) {
	return g.FetchWith(ctx, rawURL, params, g.opts)
}

// FetchWith returns the content for rawURL with params. It is safe to call
// repeatedly with the same arguments from independent runs: the cached
// value is a pure function of the key.
func (g *Gateway) FetchWith(ctx context.Context, rawURL string, params map[string]string, opts FetchOptions) (string, error) {
	key, canonical := KeyFor(rawURL, params)
	log := g.log.With(zap.String("url", canonical), zap.String("key", key))

	ok, err := g.store.Exists(ctx, key)
	if err != nil {
		return "", g.fatal(canonical, 0, err)
	}
	if ok {
		content, err := g.store.Get(ctx, key)
		if err != nil {
			return "", g.fatal(canonical, 0, err)
		}
		log.Debug("cache hit")
		return content, nil
	}

	attempts := 0
	res, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: opts.Retries,
		Backoff:     resilience.LinearBackoff(opts.Delay),
		ShouldRetry: resilience.IsTransient,
		OnRetry:     resilience.RetryLogger("fetchcache", canonical),
		Sleep:       g.sleep,
	}, func(ctx context.Context) (*fetcher.Response, error) {
		attempts++
		return g.fetcher.Get(ctx, canonical, opts.Timeout)
	})
	if err != nil {
		if ctx.Err() == nil && resilience.IsTransient(err) {
			log.Error("retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
			return "", &FetchError{URL: canonical, Attempts: attempts, Err: err, kind: ErrRetriesExhausted}
		}
		log.Error("fetch aborted", zap.Int("attempts", attempts), zap.Error(err))
		return "", g.fatal(canonical, attempts, err)
	}

	content, err := fetcher.Normalize(res)
	if err != nil {
		return "", g.fatal(canonical, attempts, err)
	}

	if err := g.sleep(ctx, opts.Delay); err != nil {
		return "", g.fatal(canonical, attempts, err)
	}

	if err := g.store.Put(ctx, key, Entry{CanonicalURL: canonical, Content: content}); err != nil {
		return "", g.fatal(canonical, attempts, err)
	}

	log.Debug("cached", zap.Int("attempts", attempts), zap.Int("bytes", len(content)))
	return content, nil
}

func (g *Gateway) fatal(url string, attempts int, err error) error {
	return &FetchError{URL: url, Attempts: attempts, Err: err, kind: ErrFatal}
}
