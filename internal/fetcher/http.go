package fetcher

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/optimal-systems/data/internal/resilience"
)

// HTTPOptions configures the HTTP client.
type HTTPOptions struct {
	UserAgent string
	// RatePerSec bounds requests per host. Zero disables limiting.
	RatePerSec float64
	// RateLimiters overrides the limiter for specific hosts.
	RateLimiters map[string]*rate.Limiter
}

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// HTTPClient implements Fetcher on top of resty. Each Get is a single
// attempt bounded by its own timeout.
type HTTPClient struct {
	http *resty.Client
	opts HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	log      *zap.Logger
}

// NewHTTPClient creates a new HTTPClient with the given options.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}

	client := resty.New()
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeader("Accept-Language", "es-ES,es;q=0.9")
	client.SetRetryCount(0)

	return &HTTPClient{
		http:     client,
		opts:     opts,
		limiters: limiters,
		log:      zap.L().With(zap.String("component", "fetcher")),
	}
}

func (c *HTTPClient) limiterFor(rawURL string) *rate.Limiter {
	if c.opts.RatePerSec <= 0 && len(c.limiters) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[u.Host]; ok {
		return lim
	}
	if c.opts.RatePerSec <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(c.opts.RatePerSec), 1)
	c.limiters[u.Host] = lim
	return lim
}

// blocked reports an anti-bot wall as transient so the caller backs off and
// retries.
func (c *HTTPClient) blocked(rawURL string, status int, bt BlockType) error {
	c.log.Warn("anti-bot wall", zap.String("url", rawURL), zap.String("type", string(bt)), zap.Int("status", status))
	return resilience.NewTransientError(&BlockedError{URL: rawURL, StatusCode: status, Type: bt}, status)
}

// Get issues one GET request. A non-2xx status yields a *StatusError
// (wrapped as transient for 408, 429 and 5xx); the body of a successful
// response is decoded to UTF-8.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	if lim := c.limiterFor(rawURL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := c.http.R().
		SetContext(ctx).
		Get(rawURL)
	if err != nil {
		// Returned unwrapped so timeouts and connection errors keep their
		// type for classification.
		return nil, err
	}

	if !res.IsSuccess() {
		if bt := DetectBlock(res.StatusCode(), res.Header(), ""); bt != BlockNone {
			return nil, c.blocked(rawURL, res.StatusCode(), bt)
		}
		return nil, statusError(res, rawURL)
	}

	contentType := res.Header().Get("Content-Type")
	body, err := DecodeBody(res.Body(), contentType)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode body of %s", rawURL)
	}

	// A challenge page served with 200 must never reach the cache.
	if bt := DetectBlock(res.StatusCode(), res.Header(), body); bt != BlockNone {
		return nil, c.blocked(rawURL, res.StatusCode(), bt)
	}

	c.log.Debug("fetched",
		zap.String("url", rawURL),
		zap.Int("status", res.StatusCode()),
		zap.Int("bytes", len(body)),
	)

	return &Response{
		URL:         rawURL,
		StatusCode:  res.StatusCode(),
		ContentType: contentType,
		Body:        body,
	}, nil
}
