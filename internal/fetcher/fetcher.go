// Package fetcher is the network transport used by the fetch cache: a single
// GET per call, per-host rate limiting, charset decoding and small decode
// helpers for the XML and JSON payloads retailers serve.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/optimal-systems/data/internal/resilience"
)

// Fetcher performs one GET request. Retrying is left to the caller.
type Fetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) (*Response, error)
}

// Response is a successful (2xx) response with its body decoded to UTF-8.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// statusError builds the error for a non-2xx response; 408, 429 and 5xx are
// marked transient so the caller retries them.
func statusError(res *resty.Response, rawURL string) error {
	se := &StatusError{URL: rawURL, StatusCode: res.StatusCode()}
	if resilience.IsTransientHTTPStatus(se.StatusCode) {
		return resilience.NewTransientError(se, se.StatusCode)
	}
	return se
}
