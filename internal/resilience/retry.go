package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls a bounded retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 5.
	MaxAttempts int

	// Backoff returns the delay to wait after the given zero-based failed
	// attempt. Default: LinearBackoff(5s).
	Backoff func(attempt int) time.Duration

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real
	// delays. Default: SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig mirrors the fetch defaults: five attempts with a linear
// five-second step.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		Backoff:     LinearBackoff(5 * time.Second),
	}
}

// LinearBackoff waits delay*(attempt+1): delay after the first failure,
// 2*delay after the second and so on.
func LinearBackoff(delay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if delay <= 0 {
			return 0
		}
		return delay * time.Duration(attempt+1)
	}
}

// SleepContext blocks for d. It returns early with ctx.Err() when the context
// is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed transient (via ShouldRetry or the default IsTransient check).
// Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		if !cfg.ShouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		if cfg.Sleep(ctx, cfg.Backoff(attempt)) != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff == nil {
		cfg.Backoff = LinearBackoff(5 * time.Second)
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return cfg
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(component, url string) func(int, error) {
	return func(attempt int, err error) {
		fields := []zap.Field{
			zap.String("component", component),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		}
		if IsTimeout(err) {
			zap.L().Warn("request timed out, retrying", fields...)
			return
		}
		zap.L().Warn("transport error, retrying", fields...)
	}
}
