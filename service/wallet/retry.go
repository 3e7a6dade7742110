package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/brojonat/pathos/service/metrics"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	baseBackoff = 100 * time.Millisecond
	maxBackoff  = 2 * time.Second
	maxJitter   = 100 * time.Millisecond
)

// RetryableOperation is a single attempt of a retried call.
type RetryableOperation[T any] func(ctx context.Context) (T, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type retryConfig struct {
	maxRetries int
	operation  string
	sleep      SleepFunc
	jitter     func() time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// RetryOption configures Retry.
type RetryOption func(*retryConfig)

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) RetryOption {
	return func(c *retryConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithOperation names the operation in logs and metrics.
func WithOperation(name string) RetryOption {
	return func(c *retryConfig) { c.operation = name }
}

// WithSleep replaces the backoff wait. Tests use it to skip real delays.
func WithSleep(sleep SleepFunc) RetryOption {
	return func(c *retryConfig) { c.sleep = sleep }
}

// WithJitter replaces the random jitter source.
func WithJitter(jitter func() time.Duration) RetryOption {
	return func(c *retryConfig) { c.jitter = jitter }
}

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = logger }
}

// WithRetryMetrics records each retry in m.
func WithRetryMetrics(m *metrics.Metrics) RetryOption {
	return func(c *retryConfig) { c.metrics = m }
}

// BackoffDelay is the wait before retry number attempt+1, without jitter.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	return min(baseBackoff<<attempt, maxBackoff)
}

// Retry runs op until it succeeds, fails with a user cancellation or a
// permanent error, or has been attempted maxRetries+1 times. The last error
// is returned unchanged.
func Retry[T any](ctx context.Context, op RetryableOperation[T], opts ...RetryOption) (T, error) {
	cfg := retryConfig{
		maxRetries: DefaultMaxRetries,
		operation:  "operation",
		sleep:      sleepContext,
		jitter:     func() time.Duration { return rand.N(maxJitter) },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsUserCancellation(err) || IsPermanent(err) {
			return zero, err
		}
		if attempt == cfg.maxRetries {
			break
		}

		delay := BackoffDelay(attempt) + cfg.jitter()
		cfg.logger.WarnContext(ctx, "operation failed, retrying",
			"operation", cfg.operation,
			"attempt", attempt+1,
			"max_attempts", cfg.maxRetries+1,
			"backoff_ms", delay.Milliseconds(),
			"error", err,
		)
		if cfg.metrics != nil {
			cfg.metrics.RecordRetry(cfg.operation, retryReason(err))
		}

		if err := cfg.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w: last error: %w", err, lastErr)
		}
	}

	cfg.logger.ErrorContext(ctx, "operation failed after retries",
		"operation", cfg.operation,
		"attempts", cfg.maxRetries+1,
		"error", lastErr,
	)
	return zero, lastErr
}

func retryReason(err error) string {
	if isRPCFailure(err) {
		return "rpc_failure"
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
