// Package retry provides an exponential-backoff retry executor with a
// pluggable should-retry predicate.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/ternarybob/arbor"
)

// Policy defines retry behavior with exponential backoff. MaxRetries is the
// number of additional attempts after the first; zero means exactly one
// attempt whose error propagates unmodified.
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// ShouldRetry is evaluated with the raised error before each additional
	// attempt; false aborts immediately. Nil retries everything.
	ShouldRetry func(err error) bool

	logger arbor.ILogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures the Policy.
type Option func(*Policy)

// WithLogger sets a logger for attempt-level debug output.
func WithLogger(logger arbor.ILogger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithSleepFunc overrides the inter-attempt delay, used by tests to record
// backoff durations instead of waiting them out.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// NewPolicy creates a retry policy.
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration, backoffFactor float64, opts ...Option) *Policy {
	p := &Policy{
		MaxRetries:    maxRetries,
		BaseDelay:     baseDelay,
		MaxDelay:      maxDelay,
		BackoffFactor: backoffFactor,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backoff returns the delay before the given retry (1-based):
// min(BaseDelay * BackoffFactor^(retry-1), MaxDelay).
func (p *Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Execute runs op, retrying per policy. The caller is suspended between
// attempts; context cancellation aborts the wait. Terminal failure returns
// the last error unmodified.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt >= p.MaxRetries {
			break
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			if p.logger != nil {
				p.logger.Debug().
					Int("attempt", attempt+1).
					Err(lastErr).
					Msg("Non-retryable error, failing immediately")
			}
			return lastErr
		}

		backoff := p.Backoff(attempt + 1)
		if p.logger != nil {
			p.logger.Debug().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying after backoff")
		}
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	if p.logger != nil {
		p.logger.Warn().
			Int("max_retries", p.MaxRetries).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}
	return lastErr
}

// sleepContext waits for d or until the context is cancelled.
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
