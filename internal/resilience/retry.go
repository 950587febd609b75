package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffLinear waits attempt * InitialBackoff (1x, 2x, 3x ...).
	BackoffLinear Backoff = iota
	// BackoffExponential waits InitialBackoff * Multiplier^(attempt-1).
	BackoffExponential
)

// ParseBackoff maps a config value to a Backoff. Empty means linear.
func ParseBackoff(s string) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return BackoffLinear, nil
	case "exponential":
		return BackoffExponential, nil
	default:
		return BackoffLinear, eris.Errorf("resilience: unknown backoff %q", s)
	}
}

// RetryConfig controls retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 4.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Strategy picks linear or exponential growth. Default: linear.
	Strategy Backoff

	// Multiplier scales the backoff after each attempt when Strategy is
	// BackoffExponential. Default: 2.0.
	Multiplier float64

	// RateLimitMultiplier stretches the delay when the last error was a
	// rate limit. Default: 2.0.
	RateLimitMultiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%).
	JitterFraction float64

	// ShouldRetry optionally overrides the default check. If nil,
	// IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// RetriesToAttempts converts a "max retries" setting into MaxAttempts.
func RetriesToAttempts(maxRetries int) int {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return maxRetries + 1
}

// DefaultRetryConfig mirrors the batch defaults: 3 retries, 2s linear steps.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         4,
		InitialBackoff:      2 * time.Second,
		MaxBackoff:          30 * time.Second,
		Strategy:            BackoffLinear,
		Multiplier:          2.0,
		RateLimitMultiplier: 2.0,
	}
}

// DoVal executes fn with retry logic according to cfg and preserves the
// value of the successful call. Only errors accepted by ShouldRetry are
// retried. Context cancellation stops retries immediately.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

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

		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		delay := computeBackoff(attempt, cfg, lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.RateLimitMultiplier < 1 {
		cfg.RateLimitMultiplier = 1
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// computeBackoff returns the sleep before retry number attempt+1.
func computeBackoff(attempt int, cfg RetryConfig, lastErr error) time.Duration {
	var delay float64
	switch cfg.Strategy {
	case BackoffExponential:
		delay = float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	default:
		delay = float64(cfg.InitialBackoff) * float64(attempt+1)
	}

	if errors.Is(lastErr, ErrRateLimited) || Classify(lastErr) == KindRateLimited {
		delay *= cfg.RateLimitMultiplier
	}

	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", Classify(err).String()),
			zap.Error(err),
		)
	}
}
