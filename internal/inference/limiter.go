package inference

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter that slows down after 429s and
// recovers gradually on success. The rate stays within [initial/4, initial].
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter allowing rps requests per second. A
// non-positive rps disables limiting.
func NewAdaptiveLimiter(rps float64, burst int) *AdaptiveLimiter {
	if rps <= 0 {
		return &AdaptiveLimiter{limiter: rate.NewLimiter(rate.Inf, 0), initialRate: rate.Inf, minRate: rate.Inf, currentRate: rate.Inf}
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(rps)
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(r, burst),
		initialRate: r,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the limiter allows a request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, up to the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf || a.currentRate >= a.initialRate {
		return
	}
	a.currentRate = min(a.currentRate*1.2, a.initialRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("inference: reducing request rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
