package invoker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds the request rate against a provider.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
}

// RateLimitedProvider wraps a Provider with a token-bucket limiter so a wide
// fan-out cannot exceed the backend's quota.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

func NewRateLimitedProvider(next Provider, cfg RateLimiterConfig) (*RateLimitedProvider, error) {
	if next == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive")
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	return &RateLimitedProvider{next: next, limiter: limiter}, nil
}

func (p *RateLimitedProvider) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.next.Invoke(ctx, req)
}
