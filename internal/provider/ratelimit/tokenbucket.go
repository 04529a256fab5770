package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"quotewatch/internal/provider"
)

// TokenBucket gates a fetcher with a token bucket limiter.
type TokenBucket struct {
	F provider.Fetcher
	L *rate.Limiter
}

// NewTokenBucket allows perMinute requests per minute with the given burst.
func NewTokenBucket(f provider.Fetcher, perMinute, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	return &TokenBucket{F: f, L: rate.NewLimiter(limit, burst)}
}

func (t *TokenBucket) Name() string { return t.F.Name() }

func (t *TokenBucket) Fetch(ctx context.Context, symbol string) ([]byte, error) {
	if t.L != nil {
		if err := t.L.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.F.Fetch(ctx, symbol)
}
