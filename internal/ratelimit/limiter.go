package ratelimit

import (
	"context"

	"github.com/hooklane/hooklane/internal/config"
)

// ExecuteLimiter throttles agent executions per caller account. With no
// redis configured it is disabled and every request passes.
type ExecuteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewExecuteLimiter(cfg config.Config, bucket *TokenBucket) *ExecuteLimiter {
	return &ExecuteLimiter{
		bucket: bucket,
		rate:   cfg.ExecuteRatePerSecond,
		burst:  cfg.ExecuteRateBurst,
	}
}

func (l *ExecuteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil && l.rate > 0 && l.burst > 0
}

func (l *ExecuteLimiter) Allow(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, "hooklane:ratelimit:execute:"+accountID, l.rate, l.burst)
}
