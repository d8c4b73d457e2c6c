package cache

import (
	"context"
	"fmt"
	"time"

	pkgerrors "labyrinth/pkg/errors"
)

// FixedWindowLimiter enforces per-key request counts over fixed windows in Redis.
type FixedWindowLimiter struct {
	counter      WindowCounter
	window       time.Duration
	redisTimeout time.Duration
}

func NewFixedWindowLimiter(counter WindowCounter, window, redisTimeout time.Duration) *FixedWindowLimiter {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &FixedWindowLimiter{counter: counter, window: window, redisTimeout: redisTimeout}
}

// Allow counts one request against key and fails with TooManyRequests once
// more than max requests landed in the current window.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.counter == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	count, err := l.counter.Hit(ctxCache, key, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
