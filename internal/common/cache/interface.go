package cache

import (
	"context"
	"time"
)

// Store is the string key-value surface used for status and maze lookups.
type Store interface {
	// Get returns "" and no error for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// WindowCounter counts events per key over a window opened by the first event.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Cache is everything the grader needs from Redis.
type Cache interface {
	Store
	WindowCounter
	Close() error
}
