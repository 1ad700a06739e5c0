// Package cachemanager provides a typed in-memory cache and a read-through
// wrapper around a loader function.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager stores values of one type under string keys.
type CacheManager[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	Flush(ctx context.Context)
}
