package cache

import (
	"context"
	"time"
)

// NullCache disables caching entirely: artifacts and fetched origin
// payloads are never stored, so every cycle renders from scratch and a
// failing origin has no stale payload to fall back on. Selected by the
// "none" cache backend; also the stand-in when a component is built
// without a cache.
type NullCache struct{}

// NewNullCache creates a cache that stores nothing.
func NewNullCache() Cache {
	return &NullCache{}
}

// Get always misses.
func (c *NullCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

// Set discards the entry.
func (c *NullCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return nil
}

// Delete does nothing; nothing is ever stored.
func (c *NullCache) Delete(ctx context.Context, key string) error {
	return nil
}

// Close does nothing.
func (c *NullCache) Close() error {
	return nil
}

// Ensure NullCache implements Cache.
var _ Cache = (*NullCache)(nil)
