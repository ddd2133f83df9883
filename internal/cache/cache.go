package cache

import (
	"context"
	"time"
)

// Cache is the key/value store used to memoize completion responses.
//
// Entries carry optional tags (e.g. "model:gpt-4") enabling bulk
// invalidation; tag invalidation is a management operation and never sits on
// the request hot path.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, key string) error

	// InvalidateTag removes every entry carrying tag and returns the number
	// of entries removed.
	InvalidateTag(ctx context.Context, tag string) (int, error)
}
