// Package hotstore is the typed facade over the hot tier. All hot-tier I/O
// in the engine funnels through the Store interface; the Redis
// implementation lives in redis.go.
package hotstore

import (
	"context"
	"time"
)

// Store is the narrow hot-tier surface the engine consumes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a value with no TTL.
	Set(ctx context.Context, key, value string) error

	// SetEx writes a value with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys and returns the number actually removed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ScanKeys enumerates keys matching a glob pattern without blocking the
	// whole keyspace.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// PromoteDirty atomically deletes dirtyKey and writes value under
	// cleanKey with the given TTL. No other client may observe an
	// intermediate state.
	PromoteDirty(ctx context.Context, dirtyKey, cleanKey, value string, ttl time.Duration) error

	// SubscribeExpired yields the name of every key that expires in the hot
	// tier. The subscription is established before the call returns.
	SubscribeExpired(ctx context.Context) (ExpirySubscription, error)
}

// ExpirySubscription is a live stream of expired key names.
type ExpirySubscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan string
	Close() error
}
