// Package store provides the shared mutable state seam for the gateway:
// a TTL-bounded key/value store with atomic check-and-insert semantics.
// The nonce replay store and the idempotency cache are both built on it,
// so an in-memory map and a networked Redis instance are interchangeable.
package store

import (
	"context"
	"time"
)

// KV is a TTL-bounded key/value store with atomic check-and-insert.
type KV interface {
	// CheckAndInsert atomically inserts value under key with the given TTL
	// if the key is absent. When the key already exists, the stored value
	// is returned and inserted is false; the existing entry is untouched.
	CheckAndInsert(ctx context.Context, key string, value []byte, ttl time.Duration) (existing []byte, inserted bool, err error)

	// Get returns the value stored under key, or found=false if absent
	// or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes the entry under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
