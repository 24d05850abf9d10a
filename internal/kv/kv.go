// Package kv defines the shared key/value store contract used by the
// authority token broker and the DSS federation coordinator for token
// and ISA TTL caching, plus two implementations: a Redis-backed store
// for production and an in-memory store for tests and offline use.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal get/set-with-expiry/exists/scan contract. Values
// are opaque byte strings; callers serialize their own JSON. Scan walks
// keys sharing a prefix; listing the full keyspace is deliberately not
// part of the contract (the Redis KEYS command is O(n) and blocking).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, prefix string) ([]string, error)
}
