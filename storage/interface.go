package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("storage: closed")

// Store is a key-value store with per-key expiry. Implementations must be
// safe for concurrent use and treat a single Set or Get as atomic per key.
type Store interface {
	// Set stores value under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value and whether it exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// TTL returns the remaining time to live. Zero means missing, expired
	// or stored without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
