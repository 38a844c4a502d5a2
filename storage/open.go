package storage

import (
	"time"

	"github.com/cockroachdb/errors"

	"rywrouter/pkg/clock"
)

// Backend names accepted by Open.
const (
	BackendRedis     = "redis"
	BackendBadger    = "badger"
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Options selects and configures a Store backend.
type Options struct {
	Backend string
	// DataDir is used by the badger backend.
	DataDir string
	// MaxCost bounds the ristretto backend in bytes.
	MaxCost int64
	Redis   RedisOptions
	// Clock drives expiry for the memory backend.
	Clock clock.Clock
}

// Open creates the Store named by opts.Backend. Only redis is shared
// between processes; the other backends suit a single instance or tests.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		if opts.Redis.Address == "" {
			return nil, errors.New("storage: redis address is required")
		}
		if opts.Redis.IdleTimeout == 0 {
			opts.Redis.IdleTimeout = 240 * time.Second
		}
		return NewRedisStorage(opts.Redis), nil
	case BackendBadger:
		if opts.DataDir == "" {
			return nil, errors.New("storage: badger data dir is required")
		}
		return NewBadgerStorage(opts.DataDir)
	case BackendMemory:
		return NewMemoryKV(opts.Clock), nil
	case BackendRistretto:
		return NewRistrettoStorage(opts.MaxCost)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", opts.Backend)
	}
}

// Shared reports whether a backend is visible to every serving instance.
func Shared(backend string) bool {
	return backend == BackendRedis || backend == ""
}
