package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto"
)

// ErrRejected is returned when ristretto drops a write, either through its
// admission policy or because its set buffer was full.
var ErrRejected = errors.New("storage: write rejected by cache")

// RistrettoStorage is an in-process Store with bounded memory. Like
// MemoryKV it is not shared between instances.
type RistrettoStorage struct {
	cache  *ristretto.Cache
	closed atomic.Bool
}

// NewRistrettoStorage creates a cache holding roughly maxCost bytes of values.
func NewRistrettoStorage(maxCost int64) (*RistrettoStorage, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create ristretto cache")
	}
	return &RistrettoStorage{cache: rc}, nil
}

func (s *RistrettoStorage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Set stores a copy of value and waits for the write to become visible.
func (s *RistrettoStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	v := append([]byte{}, value...)
	var ok bool
	if ttl > 0 {
		ok = s.cache.SetWithTTL(key, v, int64(len(v)), ttl)
	} else {
		ok = s.cache.Set(key, v, int64(len(v)))
	}
	if !ok {
		return ErrRejected
	}
	s.cache.Wait()
	return nil
}

func (s *RistrettoStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, b...), true, nil
}

func (s *RistrettoStorage) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if _, ok := s.cache.Get(k); ok {
			n++
		}
		s.cache.Del(k)
	}
	return n, nil
}

func (s *RistrettoStorage) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	ttl, ok := s.cache.GetTTL(key)
	if !ok || ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RistrettoStorage) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *RistrettoStorage) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cache.Close()
	}
	return nil
}
