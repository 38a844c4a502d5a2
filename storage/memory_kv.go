package storage

import (
	"context"
	"sync"
	"time"

	"rywrouter/pkg/clock"
)

// MemoryKV provides an in-memory KV store with TTL. It is local to the
// process, so it only gives read-your-writes guarantees to a single instance.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string]memEntry
	clock  clock.Clock
	stop   chan struct{}
	once   sync.Once
	closed bool
}

type memEntry struct {
	val       []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryKV returns a MemoryKV that expires entries against clk. A nil
// clock uses the system clock.
func NewMemoryKV(clk clock.Clock) *MemoryKV {
	if clk == nil {
		clk = clock.System{}
	}
	m := &MemoryKV{data: make(map[string]memEntry), clock: clk, stop: make(chan struct{})}
	go m.janitor()
	return m
}

func (m *MemoryKV) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
	})
	return nil
}

func (m *MemoryKV) janitor() {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			now := m.clock.Now()
			m.mu.Lock()
			for k, e := range m.data {
				if e.expired(now) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.clock.Now().Add(ttl)
	}
	m.data[key] = memEntry{val: append([]byte(nil), value...), expiresAt: exp}
	return nil
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, false, ErrClosed
	}
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.clock.Now()) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := m.data[key]; ok && cur.expired(m.clock.Now()) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *MemoryKV) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.clock.Now()
	cnt := 0
	for _, k := range keys {
		if e, ok := m.data[k]; ok {
			delete(m.data, k)
			if !e.expired(now) {
				cnt++
			}
		}
	}
	return cnt, nil
}

func (m *MemoryKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || e.expiresAt.IsZero() {
		return 0, nil
	}
	now := m.clock.Now()
	if e.expired(now) {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (m *MemoryKV) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of stored entries, including expired ones the
// janitor has not removed yet.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
