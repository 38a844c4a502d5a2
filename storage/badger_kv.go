package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage implements Store using an embedded BadgerDB. Entries carry a
// native badger TTL, which has one second resolution.
type BadgerStorage struct {
	db   *badger.DB
	stop chan struct{}
	once sync.Once
}

// NewBadgerStorage opens (or creates) a BadgerDB in dataDir.
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger db at %s", dataDir)
	}

	s := &BadgerStorage{db: db, stop: make(chan struct{})}
	go s.runGC()

	return s, nil
}

// runGC runs value log garbage collection until the store is closed.
func (s *BadgerStorage) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite is the common case and not worth reporting.
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Set stores a key-value pair with optional TTL.
func (s *BadgerStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	return s.wrap(err, "badger set")
}

// Get retrieves a value by key.
func (s *BadgerStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, s.wrap(err, "badger get")
	}

	return value, found, nil
}

// Delete removes one or more keys.
func (s *BadgerStorage) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if _, err := txn.Get([]byte(key)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err, "badger delete")
	}

	return deleted, nil
}

// TTL returns the remaining time to live for key.
func (s *BadgerStorage) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var ttl time.Duration
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			if d := time.Until(time.Unix(int64(exp), 0)); d > 0 {
				ttl = d
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err, "badger ttl")
	}

	return ttl, nil
}

func (s *BadgerStorage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (s *BadgerStorage) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.db.Close()
	})
	return err
}

func (s *BadgerStorage) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return errors.Wrap(err, op)
}
