package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gomodule/redigo/redis"
)

// RedisOptions configures the redis connection pool.
type RedisOptions struct {
	Address     string
	Password    string
	DB          int
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// connPool is the part of *redis.Pool used by RedisStorage.
type connPool interface {
	GetContext(ctx context.Context) (redis.Conn, error)
	Close() error
}

// RedisStorage implements Store on top of a shared redis server, so every
// serving instance observes the same markers.
type RedisStorage struct {
	pool connPool
}

// NewRedisStorage creates a pooled redis store. Connections are dialed
// lazily, so an unreachable server surfaces on first use or Ping.
func NewRedisStorage(opts RedisOptions) *RedisStorage {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	pool := &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", opts.Address,
				redis.DialPassword(opts.Password),
				redis.DialDatabase(opts.DB),
				redis.DialConnectTimeout(dialTimeout),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisStorage{pool: pool}
}

func newRedisStorageWithPool(pool connPool) *RedisStorage {
	return &RedisStorage{pool: pool}
}

func (s *RedisStorage) do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "redis get connection")
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, cmd, args...)
	if err != nil && !errors.Is(err, redis.ErrNil) {
		return nil, errors.Wrapf(err, "redis %s", cmd)
	}
	return reply, err
}

// Set stores value with a millisecond-precision expiry.
func (s *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []interface{}{key, value}
	if ttl > 0 {
		ms := ttl.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		args = append(args, "PX", ms)
	}
	_, err := s.do(ctx, "SET", args...)
	return err
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := redis.Bytes(s.do(ctx, "GET", key))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStorage) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return redis.Int(s.do(ctx, "DEL", args...))
}

// TTL reads PTTL. Redis answers -2 for a missing key and -1 for a key
// without expiry; both map to zero.
func (s *RedisStorage) TTL(ctx context.Context, key string) (time.Duration, error) {
	ms, err := redis.Int64(s.do(ctx, "PTTL", key))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "PING")
	return err
}

func (s *RedisStorage) Close() error {
	return s.pool.Close()
}
