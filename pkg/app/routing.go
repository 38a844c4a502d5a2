// Package app assembles the routing components from configuration. Both
// binaries build the same store, tracker and router through it.
package app

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"rywrouter/config"
	"rywrouter/pkg/clock"
	"rywrouter/pkg/metrics"
	"rywrouter/pkg/router"
	"rywrouter/pkg/tracker"
	"rywrouter/storage"
)

// Routing is the marker store plus the tracker and router built on it.
type Routing struct {
	Store   storage.Store
	Tracker *tracker.Tracker
	Router  *router.Router
}

// OpenRouting builds Routing from an already validated configuration.
// clk may be nil for the system clock.
func OpenRouting(cfg *config.Config, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) (*Routing, error) {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(storage.Options{
		Backend: cfg.Cache.Backend,
		DataDir: cfg.Cache.Badger.DataDir,
		MaxCost: cfg.Cache.MaxCost,
		Redis: storage.RedisOptions{
			Address:     cfg.Cache.Redis.Address,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			MaxIdle:     cfg.Cache.Redis.MaxIdle,
			MaxActive:   cfg.Cache.Redis.MaxActive,
			IdleTimeout: cfg.Cache.Redis.IdleTimeout,
		},
		Clock: clk,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open marker store")
	}
	if !storage.Shared(cfg.Cache.Backend) {
		logger.Warn("marker store is local to this process; run a single instance",
			"backend", cfg.Cache.Backend)
	}

	timeout := cfg.Cache.Timeout
	if timeout == 0 {
		timeout = -1
	}
	tr := tracker.New(store, tracker.Options{
		Retention: cfg.Consistency.Retention,
		Timeout:   timeout,
		KeyPrefix: cfg.Cache.KeyPrefix,
		Clock:     clk,
		Logger:    logger.With("component", "tracker"),
		Metrics:   m,
	})

	rt, err := router.New(tr, router.Options{
		Window:                    cfg.Consistency.Window,
		FailClosedUnknownIdentity: cfg.Consistency.FailClosedUnknownIdentity,
		Clock:                     clk,
		Logger:                    logger.With("component", "router"),
		Metrics:                   m,
	})
	if err != nil {
		_ = store.Close()
		return nil, errors.Mark(err, config.ErrInvalidConfig)
	}

	return &Routing{Store: store, Tracker: tr, Router: rt}, nil
}

// Close releases the marker store.
func (r *Routing) Close() error { return r.Store.Close() }
