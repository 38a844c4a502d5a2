package app

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rywrouter/config"
	"rywrouter/pkg/clock"
	"rywrouter/pkg/replica"
	"rywrouter/pkg/router"
	"rywrouter/storage"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Consistency: config.ConsistencyConfig{Window: 5 * time.Second, Retention: 10 * time.Minute},
		Cache:       config.CacheConfig{Backend: storage.BackendMemory, Timeout: 250 * time.Millisecond},
	}
}

func TestOpenRouting_Memory(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	r, err := OpenRouting(memoryConfig(), clk, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	id := replica.Identity("u1")

	assert.Equal(t, replica.Follower, r.Router.RouteForRead(ctx, id, true))
	r.Tracker.RecordWrite(ctx, id)
	assert.Equal(t, replica.Leader, r.Router.RouteForRead(ctx, id, true))

	clk.Advance(5 * time.Second)
	assert.Equal(t, replica.Follower, r.Router.RouteForRead(ctx, id, true))
}

func TestOpenRouting_Errors(t *testing.T) {
	cfg := memoryConfig()
	cfg.Consistency.Window = 0
	_, err := OpenRouting(cfg, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.True(t, errors.Is(err, router.ErrInvalidWindow))

	cfg = memoryConfig()
	cfg.Cache.Backend = "memcached"
	_, err = OpenRouting(cfg, nil, nil, nil)
	assert.True(t, errors.Is(err, storage.ErrUnknownBackend))
}
