package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rywrouter/config"
	"rywrouter/pkg/app"
	"rywrouter/pkg/clock"
	"rywrouter/storage"
)

func useMemoryRouting(t *testing.T) *clock.Manual {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := &config.Config{
		Consistency: config.ConsistencyConfig{Window: 5 * time.Second, Retention: 10 * time.Minute},
		Cache:       config.CacheConfig{Backend: storage.BackendMemory},
	}
	r, err := app.OpenRouting(cfg, clk, nil, nil)
	require.NoError(t, err)

	prev := openRouting
	openRouting = func(io.Writer) (*app.Routing, func() error, error) {
		return r, func() error { return nil }, nil
	}
	t.Cleanup(func() {
		openRouting = prev
		_ = r.Close()
	})
	return clk
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMarkerRecordAndGet(t *testing.T) {
	clk := useMemoryRouting(t)

	out, err := execute(t, "marker", "get", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "last write: (none)")
	assert.Contains(t, out, "follower (no_marker)")

	out, err = execute(t, "marker", "record", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded 2024-03-01T12:00:00Z (expires in 10m0s)")

	clk.Advance(2 * time.Second)
	out, err = execute(t, "marker", "get", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "(2s ago)")
	assert.Contains(t, out, "leader (within_window)")
}

func TestMarkerRecord_RequiresIdentity(t *testing.T) {
	useMemoryRouting(t)

	_, err := execute(t, "marker", "record", "")
	assert.Error(t, err)

	_, err = execute(t, "marker", "record")
	assert.Error(t, err)
}

func TestRoute(t *testing.T) {
	clk := useMemoryRouting(t)

	_, err := execute(t, "marker", "record", "u1")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "stale ok", args: []string{"route", "u1"}, want: "follower (stale_ok)"},
		{name: "fresh", args: []string{"route", "u1", "--fresh"}, want: "leader (within_window)"},
		{name: "no identity", args: []string{"route", "--fresh"}, want: "follower (no_identity)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}

	clk.Advance(5 * time.Second)
	out, err := execute(t, "route", "u1", "--fresh")
	require.NoError(t, err)
	assert.Contains(t, out, "follower (window_elapsed)")
}
