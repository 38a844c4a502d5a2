package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rywrouter/pkg/clock"
	"rywrouter/pkg/replica"
	"rywrouter/pkg/tracker"
	"rywrouter/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// countingLastWrites serves fixed markers and counts lookups.
type countingLastWrites struct {
	markers map[replica.Identity]time.Time
	calls   atomic.Int32
}

func (c *countingLastWrites) GetLastWrite(_ context.Context, id replica.Identity) (time.Time, bool) {
	c.calls.Add(1)
	ts, ok := c.markers[id]
	return ts, ok
}

type fixture struct {
	router  *Router
	tracker *tracker.Tracker
	clock   *clock.Manual
}

func newFixture(t *testing.T, window, retention time.Duration) fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	store := storage.NewMemoryKV(clk)
	t.Cleanup(func() { _ = store.Close() })

	tr := tracker.New(store, tracker.Options{Retention: retention, Clock: clk})
	r, err := New(tr, Options{Window: window, Clock: clk})
	require.NoError(t, err)
	return fixture{router: r, tracker: tr, clock: clk}
}

func TestNew_RejectsBadWindow(t *testing.T) {
	_, err := New(&countingLastWrites{}, Options{Window: 0})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = New(&countingLastWrites{}, Options{Window: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = New(nil, Options{Window: time.Second})
	assert.Error(t, err)
}

func TestRouteForWrite(t *testing.T) {
	f := newFixture(t, 5*time.Second, 10*time.Minute)
	assert.Equal(t, replica.Leader, f.router.RouteForWrite())

	f.tracker.RecordWrite(context.Background(), "u1")
	assert.Equal(t, replica.Leader, f.router.RouteForWrite())
}

func TestRouteForRead_NoMarker(t *testing.T) {
	f := newFixture(t, 5*time.Second, 10*time.Minute)
	for _, id := range []replica.Identity{"u1", "u2", "11111111-1111-1111-1111-111111111111"} {
		assert.Equal(t, replica.Follower, f.router.RouteForRead(context.Background(), id, true))
	}
}

func TestRouteForRead_ImmediatelyAfterWrite(t *testing.T) {
	f := newFixture(t, 5*time.Second, 10*time.Minute)
	ctx := context.Background()

	f.tracker.RecordWrite(ctx, "u1")
	d := f.router.Decide(ctx, "u1", true)
	assert.Equal(t, replica.Leader, d.Role)
	assert.Equal(t, ReasonWithinWindow, d.Reason)
	assert.Equal(t, t0, d.LastWrite)
	assert.Zero(t, d.Elapsed)
}

func TestRouteForRead_WindowBoundary(t *testing.T) {
	const window = 5 * time.Second
	tests := []struct {
		name string
		age  time.Duration
		want replica.Role
	}{
		{name: "just written", age: 0, want: replica.Leader},
		{name: "window minus epsilon", age: window - time.Nanosecond, want: replica.Leader},
		{name: "exactly window", age: window, want: replica.Follower},
		{name: "window plus epsilon", age: window + time.Nanosecond, want: replica.Follower},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, window, 10*time.Minute)
			ctx := context.Background()

			f.tracker.RecordWrite(ctx, "u1")
			f.clock.Set(t0.Add(tt.age))

			assert.Equal(t, tt.want, f.router.RouteForRead(ctx, "u1", true))
		})
	}
}

func TestRouteForRead_StaleOKNeverConsultsTracker(t *testing.T) {
	lw := &countingLastWrites{markers: map[replica.Identity]time.Time{"u1": t0}}
	clk := clock.NewManual(t0)
	r, err := New(lw, Options{Window: 5 * time.Second, Clock: clk})
	require.NoError(t, err)

	for _, id := range []replica.Identity{"u1", "u2", ""} {
		d := r.Decide(context.Background(), id, false)
		assert.Equal(t, replica.Follower, d.Role)
		assert.Equal(t, ReasonStaleOK, d.Reason)
	}
	assert.Zero(t, lw.calls.Load())
}

func TestRouteForRead_UnknownIdentity(t *testing.T) {
	lw := &countingLastWrites{}
	r, err := New(lw, Options{Window: 5 * time.Second})
	require.NoError(t, err)

	d := r.Decide(context.Background(), "", true)
	assert.Equal(t, replica.Follower, d.Role)
	assert.Equal(t, ReasonNoIdentity, d.Reason)
	assert.Zero(t, lw.calls.Load())

	closed, err := New(lw, Options{Window: 5 * time.Second, FailClosedUnknownIdentity: true})
	require.NoError(t, err)
	assert.Equal(t, replica.Leader, closed.RouteForRead(context.Background(), "", true))
}

func TestRouteForRead_FutureMarkerStaysOnLeader(t *testing.T) {
	lw := &countingLastWrites{markers: map[replica.Identity]time.Time{"u1": t0.Add(time.Second)}}
	r, err := New(lw, Options{Window: 5 * time.Second, Clock: clock.NewManual(t0)})
	require.NoError(t, err)

	assert.Equal(t, replica.Leader, r.RouteForRead(context.Background(), "u1", true))
}

func TestScenario_WindowAndRetention(t *testing.T) {
	f := newFixture(t, 5*time.Second, 600*time.Second)
	ctx := context.Background()

	f.tracker.RecordWrite(ctx, "u1")

	f.clock.Set(t0.Add(3 * time.Second))
	assert.Equal(t, replica.Leader, f.router.RouteForRead(ctx, "u1", true))

	f.clock.Set(t0.Add(6 * time.Second))
	assert.Equal(t, replica.Follower, f.router.RouteForRead(ctx, "u1", true))

	f.clock.Set(t0.Add(601 * time.Second))
	_, ok := f.tracker.GetLastWrite(ctx, "u1")
	assert.False(t, ok)
}

// failingStore makes every marker lookup fail.
type failingStore struct{ storage.Store }

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("i/o timeout")
}

func TestScenario_CacheFailureFallsBackToFollower(t *testing.T) {
	clk := clock.NewManual(t0)
	mem := storage.NewMemoryKV(clk)
	t.Cleanup(func() { _ = mem.Close() })

	tr := tracker.New(failingStore{Store: mem}, tracker.Options{Clock: clk})
	tr.RecordWrite(context.Background(), "u1")

	r, err := New(tr, Options{Window: 5 * time.Second, Clock: clk})
	require.NoError(t, err)

	d := r.Decide(context.Background(), "u1", true)
	assert.Equal(t, replica.Follower, d.Role)
	assert.Equal(t, ReasonNoMarker, d.Reason)
}
