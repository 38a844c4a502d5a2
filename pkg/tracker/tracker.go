// Package tracker records, per identity, when that identity last wrote to
// the leader. Markers live in a shared storage.Store with a fixed retention
// so that every serving instance sees every other instance's writes.
//
// Marker store failures never reach the caller: a failed lookup reads as
// "no recent write" and a failed record is dropped after logging. Both only
// weaken read-your-writes for the affected request.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"rywrouter/pkg/clock"
	"rywrouter/pkg/metrics"
	"rywrouter/pkg/replica"
	"rywrouter/storage"
)

const (
	// DefaultRetention is how long a marker is kept.
	DefaultRetention = 10 * time.Minute
	// DefaultTimeout bounds a single marker store call.
	DefaultTimeout = 250 * time.Millisecond
)

// ErrNoIdentity is returned by Record and Lookup for an empty identity.
var ErrNoIdentity = errors.New("tracker: identity is required")

// Options configures a Tracker. Zero values pick the defaults.
type Options struct {
	Retention time.Duration
	// Timeout bounds each store call. Negative disables the bound.
	Timeout   time.Duration
	KeyPrefix string
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Tracker maintains last-write markers. It holds no mutable state of its
// own and is safe for concurrent use.
type Tracker struct {
	store     storage.Store
	clock     clock.Clock
	retention time.Duration
	timeout   time.Duration
	prefix    string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New returns a Tracker backed by store.
func New(store storage.Store, opts Options) *Tracker {
	t := &Tracker{
		store:     store,
		clock:     opts.Clock,
		retention: opts.Retention,
		timeout:   opts.Timeout,
		prefix:    opts.KeyPrefix,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if t.clock == nil {
		t.clock = clock.System{}
	}
	if t.retention <= 0 {
		t.retention = DefaultRetention
	}
	if t.timeout == 0 {
		t.timeout = DefaultTimeout
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Key returns the store key holding the marker for id.
func (t *Tracker) Key(id replica.Identity) string {
	return t.prefix + "user:" + string(id) + ":last_write_utc"
}

// Retention returns the marker TTL.
func (t *Tracker) Retention() time.Duration { return t.retention }

func (t *Tracker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout < 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

// RecordWrite sets the marker for id to now. It is meant to be called right
// after a write commits on the leader. The store call is detached from ctx
// cancellation so a client hanging up after its write still leaves a
// marker behind. Failures are logged and dropped.
func (t *Tracker) RecordWrite(ctx context.Context, id replica.Identity) {
	if !id.Known() {
		t.logger.Debug("skipping last-write marker without identity")
		return
	}
	if _, err := t.Record(context.WithoutCancel(ctx), id); err != nil {
		t.metrics.TrackerError("record")
		t.logger.Warn("failed to record last-write marker",
			"identity", string(id), "error", err)
	}
}

// Record sets the marker for id to now and returns the recorded time.
// Unlike RecordWrite it reports store errors.
func (t *Tracker) Record(ctx context.Context, id replica.Identity) (time.Time, error) {
	if !id.Known() {
		return time.Time{}, ErrNoIdentity
	}
	now := t.clock.Now().UTC()

	ctx, cancel := t.bound(ctx)
	defer cancel()

	if err := t.store.Set(ctx, t.Key(id), encode(now), t.retention); err != nil {
		return time.Time{}, errors.Wrapf(err, "record marker for %s", id)
	}
	return now, nil
}

// GetLastWrite returns the time of id's last recorded write, or false if
// there is none, it expired, or the store could not be read.
func (t *Tracker) GetLastWrite(ctx context.Context, id replica.Identity) (time.Time, bool) {
	if !id.Known() {
		return time.Time{}, false
	}
	ts, ok, err := t.Lookup(ctx, id)
	if err != nil {
		t.metrics.TrackerError("get")
		if ctx.Err() != nil {
			t.logger.Debug("last-write lookup abandoned", "identity", string(id), "error", err)
		} else {
			t.logger.Warn("last-write lookup failed, treating as absent",
				"identity", string(id), "error", err)
		}
		return time.Time{}, false
	}
	return ts, ok
}

// Lookup reads the marker for id and reports store and decoding errors.
func (t *Tracker) Lookup(ctx context.Context, id replica.Identity) (time.Time, bool, error) {
	if !id.Known() {
		return time.Time{}, false, ErrNoIdentity
	}

	ctx, cancel := t.bound(ctx)
	defer cancel()

	start := time.Now()
	raw, ok, err := t.store.Get(ctx, t.Key(id))
	t.metrics.ObserveLookup(time.Since(start))
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "lookup marker for %s", id)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	ts, err := decode(raw)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "decode marker for %s", id)
	}
	return ts, true, nil
}

// Ping checks the marker store.
func (t *Tracker) Ping(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.store.Ping(ctx)
}

func encode(ts time.Time) []byte {
	return []byte(ts.UTC().Format(time.RFC3339Nano))
}

func decode(raw []byte) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
