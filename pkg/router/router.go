// Package router decides whether a statement goes to the leader or to a
// follower so that an identity reads its own recent writes.
//
// Writes always go to the leader. A read that needs fresh data goes to the
// leader only while the identity's last write is younger than the
// consistency window; everything else prefers a follower to keep load off
// the leader. The decision is a pure function of the request, the injected
// clock and the last-write marker.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"rywrouter/pkg/clock"
	"rywrouter/pkg/metrics"
	"rywrouter/pkg/replica"
)

// DefaultWindow is the consistency window used when none is configured.
const DefaultWindow = 5 * time.Second

// ErrInvalidWindow is returned by New for a non-positive window.
var ErrInvalidWindow = errors.New("router: consistency window must be positive")

// LastWrites looks up the time of an identity's most recent write.
// Implementations report failures as absent.
type LastWrites interface {
	GetLastWrite(ctx context.Context, id replica.Identity) (time.Time, bool)
}

// Reason explains a routing decision.
type Reason string

const (
	ReasonWrite         Reason = "write"
	ReasonStaleOK       Reason = "stale_ok"
	ReasonNoIdentity    Reason = "no_identity"
	ReasonNoMarker      Reason = "no_marker"
	ReasonWithinWindow  Reason = "within_window"
	ReasonWindowElapsed Reason = "window_elapsed"
)

// Decision is the full outcome of a read routing decision.
type Decision struct {
	Role   replica.Role
	Reason Reason
	// LastWrite and Elapsed are set only when a marker was found.
	LastWrite time.Time
	Elapsed   time.Duration
}

// Options configures a Router.
type Options struct {
	Window time.Duration
	// FailClosedUnknownIdentity routes fresh reads without an identity to
	// the leader. The default sends them to a follower, which may serve
	// stale data.
	FailClosedUnknownIdentity bool
	Clock                     clock.Clock
	Logger                    *slog.Logger
	Metrics                   *metrics.Metrics
}

// Router is stateless per call and safe for concurrent use.
type Router struct {
	lastWrites LastWrites
	window     time.Duration
	failClosed bool
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New returns a Router consulting lastWrites.
func New(lastWrites LastWrites, opts Options) (*Router, error) {
	if lastWrites == nil {
		return nil, errors.New("router: last-write source is required")
	}
	if opts.Window <= 0 {
		return nil, errors.Wrapf(ErrInvalidWindow, "got %s", opts.Window)
	}
	r := &Router{
		lastWrites: lastWrites,
		window:     opts.Window,
		failClosed: opts.FailClosedUnknownIdentity,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if r.clock == nil {
		r.clock = clock.System{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Window returns the consistency window.
func (r *Router) Window() time.Duration { return r.window }

// RouteForWrite always returns the leader.
func (r *Router) RouteForWrite() replica.Role {
	r.metrics.ObserveDecision(replica.Leader.String(), string(ReasonWrite))
	return replica.Leader
}

// RouteForRead returns the role a read for id should use.
func (r *Router) RouteForRead(ctx context.Context, id replica.Identity, requiresFreshness bool) replica.Role {
	return r.Decide(ctx, id, requiresFreshness).Role
}

// Decide is RouteForRead with the reasoning attached.
func (r *Router) Decide(ctx context.Context, id replica.Identity, requiresFreshness bool) Decision {
	d := r.decide(ctx, id, requiresFreshness)
	r.metrics.ObserveDecision(d.Role.String(), string(d.Reason))
	return d
}

func (r *Router) decide(ctx context.Context, id replica.Identity, requiresFreshness bool) Decision {
	if !requiresFreshness {
		return Decision{Role: replica.Follower, Reason: ReasonStaleOK}
	}

	if !id.Known() {
		if r.failClosed {
			return Decision{Role: replica.Leader, Reason: ReasonNoIdentity}
		}
		r.logger.Debug("fresh read without identity routed to follower")
		return Decision{Role: replica.Follower, Reason: ReasonNoIdentity}
	}

	last, ok := r.lastWrites.GetLastWrite(ctx, id)
	if !ok {
		return Decision{Role: replica.Follower, Reason: ReasonNoMarker}
	}

	// A marker from the future (clock skew between instances) gives a
	// negative elapsed time and keeps the read on the leader.
	elapsed := r.clock.Now().Sub(last)
	d := Decision{LastWrite: last, Elapsed: elapsed}
	if elapsed < r.window {
		d.Role, d.Reason = replica.Leader, ReasonWithinWindow
	} else {
		d.Role, d.Reason = replica.Follower, ReasonWindowElapsed
	}
	return d
}
